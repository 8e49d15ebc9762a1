// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the faucet HTTP API. User endpoints trust the verified
// GitHub account id that the sign-in proxy places in the X-Verified-User-Id
// header; admin endpoints require the configured bearer token.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/blinklabs-io/faucet/access"
	"github.com/blinklabs-io/faucet/admin"
	"github.com/blinklabs-io/faucet/cooldown"
	"github.com/blinklabs-io/faucet/eligibility"
	"github.com/blinklabs-io/faucet/event"
	"github.com/blinklabs-io/faucet/history"
	"github.com/blinklabs-io/faucet/payout"
	"github.com/blinklabs-io/faucet/vouch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

const (
	// VerifiedUserHeader carries the GitHub account id set by the sign-in
	// proxy
	VerifiedUserHeader = "X-Verified-User-Id"

	DefaultListenAddress = ":8080"
	DefaultRateLimit     = rate.Limit(1)
	DefaultRateBurst     = 10
)

// UsernameResolver maps a verified account id to a username
type UsernameResolver interface {
	ResolveUsername(ctx context.Context, verifiedID string) (string, error)
}

// Services are the faucet components the API exposes
type Services struct {
	Identity    UsernameResolver
	Eligibility *eligibility.Engine
	Cooldown    *cooldown.Ledger
	Payouts     *payout.Orchestrator
	Access      *access.Records
	Vouches     *vouch.Manager
	Admin       *admin.Operations
	History     *history.Log
}

type Config struct {
	ListenAddress string
	// AdminToken enables the admin endpoints when set
	AdminToken string
	// AutoApproveAccessRequests whitelists every access request on arrival
	AutoApproveAccessRequests bool
	// TrustForwardedFor keys rate limits on X-Forwarded-For instead of the
	// peer address
	TrustForwardedFor bool
	RateLimit         rate.Limit
	RateBurst         int
	Logger            *slog.Logger
	PromRegistry      prometheus.Registerer
	EventBus          *event.EventBus
}

type Server struct {
	config     Config
	services   Services
	logger     *slog.Logger
	limiter    *ipRateLimiter
	handler    http.Handler
	httpServer *http.Server
	done       chan struct{}
	addr       string
	metrics    serverMetrics
	mu         sync.Mutex
}

type serverMetrics struct {
	requests    *prometheus.CounterVec
	rateLimited prometheus.Counter
}

func New(cfg Config, services Services) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultRateBurst
	}
	s := &Server{
		config:   cfg,
		services: services,
		logger:   cfg.Logger.With("component", "api"),
		limiter:  newIPRateLimiter(cfg.RateLimit, cfg.RateBurst),
	}
	if cfg.PromRegistry != nil {
		factory := promauto.With(cfg.PromRegistry)
		s.metrics.requests = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_api_requests_total",
				Help: "API requests by route and status code",
			},
			[]string{"route", "code"},
		)
		s.metrics.rateLimited = factory.NewCounter(prometheus.CounterOpts{
			Name: "faucet_api_rate_limited_total",
			Help: "API requests rejected by the per-IP rate limit",
		})
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.instrument(pattern, h))
	}
	handle("GET /health", s.handleHealth)

	handle("GET /api/v1/eligibility", s.user(s.handleEligibility))
	handle("POST /api/v1/payout", s.user(s.handlePayout))
	handle("POST /api/v1/access-requests", s.user(s.handleAccessRequest))
	handle("POST /api/v1/vouch-requests", s.user(s.handleCreateVouchRequest))
	handle("GET /api/v1/vouch-requests", s.user(s.handleListVouchRequests))
	handle("POST /api/v1/vouch", s.user(s.handleVouch))
	handle("GET /api/v1/airdrops", s.handleAirdrops)

	handle("GET /api/v1/admin/overview", s.admin(s.handleAdminOverview))
	handle("POST /api/v1/admin/dedupe", s.admin(s.handleAdminDedupe))
	handle("POST /api/v1/admin/approve", s.admin(s.handleAdminApprove))
	handle("POST /api/v1/admin/reject", s.admin(s.handleAdminReject))
	handle("POST /api/v1/admin/remove-user", s.admin(s.handleAdminRemoveUser))
	handle("POST /api/v1/admin/add-upgrade", s.admin(s.handleAdminAddUpgrade))
	handle("POST /api/v1/admin/remove-upgrade", s.admin(s.handleAdminRemoveUpgrade))
	handle("POST /api/v1/admin/approve-vouch", s.admin(s.handleAdminApproveVouch))
	handle("POST /api/v1/admin/reject-vouch", s.admin(s.handleAdminRejectVouch))
	handle("POST /api/v1/admin/unvouch", s.admin(s.handleAdminUnvouch))
	return s.rateLimit(mux)
}

// Handler returns the API handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in a background goroutine until Stop
// is called or ctx is done
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("server already started")
	}
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 60 * time.Second,
	}
	s.httpServer = server
	s.addr = ln.Addr().String()
	s.done = make(chan struct{})
	done := s.done

	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	s.logger.Info("API listener started on " + s.addr)

	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		//nolint:contextcheck
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			30*time.Second,
		)
		defer cancel()
		//nolint:contextcheck
		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error(
				"failed to shutdown API server on context cancellation",
				"error", err,
			)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Debug("shutting down API server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}
	return nil
}

// Addr returns the bound listen address of a started server
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
