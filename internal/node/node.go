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

// Package node runs the faucet service from the loaded configuration, with
// the metrics listener and signal handling around it
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/blinklabs-io/faucet"
	"github.com/blinklabs-io/faucet/internal/config"
	"github.com/blinklabs-io/faucet/internal/secrets"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewFaucet builds a faucet from cfg. Secrets from the sops file, if
// configured, are applied to cfg first.
func NewFaucet(
	cfg *config.Config,
	logger *slog.Logger,
	registry prometheus.Registerer,
) (*faucet.Faucet, error) {
	if err := secrets.LoadInto(cfg); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}
	return faucet.New(faucet.NewConfig(Options(cfg, logger, registry)...))
}

// Options maps the loaded configuration onto faucet options
func Options(
	cfg *config.Config,
	logger *slog.Logger,
	registry prometheus.Registerer,
) []faucet.ConfigOptionFunc {
	return []faucet.ConfigOptionFunc{
		faucet.WithLogger(logger),
		faucet.WithPrometheusRegistry(registry),
		faucet.WithStorePlugin(cfg.StorePlugin),
		faucet.WithNetwork(cfg.Network),
		faucet.WithAmounts(cfg.FullAmount, cfg.ReducedAmount),
		faucet.WithCooldowns(cfg.DefaultCooldown, cfg.UpgradedCooldown),
		faucet.WithUpstreamTimeout(cfg.UpstreamTimeout),
		faucet.WithMembershipManifestURL(cfg.Membership.ManifestURL),
		faucet.WithMembershipCacheTTL(cfg.Membership.CacheTTL),
		faucet.WithMembershipRefreshInterval(cfg.Membership.RefreshInterval),
		faucet.WithPaymentEndpoints(
			cfg.Payment.PrimaryURL,
			cfg.Payment.FallbackURL,
			cfg.Payment.APIKey,
		),
		faucet.WithGitHub(cfg.GitHub.APIURL, cfg.GitHub.Token, cfg.GitHub.CacheTTL),
		faucet.WithListenAddress(
			net.JoinHostPort(cfg.BindAddr, strconv.FormatUint(uint64(cfg.Port), 10)),
		),
		faucet.WithAdminToken(cfg.AdminToken),
		faucet.WithAutoApproveAccessRequests(cfg.AutoApproveAccessRequests),
		faucet.WithTrustForwardedFor(cfg.TrustForwardedFor),
		faucet.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		faucet.WithTracing(cfg.Tracing),
		faucet.WithTracingStdout(cfg.TracingStdout),
		faucet.WithShutdownTimeout(cfg.ShutdownTimeout),
	}
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(
		"config loaded",
		"component", "node",
		"store", cfg.StorePlugin,
		"network", cfg.Network,
	)
	f, err := NewFaucet(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	// Metrics listener
	metricsAddr := net.JoinHostPort(
		cfg.BindAddr,
		strconv.FormatUint(uint64(cfg.MetricsPort), 10),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	metricsErr := make(chan error, 1)
	if cfg.MetricsPort > 0 {
		logger.Info(
			"serving prometheus metrics on "+metricsAddr,
			"component", "node",
		)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				metricsErr <- fmt.Errorf("metrics listener: %w", err)
			}
		}()
	}

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run faucet in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- f.Run(signalCtx)
	}()

	shutdownMetrics := func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			cfg.ShutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	select {
	case err := <-metricsErr:
		logger.Error("metrics server failed", "error", err)
		signalCtxStop()
		return errors.Join(err, <-errChan)
	case err := <-errChan:
		shutdownMetrics()
		if err != nil {
			logger.Error("faucet error", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil
	}
}
