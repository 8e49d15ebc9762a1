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

// Package faucet assembles the gated test-token faucet: eligibility from
// ecosystem membership, curated lists and vouches, per-user cooldowns,
// payouts through a wallet backend, and the HTTP API in front of them.
package faucet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/blinklabs-io/faucet/access"
	"github.com/blinklabs-io/faucet/admin"
	"github.com/blinklabs-io/faucet/api"
	"github.com/blinklabs-io/faucet/cooldown"
	"github.com/blinklabs-io/faucet/eligibility"
	"github.com/blinklabs-io/faucet/event"
	"github.com/blinklabs-io/faucet/history"
	"github.com/blinklabs-io/faucet/identity"
	"github.com/blinklabs-io/faucet/internal/keylock"
	"github.com/blinklabs-io/faucet/membership"
	"github.com/blinklabs-io/faucet/payout"
	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/store/plugin"
	"github.com/blinklabs-io/faucet/vouch"
)

const defaultShutdownTimeout = 30 * time.Second

type Faucet struct {
	config        Config
	eventBus      *event.EventBus
	store         store.Store
	storePlugin   plugin.Plugin
	records       *access.Records
	cooldown      *cooldown.Ledger
	history       *history.Log
	membership    *membership.Lookup
	eligibility   *eligibility.Engine
	vouches       *vouch.Manager
	payouts       *payout.Orchestrator
	admin         *admin.Operations
	identity      *identity.Resolver
	api           *api.Server
	shutdownFuncs []func(context.Context) error
	done          chan struct{}
	openOnce      sync.Once
	openErr       error
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Faucet, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{}
	}
	if cfg.shutdownTimeout <= 0 {
		cfg.shutdownTimeout = defaultShutdownTimeout
	}
	return &Faucet{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		done:     make(chan struct{}),
	}, nil
}

// Open connects the store and builds the components without starting any
// background work. Start calls it; the admin CLI uses it alone.
func (f *Faucet) Open() error {
	f.openOnce.Do(func() {
		f.openErr = f.open()
	})
	return f.openErr
}

func (f *Faucet) open() error {
	cfg := f.config
	if err := f.openStore(); err != nil {
		return err
	}
	validator, err := payout.NewAddressValidator(cfg.network)
	if err != nil {
		return err
	}
	locker := keylock.New()
	f.records = access.New(access.RecordsConfig{
		Store:  f.store,
		Logger: cfg.logger,
	})
	f.cooldown = cooldown.New(cooldown.LedgerConfig{
		Store:        f.store,
		Logger:       cfg.logger,
		PromRegistry: cfg.promRegistry,
	})
	f.history = history.New(history.LogConfig{
		Store:  f.store,
		Logger: cfg.logger,
	})
	f.membership = membership.New(membership.LookupConfig{
		Store:           f.store,
		Logger:          cfg.logger,
		PromRegistry:    cfg.promRegistry,
		EventBus:        f.eventBus,
		HTTPClient:      cfg.httpClient,
		ManifestURL:     cfg.manifestURL,
		CacheTTL:        cfg.membershipTTL,
		Timeout:         cfg.upstreamTimeout,
		RefreshInterval: cfg.refreshInterval,
	})
	f.eligibility = eligibility.New(eligibility.EngineConfig{
		Membership:       f.membership,
		Access:           f.records,
		Vouches:          vouch.NewStatus(f.store),
		Logger:           cfg.logger,
		PromRegistry:     cfg.promRegistry,
		FullAmount:       cfg.fullAmount,
		ReducedAmount:    cfg.reducedAmount,
		DefaultCooldown:  cfg.defaultCooldown,
		UpgradedCooldown: cfg.upgradedCooldown,
	})
	f.vouches = vouch.New(vouch.ManagerConfig{
		Store:        f.store,
		Eligibility:  f.eligibility,
		Cooldown:     f.cooldown,
		Locker:       locker,
		EventBus:     f.eventBus,
		Logger:       cfg.logger,
		PromRegistry: cfg.promRegistry,
	})
	f.payouts = payout.New(payout.OrchestratorConfig{
		Validator:    validator,
		Eligibility:  f.eligibility,
		Cooldown:     f.cooldown,
		History:      f.history,
		Provider:     f.paymentProvider(),
		Locker:       locker,
		EventBus:     f.eventBus,
		Logger:       cfg.logger,
		PromRegistry: cfg.promRegistry,
	})
	f.admin = admin.New(admin.OperationsConfig{
		Access:       f.records,
		Vouches:      f.vouches,
		Cooldown:     f.cooldown,
		History:      f.history,
		Locker:       locker,
		EventBus:     f.eventBus,
		Logger:       cfg.logger,
		PromRegistry: cfg.promRegistry,
	})
	f.identity = identity.NewResolver(identity.ResolverConfig{
		Store:      f.store,
		Logger:     cfg.logger,
		HTTPClient: cfg.httpClient,
		APIURL:     cfg.githubAPIURL,
		Token:      cfg.githubToken,
		Timeout:    cfg.upstreamTimeout,
		CacheTTL:   cfg.identityTTL,
	})
	f.api = api.New(
		api.Config{
			ListenAddress:             cfg.listenAddress,
			AdminToken:                cfg.adminToken,
			AutoApproveAccessRequests: cfg.autoApprove,
			TrustForwardedFor:         cfg.trustForwardedFor,
			RateLimit:                 cfg.rateLimit,
			RateBurst:                 cfg.rateBurst,
			Logger:                    cfg.logger,
			PromRegistry:              cfg.promRegistry,
			EventBus:                  f.eventBus,
		},
		api.Services{
			Identity:    f.identity,
			Eligibility: f.eligibility,
			Cooldown:    f.cooldown,
			Payouts:     f.payouts,
			Access:      f.records,
			Vouches:     f.vouches,
			Admin:       f.admin,
			History:     f.history,
		},
	)
	return nil
}

// openStore uses the configured store, or starts the store plugin behind
// an in-memory fallback
func (f *Faucet) openStore() error {
	if f.config.store != nil {
		f.store = f.config.store
		return nil
	}
	p, err := plugin.StartPlugin(f.config.storePlugin)
	if err != nil {
		return err
	}
	f.storePlugin = p
	opts := []store.FallbackOptionFunc{
		store.WithFallbackLogger(f.config.logger),
	}
	if f.config.promRegistry != nil {
		opts = append(opts, store.WithFallbackPromRegistry(f.config.promRegistry))
	}
	f.store = store.NewFallback(p, opts...)
	f.config.logger.Info(
		"opened store",
		"component", "faucet",
		"plugin", f.config.storePlugin,
	)
	return nil
}

func (f *Faucet) paymentProvider() payout.Provider {
	if f.config.paymentProvider != nil {
		return f.config.paymentProvider
	}
	primary := payout.NewHTTPProvider(payout.HTTPProviderConfig{
		Name:    "primary",
		URL:     f.config.paymentPrimary,
		APIKey:  f.config.paymentAPIKey,
		Client:  f.config.httpClient,
		Timeout: f.config.upstreamTimeout,
	})
	if f.config.paymentFallback == "" {
		return primary
	}
	fallback := payout.NewHTTPProvider(payout.HTTPProviderConfig{
		Name:    "fallback",
		URL:     f.config.paymentFallback,
		APIKey:  f.config.paymentAPIKey,
		Client:  f.config.httpClient,
		Timeout: f.config.upstreamTimeout,
	})
	return payout.NewFallbackProvider(primary, fallback, f.config.logger)
}

// Start opens the faucet and starts the membership refresher and the API
// server. The API server stops when ctx is done.
func (f *Faucet) Start(ctx context.Context) error {
	// Configure tracing
	if f.config.tracing {
		if err := f.setupTracing(); err != nil {
			return err
		}
	}
	if err := f.Open(); err != nil {
		return err
	}
	f.subscribeAudit()
	if err := f.membership.Start(); err != nil {
		return err
	}
	f.shutdownFuncs = append(f.shutdownFuncs, func(context.Context) error {
		return f.membership.Stop()
	})
	if err := f.api.Start(ctx); err != nil {
		return err
	}
	f.shutdownFuncs = append(f.shutdownFuncs, f.api.Stop)
	return nil
}

// Run starts the faucet and blocks until ctx is done or Stop is called
func (f *Faucet) Run(ctx context.Context) error {
	if err := f.Start(ctx); err != nil {
		return errors.Join(err, f.Stop())
	}
	select {
	case <-ctx.Done():
		return f.Stop()
	case <-f.done:
		return nil
	}
}

func (f *Faucet) Stop() error {
	var err error
	f.shutdownOnce.Do(func() {
		err = f.shutdown()
	})
	return err
}

func (f *Faucet) shutdown() error {
	ctx, cancel := context.WithTimeout(
		context.Background(),
		f.config.shutdownTimeout,
	)
	defer cancel()

	var err error
	f.config.logger.Debug("starting graceful shutdown", "component", "faucet")

	// Stop in reverse start order: API first, store last
	for i := len(f.shutdownFuncs) - 1; i >= 0; i-- {
		if fnErr := f.shutdownFuncs[i](ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	f.shutdownFuncs = nil

	if f.eventBus != nil {
		f.eventBus.Stop()
	}
	if f.storePlugin != nil {
		if stopErr := f.storePlugin.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("store shutdown: %w", stopErr))
		}
	}

	f.config.logger.Debug("graceful shutdown complete", "component", "faucet")
	close(f.done)
	return err
}

// Admin returns the operator corrections, for the admin CLI. Open must have
// succeeded.
func (f *Faucet) Admin() *admin.Operations {
	return f.admin
}

// Membership returns the ecosystem membership lookup. Open must have
// succeeded.
func (f *Faucet) Membership() *membership.Lookup {
	return f.membership
}

// Eligibility returns the eligibility engine. Open must have succeeded.
func (f *Faucet) Eligibility() *eligibility.Engine {
	return f.eligibility
}

// APIAddress returns the bound API listen address once started
func (f *Faucet) APIAddress() string {
	if f.api == nil {
		return ""
	}
	return f.api.Addr()
}
