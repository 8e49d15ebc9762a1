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

package faucet

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/blinklabs-io/faucet/payout"
	"github.com/blinklabs-io/faucet/store"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

type Config struct {
	promRegistry    prometheus.Registerer
	logger          *slog.Logger
	httpClient      *http.Client
	store           store.Store
	paymentProvider payout.Provider
	storePlugin     string
	network         string
	listenAddress   string
	adminToken      string
	manifestURL     string
	paymentPrimary  string
	paymentFallback string
	paymentAPIKey   string
	githubAPIURL    string
	githubToken     string
	fullAmount      uint64
	reducedAmount   uint64
	rateLimit       rate.Limit
	rateBurst       int
	// Durations (0 = use the component default)
	defaultCooldown   time.Duration
	upgradedCooldown  time.Duration
	upstreamTimeout   time.Duration
	membershipTTL     time.Duration
	refreshInterval   time.Duration
	identityTTL       time.Duration
	shutdownTimeout   time.Duration
	autoApprove       bool
	trustForwardedFor bool
	tracing           bool
	tracingStdout     bool
}

func (c *Config) validate() error {
	if c.store == nil && c.storePlugin == "" {
		return errors.New("no store or store plugin configured")
	}
	if c.paymentProvider == nil && c.paymentPrimary == "" {
		return errors.New("no payment provider configured")
	}
	if c.fullAmount == 0 || c.reducedAmount == 0 {
		return errors.New("payout amounts must be positive")
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the faucet config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new faucet config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
		network: payout.NetworkPreprod,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithHTTPClient specifies the client used for upstream HTTP calls
func WithHTTPClient(client *http.Client) ConfigOptionFunc {
	return func(c *Config) {
		c.httpClient = client
	}
}

// WithStore specifies an already open store to use instead of a plugin. The
// faucet does not close it.
func WithStore(s store.Store) ConfigOptionFunc {
	return func(c *Config) {
		c.store = s
	}
}

// WithStorePlugin specifies the store plugin to start
func WithStorePlugin(name string) ConfigOptionFunc {
	return func(c *Config) {
		c.storePlugin = name
	}
}

// WithNetwork specifies the ledger network that payout addresses must belong to
func WithNetwork(network string) ConfigOptionFunc {
	return func(c *Config) {
		c.network = network
	}
}

// WithAmounts specifies the full and reduced tier payouts in lovelace
func WithAmounts(full uint64, reduced uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.fullAmount = full
		c.reducedAmount = reduced
	}
}

func WithCooldowns(def time.Duration, upgraded time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.defaultCooldown = def
		c.upgradedCooldown = upgraded
	}
}

// WithUpstreamTimeout bounds each call to the manifest host, GitHub and the
// payment provider
func WithUpstreamTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.upstreamTimeout = timeout
	}
}

func WithMembershipManifestURL(url string) ConfigOptionFunc {
	return func(c *Config) {
		c.manifestURL = url
	}
}

func WithMembershipCacheTTL(ttl time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.membershipTTL = ttl
	}
}

// WithMembershipRefreshInterval enables the background manifest refresher
func WithMembershipRefreshInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.refreshInterval = interval
	}
}

// WithPaymentProvider specifies the transfer provider directly
func WithPaymentProvider(p payout.Provider) ConfigOptionFunc {
	return func(c *Config) {
		c.paymentProvider = p
	}
}

// WithPaymentEndpoints specifies the HTTP wallet backends. The fallback is
// optional.
func WithPaymentEndpoints(
	primary string,
	fallback string,
	apiKey string,
) ConfigOptionFunc {
	return func(c *Config) {
		c.paymentPrimary = primary
		c.paymentFallback = fallback
		c.paymentAPIKey = apiKey
	}
}

func WithGitHub(apiURL string, token string, cacheTTL time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.githubAPIURL = apiURL
		c.githubToken = token
		c.identityTTL = cacheTTL
	}
}

// WithListenAddress specifies the API listen address
func WithListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.listenAddress = addr
	}
}

// WithAdminToken enables the admin API with the given bearer token
func WithAdminToken(token string) ConfigOptionFunc {
	return func(c *Config) {
		c.adminToken = token
	}
}

func WithAutoApproveAccessRequests(autoApprove bool) ConfigOptionFunc {
	return func(c *Config) {
		c.autoApprove = autoApprove
	}
}

func WithTrustForwardedFor(trust bool) ConfigOptionFunc {
	return func(c *Config) {
		c.trustForwardedFor = trust
	}
}

// WithRateLimit specifies the per-client API rate limit
func WithRateLimit(rps float64, burst int) ConfigOptionFunc {
	return func(c *Config) {
		c.rateLimit = rate.Limit(rps)
		c.rateBurst = burst
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP, configured through the standard OTEL_* environment variables
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. Default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
