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

// Package membership answers whether a GitHub user belongs to the ecosystem,
// based on the repository owners listed in an ecosystem manifest. The parsed
// dataset is cached in the store and refreshed at most once per CacheTTL.
package membership

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

	"github.com/blinklabs-io/faucet/event"
	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultManifestURL = "https://raw.githubusercontent.com/electric-capital/crypto-ecosystems/master/data/ecosystems/c/cardano.toml"
	DefaultCacheTTL    = time.Hour
	DefaultTimeout     = 10 * time.Second

	serviceName = "membership"

	// manifests are a few MB at most
	maxManifestSize = 64 << 20
)

type LookupConfig struct {
	Store        store.Store
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	EventBus     *event.EventBus
	HTTPClient   *http.Client
	ManifestURL  string
	// CacheTTL is how long a fetched dataset is served before a refetch
	CacheTTL time.Duration
	// Timeout bounds a single manifest fetch
	Timeout time.Duration
	// RefreshInterval enables the background refresher when positive
	RefreshInterval time.Duration
}

type Lookup struct {
	config   LookupConfig
	logger   *slog.Logger
	group    singleflight.Group
	metrics  lookupMetrics
	snapshot *Dataset
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.RWMutex
	runMu    sync.Mutex
}

type lookupMetrics struct {
	refreshes *prometheus.CounterVec
	stale     prometheus.Counter
	usernames prometheus.Gauge
}

// Stats describes the result of a refresh
type Stats struct {
	Usernames int
	Repos     int
}

func New(cfg LookupConfig) *Lookup {
	if cfg.ManifestURL == "" {
		cfg.ManifestURL = DefaultManifestURL
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	l := &Lookup{
		config: cfg,
		logger: cfg.Logger.With("component", "membership"),
	}
	if cfg.PromRegistry != nil {
		factory := promauto.With(cfg.PromRegistry)
		l.metrics.refreshes = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_membership_refresh_total",
				Help: "ecosystem manifest refreshes by result",
			},
			[]string{"result"},
		)
		l.metrics.stale = factory.NewCounter(prometheus.CounterOpts{
			Name: "faucet_membership_stale_total",
			Help: "lookups served from the last known dataset after a failed refresh",
		})
		l.metrics.usernames = factory.NewGauge(prometheus.GaugeOpts{
			Name: "faucet_membership_usernames",
			Help: "GitHub owners in the current ecosystem dataset",
		})
	}
	return l
}

// HasMembership reports whether username owns a repository listed in the
// ecosystem manifest. It returns an *types.UpstreamError only when the
// manifest cannot be fetched and no earlier dataset is available.
func (l *Lookup) HasMembership(
	ctx context.Context,
	username string,
) (bool, error) {
	ds, err := l.Dataset(ctx)
	if err != nil {
		return false, err
	}
	return ds.Contains(username), nil
}

// Dataset returns the current dataset, fetching the manifest on a cache miss
func (l *Lookup) Dataset(ctx context.Context) (*Dataset, error) {
	if ds, ok := l.cached(ctx); ok {
		return ds, nil
	}
	ds, _, err := l.refresh(ctx)
	if err == nil {
		return ds, nil
	}
	if stale, ok := l.lastKnown(ctx); ok {
		l.logger.Warn(
			"manifest refresh failed, using last known dataset",
			"error", err,
		)
		if l.metrics.stale != nil {
			l.metrics.stale.Inc()
		}
		return stale, nil
	}
	return nil, err
}

// Refresh fetches and parses the manifest and repopulates the cache
// regardless of its age
func (l *Lookup) Refresh(ctx context.Context) (Stats, error) {
	_, stats, err := l.refresh(ctx)
	return stats, err
}

// cached returns the dataset from the TTL-bound cache keys
func (l *Lookup) cached(ctx context.Context) (*Dataset, bool) {
	usernames, found, err := store.GetJSON[[]string](
		ctx,
		l.config.Store,
		types.EcosystemUsernamesKey,
	)
	if err != nil {
		l.logger.Warn("membership cache read failed", "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	repos, _, err := store.GetJSON[[]string](
		ctx,
		l.config.Store,
		types.EcosystemReposKey,
	)
	if err != nil {
		l.logger.Warn("membership repo cache read failed", "error", err)
	}
	return newDataset(usernames, repos), true
}

// lastKnown returns the dataset of the last successful refresh, from this
// process or from the untimed snapshot in the store
func (l *Lookup) lastKnown(ctx context.Context) (*Dataset, bool) {
	l.mu.RLock()
	ds := l.snapshot
	l.mu.RUnlock()
	if ds != nil {
		return ds, true
	}
	usernames, found, err := store.GetJSON[[]string](
		ctx,
		l.config.Store,
		types.EcosystemSnapshotKey,
	)
	if err != nil || !found {
		return nil, false
	}
	repos, _, _ := store.GetJSON[[]string](
		ctx,
		l.config.Store,
		types.EcosystemReposKey,
	)
	return newDataset(usernames, repos), true
}

type refreshResult struct {
	dataset *Dataset
	stats   Stats
}

func (l *Lookup) refresh(ctx context.Context) (*Dataset, Stats, error) {
	ch := l.group.DoChan("refresh", func() (any, error) {
		// Shared by every waiter, so it must outlive any single caller
		fetchCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx),
			l.config.Timeout,
		)
		defer cancel()
		return l.doRefresh(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return nil, Stats{}, upstreamError(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, Stats{}, res.Err
		}
		r := res.Val.(refreshResult)
		return r.dataset, r.stats, nil
	}
}

func (l *Lookup) doRefresh(ctx context.Context) (refreshResult, error) {
	data, err := l.fetch(ctx)
	if err != nil {
		l.countRefresh("error")
		return refreshResult{}, upstreamError(err)
	}
	usernames, repos, err := parseManifest(data)
	if err != nil {
		l.countRefresh("error")
		return refreshResult{}, upstreamError(err)
	}
	ds := newDataset(usernames, repos)
	stats := Stats{Usernames: len(usernames), Repos: len(repos)}

	// Cache write failures still leave the in-process snapshot usable
	s := l.config.Store
	if err := store.SetJSON(ctx, s, types.EcosystemReposKey, repos, 0); err != nil {
		l.logger.Warn("failed to cache ecosystem repos", "error", err)
	}
	if err := store.SetJSON(ctx, s, types.EcosystemSnapshotKey, usernames, 0); err != nil {
		l.logger.Warn("failed to store ecosystem snapshot", "error", err)
	}
	if err := store.SetJSON(ctx, s, types.EcosystemUsernamesKey, usernames, l.config.CacheTTL); err != nil {
		l.logger.Warn("failed to cache ecosystem usernames", "error", err)
	}

	l.mu.Lock()
	l.snapshot = ds
	l.mu.Unlock()

	l.countRefresh("ok")
	if l.metrics.usernames != nil {
		l.metrics.usernames.Set(float64(stats.Usernames))
	}
	l.logger.Info(
		"ecosystem manifest refreshed",
		"usernames", stats.Usernames,
		"repos", stats.Repos,
	)
	if l.config.EventBus != nil {
		l.config.EventBus.Publish(
			event.MembershipRefreshedEventType,
			event.NewEvent(
				event.MembershipRefreshedEventType,
				event.MembershipRefreshedEvent{
					Usernames: stats.Usernames,
					Repos:     stats.Repos,
				},
			),
		)
	}
	return refreshResult{dataset: ds, stats: stats}, nil
}

func (l *Lookup) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		l.config.ManifestURL,
		nil,
	)
	if err != nil {
		return nil, err
	}
	resp, err := l.config.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status fetching manifest: %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
}

func (l *Lookup) countRefresh(result string) {
	if l.metrics.refreshes != nil {
		l.metrics.refreshes.WithLabelValues(result).Inc()
	}
}

func upstreamError(err error) error {
	return &types.UpstreamError{
		Service: serviceName,
		Timeout: isTimeout(err),
		Err:     err,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Start launches the background refresher when RefreshInterval is set
func (l *Lookup) Start() error {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.config.RefreshInterval <= 0 || l.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.wg.Add(1)
	go l.refreshLoop(ctx)
	return nil
}

// Stop halts the background refresher and waits for it to exit
func (l *Lookup) Stop() error {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.cancel == nil {
		return nil
	}
	l.cancel()
	l.wg.Wait()
	l.cancel = nil
	return nil
}

func (l *Lookup) refreshLoop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.config.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Refresh(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("scheduled manifest refresh failed", "error", err)
			}
		}
	}
}
