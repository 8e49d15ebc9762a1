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

// Package cooldown tracks when each principal may next receive a payout.
//
// Reads fail open: an entry that cannot be read or decoded is treated as no
// cooldown, so a storage outage never locks users out. Every fail-open read
// is logged at Warn and counted, because it also lets a user bypass the
// cooldown while the store is down.
package cooldown

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type LedgerConfig struct {
	Store        store.Store
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// Now overrides the clock, for tests
	Now func() time.Time
}

type Ledger struct {
	store   store.Store
	logger  *slog.Logger
	now     func() time.Time
	metrics ledgerMetrics
}

type ledgerMetrics struct {
	failOpen prometheus.Counter
	sets     prometheus.Counter
	resets   prometheus.Counter
}

func New(cfg LedgerConfig) *Ledger {
	l := &Ledger{
		store:  cfg.Store,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if l.logger == nil {
		l.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	l.logger = l.logger.With("component", "cooldown")
	if l.now == nil {
		l.now = time.Now
	}
	if cfg.PromRegistry != nil {
		factory := promauto.With(cfg.PromRegistry)
		l.metrics.failOpen = factory.NewCounter(prometheus.CounterOpts{
			Name: "faucet_cooldown_fail_open_total",
			Help: "cooldown reads that failed and were treated as no cooldown",
		})
		l.metrics.sets = factory.NewCounter(prometheus.CounterOpts{
			Name: "faucet_cooldown_set_total",
			Help: "cooldown windows started",
		})
		l.metrics.resets = factory.NewCounter(prometheus.CounterOpts{
			Name: "faucet_cooldown_reset_total",
			Help: "cooldown windows cleared",
		})
	}
	return l
}

func (l *Ledger) failOpen(username string, err error) {
	l.logger.Warn(
		"cooldown read failed, treating as no cooldown",
		"username", username,
		"error", err,
	)
	if l.metrics.failOpen != nil {
		l.metrics.failOpen.Inc()
	}
}

// GetExpiry returns the end of the principal's cooldown window. ok is false
// when no entry exists or it cannot be read.
func (l *Ledger) GetExpiry(
	ctx context.Context,
	username string,
) (expiresAt time.Time, ok bool) {
	username = types.NormalizeUsername(username)
	entry, found, err := store.GetJSON[types.CooldownEntry](
		ctx,
		l.store,
		types.CooldownKey(username),
	)
	if err != nil {
		l.failOpen(username, err)
		return time.Time{}, false
	}
	if !found || entry.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return entry.ExpiresAt, true
}

// IsInCooldown reports whether the principal has an unexpired entry
func (l *Ledger) IsInCooldown(ctx context.Context, username string) bool {
	expiresAt, ok := l.GetExpiry(ctx, username)
	return ok && l.now().Before(expiresAt)
}

// Remaining returns the time left in the cooldown window, or zero
func (l *Ledger) Remaining(
	ctx context.Context,
	username string,
) time.Duration {
	expiresAt, ok := l.GetExpiry(ctx, username)
	if !ok {
		return 0
	}
	return max(0, expiresAt.Sub(l.now()))
}

// SetCooldown starts a window of length d from now. The store may drop the
// entry once the window has passed.
func (l *Ledger) SetCooldown(
	ctx context.Context,
	username string,
	d time.Duration,
) error {
	username = types.NormalizeUsername(username)
	entry := types.CooldownEntry{
		Username:  username,
		ExpiresAt: l.now().Add(d),
	}
	if err := store.SetJSON(ctx, l.store, types.CooldownKey(username), entry, d); err != nil {
		return err
	}
	if l.metrics.sets != nil {
		l.metrics.sets.Inc()
	}
	l.logger.Debug(
		"cooldown set",
		"username", username,
		"expires_at", entry.ExpiresAt,
	)
	return nil
}

// Reset removes any cooldown for the principal. Resetting a principal with
// no cooldown is not an error.
func (l *Ledger) Reset(ctx context.Context, username string) error {
	username = types.NormalizeUsername(username)
	if err := l.store.Delete(ctx, types.CooldownKey(username)); err != nil {
		return err
	}
	if l.metrics.resets != nil {
		l.metrics.resets.Inc()
	}
	return nil
}

// Clear is Reset that also reports whether an active entry was present, for
// callers that account for removals
func (l *Ledger) Clear(ctx context.Context, username string) (bool, error) {
	_, had := l.GetExpiry(ctx, username)
	if err := l.Reset(ctx, username); err != nil {
		return false, err
	}
	return had, nil
}
