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

// Package eligibility decides whether a principal may receive a payout and
// at which tier, from ecosystem membership, whitelist, upgrade and vouch
// status
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/faucet/access"
	"github.com/blinklabs-io/faucet/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultCooldown  = 24 * time.Hour
	UpgradedCooldown = 12 * time.Hour
)

// MembershipChecker answers ecosystem membership
type MembershipChecker interface {
	HasMembership(ctx context.Context, username string) (bool, error)
}

// VouchStatus reports the vouch state of a principal
type VouchStatus interface {
	IsVouched(ctx context.Context, username string) (bool, error)
	HasPendingRequest(ctx context.Context, username string) (bool, error)
}

type EngineConfig struct {
	Membership   MembershipChecker
	Access       *access.Records
	Vouches      VouchStatus
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// FullAmount and ReducedAmount are in lovelace
	FullAmount       uint64
	ReducedAmount    uint64
	DefaultCooldown  time.Duration
	UpgradedCooldown time.Duration
}

type Engine struct {
	config    EngineConfig
	logger    *slog.Logger
	decisions *prometheus.CounterVec
}

// Flags are the independent status bits of a principal
type Flags struct {
	Ecosystem   bool `json:"ecosystem"`
	Whitelisted bool `json:"whitelisted"`
	Upgraded    bool `json:"upgraded"`
	Vouched     bool `json:"vouched"`
}

type Decision struct {
	Username string `json:"username"`
	Flags
	Eligible     bool          `json:"eligible"`
	Tier         types.Tier    `json:"tier"`
	Amount       uint64        `json:"amount"`
	Cooldown     time.Duration `json:"cooldown"`
	VouchPending bool          `json:"vouchPending"`
}

// Err returns the *types.NotEligibleError for an ineligible decision, or nil
func (d Decision) Err() error {
	if d.Eligible {
		return nil
	}
	reason := types.ReasonNoMembership
	if d.VouchPending {
		reason = types.ReasonVouchPending
	}
	return &types.NotEligibleError{Username: d.Username, Reason: reason}
}

func New(cfg EngineConfig) *Engine {
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = DefaultCooldown
	}
	if cfg.UpgradedCooldown <= 0 {
		cfg.UpgradedCooldown = UpgradedCooldown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	e := &Engine{
		config: cfg,
		logger: cfg.Logger.With("component", "eligibility"),
	}
	if cfg.PromRegistry != nil {
		e.decisions = promauto.With(cfg.PromRegistry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_eligibility_decisions_total",
				Help: "eligibility decisions by tier",
			},
			[]string{"tier"},
		)
	}
	return e
}

// Evaluate computes the eligibility decision for username. Upgraded status
// always wins the tier and cooldown: upgraded gets the full amount and the
// upgraded cooldown, whitelisted or vouched gets the reduced amount, and
// ecosystem membership alone gets the full amount. Both of the latter use
// the default cooldown.
//
// A membership lookup failure is returned as an error only when no other
// status makes the principal eligible.
func (e *Engine) Evaluate(
	ctx context.Context,
	username string,
) (Decision, error) {
	u := types.NormalizeUsername(username)
	d := Decision{Username: u, Tier: types.TierNone}
	var err error
	if d.Upgraded, err = e.config.Access.IsUpgraded(ctx, u); err != nil {
		return d, fmt.Errorf("check upgraded: %w", err)
	}
	if d.Whitelisted, err = e.config.Access.IsWhitelisted(ctx, u); err != nil {
		return d, fmt.Errorf("check whitelist: %w", err)
	}
	if d.Vouched, err = e.config.Vouches.IsVouched(ctx, u); err != nil {
		return d, fmt.Errorf("check vouched: %w", err)
	}
	ecosystem, membershipErr := e.config.Membership.HasMembership(ctx, u)
	d.Ecosystem = membershipErr == nil && ecosystem

	switch {
	case d.Upgraded:
		d.Tier = types.TierFull
		d.Amount = e.config.FullAmount
		d.Cooldown = e.config.UpgradedCooldown
	case d.Whitelisted || d.Vouched:
		d.Tier = types.TierReduced
		d.Amount = e.config.ReducedAmount
		d.Cooldown = e.config.DefaultCooldown
	case d.Ecosystem:
		d.Tier = types.TierFull
		d.Amount = e.config.FullAmount
		d.Cooldown = e.config.DefaultCooldown
	}
	d.Eligible = d.Tier != types.TierNone

	if membershipErr != nil {
		if !d.Eligible {
			return d, membershipErr
		}
		e.logger.Warn(
			"membership lookup failed, deciding on other status",
			"username", u,
			"error", membershipErr,
		)
	}
	if !d.Eligible {
		if d.VouchPending, err = e.config.Vouches.HasPendingRequest(ctx, u); err != nil {
			return d, fmt.Errorf("check vouch request: %w", err)
		}
	}
	if e.decisions != nil {
		e.decisions.WithLabelValues(string(d.Tier)).Inc()
	}
	return d, nil
}

// CheckEligibility reports whether username may receive a payout, ignoring
// cooldown. It has no side effects.
func (e *Engine) CheckEligibility(
	ctx context.Context,
	username string,
) (bool, error) {
	d, err := e.Evaluate(ctx, username)
	if err != nil {
		return false, err
	}
	return d.Eligible, nil
}

// IsTrustedVoucher reports whether username may vouch for others. Only
// ecosystem members and upgraded users qualify. voucherType is the status
// recorded on the vouch, preferring upgraded.
func (e *Engine) IsTrustedVoucher(
	ctx context.Context,
	username string,
) (trusted bool, voucherType types.VoucherType, err error) {
	u := types.NormalizeUsername(username)
	upgraded, err := e.config.Access.IsUpgraded(ctx, u)
	if err != nil {
		return false, "", fmt.Errorf("check upgraded: %w", err)
	}
	if upgraded {
		return true, types.VoucherTypeUpgraded, nil
	}
	ecosystem, err := e.config.Membership.HasMembership(ctx, u)
	if err != nil {
		return false, "", err
	}
	if ecosystem {
		return true, types.VoucherTypeEcosystem, nil
	}
	return false, "", nil
}

// HasDirectEligibility reports whether username is eligible without a vouch,
// through ecosystem membership, the whitelist or upgraded status. A
// membership lookup failure counts as not a member.
func (e *Engine) HasDirectEligibility(
	ctx context.Context,
	username string,
) (bool, error) {
	u := types.NormalizeUsername(username)
	if ok, err := e.config.Access.IsUpgraded(ctx, u); err != nil || ok {
		return ok, err
	}
	if ok, err := e.config.Access.IsWhitelisted(ctx, u); err != nil || ok {
		return ok, err
	}
	ecosystem, err := e.config.Membership.HasMembership(ctx, u)
	if err != nil {
		if errors.Is(err, types.ErrUpstreamUnavailable) {
			e.logger.Warn(
				"membership lookup failed, treating as not a member",
				"username", u,
				"error", err,
			)
			return false, nil
		}
		return false, err
	}
	return ecosystem, nil
}
