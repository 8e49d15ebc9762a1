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

// Package vouch implements the peer vouch workflow. A principal without
// direct eligibility files a request, a trusted voucher (ecosystem member or
// upgraded user) vouches for it, and the vouch lasts until an explicit
// unvouch. At most one vouch exists per principal.
package vouch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/faucet/cooldown"
	"github.com/blinklabs-io/faucet/event"
	"github.com/blinklabs-io/faucet/internal/keylock"
	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AdminVoucher is recorded as the voucher of admin-approved vouches
const AdminVoucher = "ADMIN"

// EligibilityChecker is the part of the eligibility engine the vouch
// workflow consults
type EligibilityChecker interface {
	HasDirectEligibility(ctx context.Context, username string) (bool, error)
	IsTrustedVoucher(
		ctx context.Context,
		username string,
	) (bool, types.VoucherType, error)
}

type ManagerConfig struct {
	Store        store.Store
	Eligibility  EligibilityChecker
	Cooldown     *cooldown.Ledger
	Locker       *keylock.Locker
	EventBus     *event.EventBus
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// Now overrides the clock, for tests
	Now func() time.Time
}

type Manager struct {
	*Status
	config  ManagerConfig
	logger  *slog.Logger
	vouches *prometheus.CounterVec
}

func New(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Locker == nil {
		cfg.Locker = keylock.New()
	}
	m := &Manager{
		Status: NewStatus(cfg.Store),
		config: cfg,
		logger: cfg.Logger.With("component", "vouch"),
	}
	if cfg.PromRegistry != nil {
		m.vouches = promauto.With(cfg.PromRegistry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_vouch_operations_total",
				Help: "vouch workflow operations by kind",
			},
			[]string{"op"},
		)
	}
	return m
}

func (m *Manager) count(op string) {
	if m.vouches != nil {
		m.vouches.WithLabelValues(op).Inc()
	}
}

func normalize(username string) (string, error) {
	if !types.ValidUsername(username) {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidUsername, username)
	}
	return types.NormalizeUsername(username), nil
}

// CreateVouchRequest files a vouch request for username. It fails with
// ErrAlreadyEligible when the principal is eligible without a vouch and
// with ErrAlreadyVouched when a vouch exists. Requesting twice is a no-op
// and created is false.
func (m *Manager) CreateVouchRequest(
	ctx context.Context,
	username string,
) (created bool, err error) {
	u, err := normalize(username)
	if err != nil {
		return false, err
	}
	eligible, err := m.config.Eligibility.HasDirectEligibility(ctx, u)
	if err != nil {
		return false, err
	}
	if eligible {
		return false, types.ErrAlreadyEligible
	}
	vouched, err := m.IsVouched(ctx, u)
	if err != nil {
		return false, err
	}
	if vouched {
		return false, types.ErrAlreadyVouched
	}
	err = store.MutateJSON(
		ctx,
		m.config.Store,
		types.VouchRequestsKey,
		func(cur []types.VouchRequest, _ bool) ([]types.VouchRequest, error) {
			created = false
			for _, req := range cur {
				if types.NormalizeUsername(req.Username) == u {
					return nil, store.ErrSkipWrite
				}
			}
			created = true
			return append(cur, types.VouchRequest{
				Username:    u,
				RequestedAt: m.config.Now(),
			}), nil
		},
	)
	if err != nil {
		return false, err
	}
	if created {
		m.count("request")
		m.logger.Info("vouch requested", "username", u)
	}
	return created, nil
}

// VouchFor records voucher's vouch for target. The voucher must be an
// ecosystem member or upgraded user and may not vouch for themselves. The
// first vouch for a target wins and later ones fail with ErrAlreadyVouched.
// A successful vouch removes the pending request and clears the target's
// cooldown.
func (m *Manager) VouchFor(
	ctx context.Context,
	target string,
	voucher string,
) (types.VouchRecord, error) {
	t, err := normalize(target)
	if err != nil {
		return types.VouchRecord{}, err
	}
	v, err := normalize(voucher)
	if err != nil {
		return types.VouchRecord{}, err
	}
	if t == v {
		return types.VouchRecord{}, fmt.Errorf(
			"%w: cannot vouch for yourself",
			types.ErrVoucherNotEligible,
		)
	}
	trusted, voucherType, err := m.config.Eligibility.IsTrustedVoucher(ctx, v)
	if err != nil {
		return types.VouchRecord{}, err
	}
	if !trusted {
		return types.VouchRecord{}, types.ErrVoucherNotEligible
	}
	return m.vouch(ctx, t, v, voucherType)
}

// AdminVouch records an admin vouch for target, which counts as a vouch by
// an upgraded user
func (m *Manager) AdminVouch(
	ctx context.Context,
	target string,
) (types.VouchRecord, error) {
	t, err := normalize(target)
	if err != nil {
		return types.VouchRecord{}, err
	}
	return m.vouch(ctx, t, AdminVoucher, types.VoucherTypeUpgraded)
}

func (m *Manager) vouch(
	ctx context.Context,
	target string,
	voucher string,
	voucherType types.VoucherType,
) (types.VouchRecord, error) {
	unlock, err := m.config.Locker.Lock(ctx, target)
	if err != nil {
		return types.VouchRecord{}, err
	}
	defer unlock()

	rec := types.VouchRecord{
		Username:    target,
		VouchedBy:   voucher,
		VouchedAt:   m.config.Now(),
		VoucherType: voucherType,
	}
	err = store.MutateJSON(
		ctx,
		m.config.Store,
		types.VouchedUsersKey,
		func(cur []types.VouchRecord, _ bool) ([]types.VouchRecord, error) {
			for _, existing := range cur {
				if types.NormalizeUsername(existing.Username) == target {
					return nil, types.ErrAlreadyVouched
				}
			}
			return append(cur, rec), nil
		},
	)
	if err != nil {
		return types.VouchRecord{}, err
	}
	m.count("vouch")

	// The vouch is committed; the follow-up cleanup is logged on failure
	// rather than reported
	if _, err := m.removeRequest(ctx, target); err != nil {
		m.logger.Warn(
			"failed to remove vouch request",
			"username", target,
			"error", err,
		)
	}
	if m.config.Cooldown != nil {
		if err := m.config.Cooldown.Reset(ctx, target); err != nil {
			m.logger.Warn(
				"failed to reset cooldown after vouch",
				"username", target,
				"error", err,
			)
		}
	}
	m.logger.Info(
		"user vouched",
		"username", target,
		"vouched_by", voucher,
		"voucher_type", voucherType,
	)
	if m.config.EventBus != nil {
		m.config.EventBus.PublishAsync(
			event.VouchCreatedEventType,
			event.NewEvent(
				event.VouchCreatedEventType,
				event.VouchCreatedEvent{
					Username:    target,
					VouchedBy:   voucher,
					VoucherType: voucherType,
				},
			),
		)
	}
	return rec, nil
}

// Unvouch removes the vouch for target, failing with ErrNotVouched when
// there is none. Any cooldown cleared by the vouch stays cleared.
func (m *Manager) Unvouch(ctx context.Context, target string) error {
	removed, err := m.RemoveVouch(ctx, target)
	if err != nil {
		return err
	}
	if removed == 0 {
		return types.ErrNotVouched
	}
	return nil
}

// RemoveVouch removes any vouch for target and returns how many records were
// removed
func (m *Manager) RemoveVouch(ctx context.Context, target string) (int, error) {
	t := types.NormalizeUsername(target)
	removed, err := store.RemoveFromList(
		ctx,
		m.config.Store,
		types.VouchedUsersKey,
		func(rec types.VouchRecord) bool {
			return types.NormalizeUsername(rec.Username) == t
		},
	)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		m.count("unvouch")
		m.logger.Info("user unvouched", "username", t)
		if m.config.EventBus != nil {
			m.config.EventBus.PublishAsync(
				event.VouchRemovedEventType,
				event.NewEvent(
					event.VouchRemovedEventType,
					event.VouchRemovedEvent{Username: t},
				),
			)
		}
	}
	return removed, nil
}

// RejectVouchRequest drops any pending request for target. Rejecting a
// missing request is not an error.
func (m *Manager) RejectVouchRequest(
	ctx context.Context,
	target string,
) (int, error) {
	removed, err := m.removeRequest(ctx, types.NormalizeUsername(target))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		m.count("reject")
	}
	return removed, nil
}

func (m *Manager) removeRequest(ctx context.Context, u string) (int, error) {
	return store.RemoveFromList(
		ctx,
		m.config.Store,
		types.VouchRequestsKey,
		func(req types.VouchRequest) bool {
			return types.NormalizeUsername(req.Username) == u
		},
	)
}
