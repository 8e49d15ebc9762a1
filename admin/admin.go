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

// Package admin implements the operator corrections that span several
// faucet records: approving and rejecting access requests, deduplicating
// the request list, managing upgrades and vouches, and removing a principal
// from every record
package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"

	"github.com/blinklabs-io/faucet/access"
	"github.com/blinklabs-io/faucet/cooldown"
	"github.com/blinklabs-io/faucet/event"
	"github.com/blinklabs-io/faucet/history"
	"github.com/blinklabs-io/faucet/internal/keylock"
	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/types"
	"github.com/blinklabs-io/faucet/vouch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type OperationsConfig struct {
	Access       *access.Records
	Vouches      *vouch.Manager
	Cooldown     *cooldown.Ledger
	History      *history.Log
	Locker       *keylock.Locker
	EventBus     *event.EventBus
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
}

type Operations struct {
	config   OperationsConfig
	logger   *slog.Logger
	removals *prometheus.CounterVec
}

func New(cfg OperationsConfig) *Operations {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Locker == nil {
		cfg.Locker = keylock.New()
	}
	o := &Operations{
		config: cfg,
		logger: cfg.Logger.With("component", "admin"),
	}
	if cfg.PromRegistry != nil {
		o.removals = promauto.With(cfg.PromRegistry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_admin_removed_records_total",
				Help: "records deleted by forced user removal, by record",
			},
			[]string{"record"},
		)
	}
	return o
}

func normalize(username string) (string, error) {
	if !types.ValidUsername(username) {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidUsername, username)
	}
	return types.NormalizeUsername(username), nil
}

// Dedupe collapses the access request list to one request per username in a
// single atomic write. Running it again removes nothing.
func (o *Operations) Dedupe(ctx context.Context) (DedupeResult, error) {
	var result DedupeResult
	err := o.config.Access.UpdateAccessRequests(
		ctx,
		func(cur []types.AccessRequest) ([]types.AccessRequest, error) {
			var next []types.AccessRequest
			next, result = DedupeAccessRequests(cur)
			if result.RemovedCount == 0 {
				return nil, store.ErrSkipWrite
			}
			return next, nil
		},
	)
	if err != nil && !errors.Is(err, store.ErrSkipWrite) {
		return DedupeResult{}, err
	}
	o.logger.Info(
		"access requests deduplicated",
		"original", result.OriginalCount,
		"removed", result.RemovedCount,
	)
	return result, nil
}

type ApproveResult struct {
	RequestsRemoved int  `json:"requestsRemoved"`
	Added           bool `json:"added"`
}

// Approve whitelists username and drops its pending requests. Approving an
// already whitelisted user is not an error.
func (o *Operations) Approve(
	ctx context.Context,
	username string,
) (ApproveResult, error) {
	u, err := normalize(username)
	if err != nil {
		return ApproveResult{}, err
	}
	var res ApproveResult
	if res.Added, err = o.config.Access.AddToWhitelist(ctx, u); err != nil {
		return res, err
	}
	if res.RequestsRemoved, err = o.config.Access.RemoveAccessRequests(ctx, u); err != nil {
		return res, err
	}
	o.logger.Info("access request approved", "username", u)
	return res, nil
}

type RejectResult struct {
	RequestsRemoved int  `json:"requestsRemoved"`
	Recorded        bool `json:"recorded"`
}

// Reject drops the pending requests of username and records the rejection.
// An existing whitelist entry is kept and no rejection is recorded for it.
func (o *Operations) Reject(
	ctx context.Context,
	username string,
) (RejectResult, error) {
	u, err := normalize(username)
	if err != nil {
		return RejectResult{}, err
	}
	var res RejectResult
	if res.RequestsRemoved, err = o.config.Access.RemoveAccessRequests(ctx, u); err != nil {
		return res, err
	}
	if res.Recorded, err = o.config.Access.AddToRejected(ctx, u); err != nil {
		return res, err
	}
	o.logger.Info("access request rejected", "username", u)
	return res, nil
}

// Record names used in removal reports
const (
	RecordCooldown       = "cooldown"
	RecordVouchedUsers   = "vouchedUsers"
	RecordWhitelisted    = "whitelistedUsers"
	RecordRejected       = "rejectedUsers"
	RecordUpgraded       = "upgradedUsers"
	RecordAirdropHistory = "airdropHistory"
	RecordVouchRequests  = "vouchRequests"
	RecordAccessRequests = "accessRequests"
)

type RemovalReport struct {
	Username string         `json:"username"`
	Counts   map[string]int `json:"removedRecords"`
	// Errors holds the failure of each record that could not be cleaned
	Errors map[string]string `json:"errors,omitempty"`
}

// Total returns the number of removed entries across all records
func (r RemovalReport) Total() int {
	total := 0
	for _, c := range r.Counts {
		total += c
	}
	return total
}

// ForceRemove deletes username from every record and reports how many
// entries each record lost. A failure on one record does not stop the
// others; failures are listed in the report and joined in the returned
// error. Removing an absent user reports all zero counts.
func (o *Operations) ForceRemove(
	ctx context.Context,
	username string,
) (RemovalReport, error) {
	u, err := normalize(username)
	if err != nil {
		return RemovalReport{}, err
	}
	unlock, err := o.config.Locker.Lock(ctx, u)
	if err != nil {
		return RemovalReport{}, err
	}
	defer unlock()

	report := RemovalReport{
		Username: u,
		Counts:   make(map[string]int),
		Errors:   make(map[string]string),
	}
	steps := []struct {
		record string
		remove func() (int, error)
	}{
		{RecordCooldown, func() (int, error) {
			had, err := o.config.Cooldown.Clear(ctx, u)
			if had {
				return 1, err
			}
			return 0, err
		}},
		{RecordVouchedUsers, func() (int, error) {
			return o.config.Vouches.RemoveVouch(ctx, u)
		}},
		{RecordWhitelisted, func() (int, error) {
			return o.config.Access.RemoveFromWhitelist(ctx, u)
		}},
		{RecordRejected, func() (int, error) {
			return o.config.Access.RemoveFromRejected(ctx, u)
		}},
		{RecordUpgraded, func() (int, error) {
			return o.config.Access.RemoveUpgraded(ctx, u)
		}},
		{RecordAirdropHistory, func() (int, error) {
			return o.config.History.RemoveUser(ctx, u)
		}},
		{RecordVouchRequests, func() (int, error) {
			return o.config.Vouches.RejectVouchRequest(ctx, u)
		}},
		{RecordAccessRequests, func() (int, error) {
			return o.config.Access.RemoveAccessRequests(ctx, u)
		}},
	}
	var errs []error
	for _, step := range steps {
		n, err := step.remove()
		report.Counts[step.record] = n
		if err != nil {
			report.Errors[step.record] = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", step.record, err))
			continue
		}
		if o.removals != nil && n > 0 {
			o.removals.WithLabelValues(step.record).Add(float64(n))
		}
	}
	o.logger.Info(
		"user removed",
		"username", u,
		"removed", report.Total(),
		"failed", len(errs),
	)
	if o.config.EventBus != nil {
		o.config.EventBus.PublishAsync(
			event.UserRemovedEventType,
			event.NewEvent(
				event.UserRemovedEventType,
				event.UserRemovedEvent{
					Username: u,
					Counts:   maps.Clone(report.Counts),
				},
			),
		)
	}
	return report, errors.Join(errs...)
}

// AddUpgrade grants upgraded status to username
func (o *Operations) AddUpgrade(ctx context.Context, username string) (bool, error) {
	return o.config.Access.AddUpgraded(ctx, username)
}

// RemoveUpgrade revokes upgraded status and returns how many entries were
// removed
func (o *Operations) RemoveUpgrade(ctx context.Context, username string) (int, error) {
	return o.config.Access.RemoveUpgraded(ctx, username)
}

// ApproveVouch vouches for username as the admin
func (o *Operations) ApproveVouch(
	ctx context.Context,
	username string,
) (types.VouchRecord, error) {
	return o.config.Vouches.AdminVouch(ctx, username)
}

func (o *Operations) RejectVouch(ctx context.Context, username string) (int, error) {
	return o.config.Vouches.RejectVouchRequest(ctx, username)
}

func (o *Operations) Unvouch(ctx context.Context, username string) error {
	return o.config.Vouches.Unvouch(ctx, username)
}

type Overview struct {
	AccessRequests []types.AccessRequest   `json:"accessRequests"`
	Whitelisted    []types.WhitelistedUser `json:"whitelistedUsers"`
	Rejected       []types.RejectedUser    `json:"rejectedUsers"`
	Upgraded       []types.UpgradedUser    `json:"upgradedUsers"`
	VouchRequests  []types.VouchRequest    `json:"vouchRequests"`
	Vouched        []types.VouchRecord     `json:"vouchedUsers"`
	RecentAirdrops []types.AirdropRecord   `json:"recentAirdrops"`
}

// Overview returns every admin-managed list
func (o *Operations) Overview(ctx context.Context) (Overview, error) {
	var ov Overview
	var err error
	if ov.AccessRequests, err = o.config.Access.ListAccessRequests(ctx); err != nil {
		return ov, err
	}
	if ov.Whitelisted, err = o.config.Access.ListWhitelisted(ctx); err != nil {
		return ov, err
	}
	if ov.Rejected, err = o.config.Access.ListRejected(ctx); err != nil {
		return ov, err
	}
	if ov.Upgraded, err = o.config.Access.ListUpgraded(ctx); err != nil {
		return ov, err
	}
	if ov.VouchRequests, err = o.config.Vouches.ListRequests(ctx); err != nil {
		return ov, err
	}
	if ov.Vouched, err = o.config.Vouches.ListVouched(ctx); err != nil {
		return ov, err
	}
	if ov.RecentAirdrops, err = o.config.History.Recent(ctx, types.MaxListRecords); err != nil {
		return ov, err
	}
	return ov, nil
}
