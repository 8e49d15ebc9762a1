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

// Package payout sequences a faucet payout: address validation, the
// eligibility and cooldown gates, the transfer, and the cooldown and history
// writes that follow a successful transfer. A failed transfer writes
// nothing.
package payout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/faucet/cooldown"
	"github.com/blinklabs-io/faucet/eligibility"
	"github.com/blinklabs-io/faucet/event"
	"github.com/blinklabs-io/faucet/history"
	"github.com/blinklabs-io/faucet/internal/keylock"
	"github.com/blinklabs-io/faucet/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/blinklabs-io/faucet/payout"

// Evaluator produces eligibility decisions
type Evaluator interface {
	Evaluate(ctx context.Context, username string) (eligibility.Decision, error)
}

type OrchestratorConfig struct {
	Validator      *AddressValidator
	Eligibility    Evaluator
	Cooldown       *cooldown.Ledger
	History        *history.Log
	Provider       Provider
	Locker         *keylock.Locker
	EventBus       *event.EventBus
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	TracerProvider trace.TracerProvider
	// Now overrides the clock, for tests
	Now func() time.Time
}

type Orchestrator struct {
	config  OrchestratorConfig
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics orchestratorMetrics
}

type orchestratorMetrics struct {
	payouts  *prometheus.CounterVec
	lovelace prometheus.Counter
}

type Result struct {
	Username       string        `json:"username"`
	WalletAddress  string        `json:"walletAddress"`
	Amount         uint64        `json:"amount"`
	Tier           types.Tier    `json:"tier"`
	Signature      string        `json:"signature"`
	Cooldown       time.Duration `json:"cooldown"`
	NextEligibleAt time.Time     `json:"nextEligibleAt"`
}

func New(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Locker == nil {
		cfg.Locker = keylock.New()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	o := &Orchestrator{
		config: cfg,
		logger: cfg.Logger.With("component", "payout"),
		tracer: cfg.TracerProvider.Tracer(tracerName),
	}
	if cfg.PromRegistry != nil {
		factory := promauto.With(cfg.PromRegistry)
		o.metrics.payouts = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_payouts_total",
				Help: "payout attempts by outcome",
			},
			[]string{"outcome"},
		)
		o.metrics.lovelace = factory.NewCounter(prometheus.CounterOpts{
			Name: "faucet_payout_lovelace_total",
			Help: "lovelace paid out",
		})
	}
	return o
}

func (o *Orchestrator) outcome(name string) {
	if o.metrics.payouts != nil {
		o.metrics.payouts.WithLabelValues(name).Inc()
	}
}

// RequestPayout pays the tier amount of username to wallet. Attempts by the
// same principal are serialized. The error is one of ErrNotAuthenticated,
// ErrInvalidAddress, *NotEligibleError, *InCooldownError, *UpstreamError or
// ErrPayoutFailed.
func (o *Orchestrator) RequestPayout(
	ctx context.Context,
	username string,
	wallet string,
	anonymous bool,
) (res Result, err error) {
	ctx, span := o.tracer.Start(ctx, "payout.request")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	u := types.NormalizeUsername(username)
	if u == "" {
		o.outcome("unauthenticated")
		return Result{}, types.ErrNotAuthenticated
	}
	span.SetAttributes(attribute.String("username", u))
	address, err := o.config.Validator.Validate(wallet)
	if err != nil {
		o.outcome("invalid_address")
		return Result{}, err
	}

	unlock, err := o.config.Locker.Lock(ctx, u)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	decision, err := o.config.Eligibility.Evaluate(ctx, u)
	if err != nil {
		o.outcome("error")
		return Result{}, err
	}
	if err := decision.Err(); err != nil {
		o.outcome("not_eligible")
		return Result{}, err
	}
	if remaining := o.config.Cooldown.Remaining(ctx, u); remaining > 0 {
		o.outcome("cooldown")
		return Result{}, &types.InCooldownError{Remaining: remaining}
	}
	span.SetAttributes(
		attribute.String("tier", string(decision.Tier)),
		attribute.Int64("amount", int64(decision.Amount)),
	)

	sig, err := o.config.Provider.Transfer(ctx, address, decision.Amount)
	if err != nil {
		o.outcome("failed")
		o.logger.Error(
			"payout transfer failed",
			"username", u,
			"amount", decision.Amount,
			"error", err,
		)
		return Result{}, fmt.Errorf("%w: %w", types.ErrPayoutFailed, err)
	}

	// The transfer is final, so write failures below are logged rather than
	// returned
	now := o.config.Now()
	if err := o.config.Cooldown.SetCooldown(ctx, u, decision.Cooldown); err != nil {
		o.logger.Error(
			"failed to record cooldown after payout",
			"username", u,
			"error", err,
		)
	}
	if err := o.config.History.Append(ctx, types.AirdropRecord{
		Username:      u,
		WalletAddress: address,
		Amount:        decision.Amount,
		Signature:     sig,
		OccurredAt:    now,
		IsAnonymous:   anonymous,
	}); err != nil {
		o.logger.Error(
			"failed to record airdrop history",
			"username", u,
			"error", err,
		)
	}

	o.outcome("success")
	if o.metrics.lovelace != nil {
		o.metrics.lovelace.Add(float64(decision.Amount))
	}
	logAttrs := []any{
		"amount", decision.Amount,
		"tier", decision.Tier,
		"signature", sig,
		"anonymous", anonymous,
	}
	if !anonymous {
		logAttrs = append(logAttrs, "username", u)
	}
	o.logger.Info("payout sent", logAttrs...)
	if o.config.EventBus != nil {
		o.config.EventBus.PublishAsync(
			event.PayoutCompletedEventType,
			event.NewEvent(
				event.PayoutCompletedEventType,
				event.PayoutCompletedEvent{
					Username:      u,
					WalletAddress: address,
					Signature:     sig,
					Tier:          decision.Tier,
					Amount:        decision.Amount,
					Anonymous:     anonymous,
				},
			),
		)
	}
	return Result{
		Username:       u,
		WalletAddress:  address,
		Amount:         decision.Amount,
		Tier:           decision.Tier,
		Signature:      sig,
		Cooldown:       decision.Cooldown,
		NextEligibleAt: now.Add(decision.Cooldown),
	}, nil
}
