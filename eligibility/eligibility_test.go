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

package eligibility_test

import (
	"context"
	"testing"
	"time"

	"github.com/blinklabs-io/faucet/access"
	"github.com/blinklabs-io/faucet/eligibility"
	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/types"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fullAmount    = 10_000_000_000
	reducedAmount = 1_000_000_000
)

type fakeMembership struct {
	members map[string]bool
	err     error
}

func (f *fakeMembership) HasMembership(_ context.Context, u string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.members[u], nil
}

type fakeVouches struct {
	vouched map[string]bool
	pending map[string]bool
}

func (f *fakeVouches) IsVouched(_ context.Context, u string) (bool, error) {
	return f.vouched[u], nil
}

func (f *fakeVouches) HasPendingRequest(_ context.Context, u string) (bool, error) {
	return f.pending[u], nil
}

type fixture struct {
	engine     *eligibility.Engine
	records    *access.Records
	membership *fakeMembership
	vouches    *fakeVouches
	registry   *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		records:    access.New(access.RecordsConfig{Store: store.NewMemory()}),
		membership: &fakeMembership{members: map[string]bool{}},
		vouches: &fakeVouches{
			vouched: map[string]bool{},
			pending: map[string]bool{},
		},
		registry: prometheus.NewRegistry(),
	}
	f.engine = eligibility.New(eligibility.EngineConfig{
		Membership:    f.membership,
		Access:        f.records,
		Vouches:       f.vouches,
		PromRegistry:  f.registry,
		FullAmount:    fullAmount,
		ReducedAmount: reducedAmount,
	})
	return f
}

func TestEvaluateTiers(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.membership.members["eco"] = true
	f.vouches.vouched["vouched"] = true
	_, err := f.records.AddToWhitelist(ctx, "white")
	require.NoError(t, err)
	_, err = f.records.AddUpgraded(ctx, "up")
	require.NoError(t, err)

	testDefs := []struct {
		username string
		tier     types.Tier
		amount   uint64
		cooldown time.Duration
	}{
		{"eco", types.TierFull, fullAmount, 24 * time.Hour},
		{"white", types.TierReduced, reducedAmount, 24 * time.Hour},
		{"vouched", types.TierReduced, reducedAmount, 24 * time.Hour},
		{"UP", types.TierFull, fullAmount, 12 * time.Hour},
		{"nobody", types.TierNone, 0, 0},
	}
	for _, test := range testDefs {
		d, err := f.engine.Evaluate(ctx, test.username)
		require.NoError(t, err, test.username)
		assert.Equal(t, test.tier, d.Tier, test.username)
		assert.Equal(t, test.amount, d.Amount, test.username)
		assert.Equal(t, test.cooldown, d.Cooldown, test.username)
		assert.Equal(t, test.tier != types.TierNone, d.Eligible, test.username)
	}
}

func TestEvaluateUpgradedWinsOverWhitelist(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.membership.members["carol"] = true
	_, err := f.records.AddToWhitelist(ctx, "carol")
	require.NoError(t, err)
	_, err = f.records.AddUpgraded(ctx, "Carol")
	require.NoError(t, err)

	d, err := f.engine.Evaluate(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, d.Whitelisted)
	assert.True(t, d.Upgraded)
	assert.True(t, d.Ecosystem)
	assert.Equal(t, types.TierFull, d.Tier)
	assert.Equal(t, uint64(fullAmount), d.Amount)
	assert.Equal(t, 12*time.Hour, d.Cooldown)
}

func TestEvaluateWhitelistWinsOverEcosystem(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.membership.members["dave"] = true
	_, err := f.records.AddToWhitelist(ctx, "dave")
	require.NoError(t, err)

	d, err := f.engine.Evaluate(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, types.TierReduced, d.Tier)
}

func TestEvaluateNotEligibleReasons(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.vouches.pending["alice"] = true

	d, err := f.engine.Evaluate(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Eligible)
	assert.True(t, d.VouchPending)
	var notEligible *types.NotEligibleError
	require.ErrorAs(t, d.Err(), &notEligible)
	assert.Equal(t, types.ReasonVouchPending, notEligible.Reason)

	d, err = f.engine.Evaluate(ctx, "erin")
	require.NoError(t, err)
	require.ErrorIs(t, d.Err(), types.ErrNotEligible)
	require.ErrorAs(t, d.Err(), &notEligible)
	assert.Equal(t, types.ReasonNoMembership, notEligible.Reason)
}

func TestEvaluateMembershipUnavailable(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.membership.err = &types.UpstreamError{Service: "membership"}
	_, err := f.records.AddToWhitelist(ctx, "white")
	require.NoError(t, err)

	d, err := f.engine.Evaluate(ctx, "white")
	require.NoError(t, err, "whitelist grants eligibility without membership")
	assert.Equal(t, types.TierReduced, d.Tier)

	_, err = f.engine.Evaluate(ctx, "nobody")
	require.ErrorIs(t, err, types.ErrUpstreamUnavailable)

	ok, err := f.engine.HasDirectEligibility(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckEligibilityHasNoSideEffects(t *testing.T) {
	ctx := t.Context()
	s := store.NewMemory()
	f := newFixture(t)
	f.records = access.New(access.RecordsConfig{Store: s})
	engine := eligibility.New(eligibility.EngineConfig{
		Membership: f.membership,
		Access:     f.records,
		Vouches:    f.vouches,
	})
	ok, err := engine.CheckEligibility(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestIsTrustedVoucher(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.membership.members["bob"] = true
	f.vouches.vouched["vic"] = true
	_, err := f.records.AddUpgraded(ctx, "up")
	require.NoError(t, err)
	_, err = f.records.AddToWhitelist(ctx, "white")
	require.NoError(t, err)

	trusted, vt, err := f.engine.IsTrustedVoucher(ctx, "Bob")
	require.NoError(t, err)
	assert.True(t, trusted)
	assert.Equal(t, types.VoucherTypeEcosystem, vt)

	trusted, vt, err = f.engine.IsTrustedVoucher(ctx, "up")
	require.NoError(t, err)
	assert.True(t, trusted)
	assert.Equal(t, types.VoucherTypeUpgraded, vt)

	for _, u := range []string{"white", "vic", "nobody"} {
		trusted, _, err = f.engine.IsTrustedVoucher(ctx, u)
		require.NoError(t, err)
		assert.False(t, trusted, u)
	}
}

func TestDecisionMetrics(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.membership.members["eco"] = true
	_, err := f.engine.Evaluate(ctx, "eco")
	require.NoError(t, err)
	_, err = f.engine.Evaluate(ctx, "nobody")
	require.NoError(t, err)
	count, err := promtestutil.GatherAndCount(
		f.registry,
		"faucet_eligibility_decisions_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
