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

package vouch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blinklabs-io/faucet/access"
	"github.com/blinklabs-io/faucet/cooldown"
	"github.com/blinklabs-io/faucet/eligibility"
	"github.com/blinklabs-io/faucet/event"
	"github.com/blinklabs-io/faucet/internal/test/testutil"
	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/types"
	"github.com/blinklabs-io/faucet/vouch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type members map[string]bool

func (m members) HasMembership(_ context.Context, u string) (bool, error) {
	return m[u], nil
}

type fixture struct {
	store    *store.MemoryStore
	records  *access.Records
	cooldown *cooldown.Ledger
	manager  *vouch.Manager
	members  members
}

func newFixture(t *testing.T, opts ...func(*vouch.ManagerConfig)) *fixture {
	t.Helper()
	s := store.NewMemory()
	f := &fixture{
		store:   s,
		records: access.New(access.RecordsConfig{Store: s}),
		members: members{},
	}
	f.cooldown = cooldown.New(cooldown.LedgerConfig{Store: s})
	engine := eligibility.New(eligibility.EngineConfig{
		Membership: f.members,
		Access:     f.records,
		Vouches:    vouch.NewStatus(s),
	})
	cfg := vouch.ManagerConfig{
		Store:       s,
		Eligibility: engine,
		Cooldown:    f.cooldown,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.manager = vouch.New(cfg)
	return f
}

func TestCreateVouchRequest(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)

	created, err := f.manager.CreateVouchRequest(ctx, "Alice")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = f.manager.CreateVouchRequest(ctx, "alice")
	require.NoError(t, err, "second request is a no-op")
	assert.False(t, created)

	reqs, err := f.manager.ListRequests(ctx)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "alice", reqs[0].Username)

	pending, err := f.manager.HasPendingRequest(ctx, "ALICE")
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestCreateVouchRequestAlreadyEligible(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.members["bob"] = true
	_, err := f.records.AddToWhitelist(ctx, "wendy")
	require.NoError(t, err)
	_, err = f.records.AddUpgraded(ctx, "uma")
	require.NoError(t, err)

	for _, u := range []string{"bob", "wendy", "uma"} {
		_, err := f.manager.CreateVouchRequest(ctx, u)
		require.ErrorIs(t, err, types.ErrAlreadyEligible, u)
	}
}

func TestCreateVouchRequestAlreadyVouched(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	_, err := f.manager.AdminVouch(ctx, "alice")
	require.NoError(t, err)
	_, err = f.manager.CreateVouchRequest(ctx, "alice")
	require.ErrorIs(t, err, types.ErrAlreadyVouched)
}

func TestVouchFor(t *testing.T) {
	ctx := t.Context()
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, subCh := eb.Subscribe(event.VouchCreatedEventType)
	f := newFixture(t, func(cfg *vouch.ManagerConfig) {
		cfg.EventBus = eb
	})
	f.members["bob"] = true
	_, err := f.manager.CreateVouchRequest(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, f.cooldown.SetCooldown(ctx, "alice", time.Hour))

	rec, err := f.manager.VouchFor(ctx, "Alice", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, "bob", rec.VouchedBy)
	assert.Equal(t, types.VoucherTypeEcosystem, rec.VoucherType)

	vouched, err := f.manager.IsVouched(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, vouched)
	pending, err := f.manager.HasPendingRequest(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, pending, "vouch removes the request")
	assert.False(t, f.cooldown.IsInCooldown(ctx, "alice"), "vouch resets cooldown")

	evt := testutil.RequireReceive(t, subCh, time.Second, "vouch event")
	data, ok := evt.Data.(event.VouchCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, "alice", data.Username)
}

func TestVouchForUpgradedVoucher(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	_, err := f.records.AddUpgraded(ctx, "uma")
	require.NoError(t, err)
	rec, err := f.manager.VouchFor(ctx, "alice", "uma")
	require.NoError(t, err)
	assert.Equal(t, types.VoucherTypeUpgraded, rec.VoucherType)
}

func TestVouchForUntrustedVoucher(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	_, err := f.records.AddToWhitelist(ctx, "wendy")
	require.NoError(t, err)
	_, err = f.manager.AdminVouch(ctx, "victor")
	require.NoError(t, err)

	for _, voucher := range []string{"wendy", "victor", "nobody"} {
		_, err := f.manager.VouchFor(ctx, "alice", voucher)
		require.ErrorIs(t, err, types.ErrVoucherNotEligible, voucher)
	}
	vouched, err := f.manager.IsVouched(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, vouched)
}

func TestVouchForSelf(t *testing.T) {
	f := newFixture(t)
	f.members["bob"] = true
	_, err := f.manager.VouchFor(t.Context(), "bob", "BOB")
	require.ErrorIs(t, err, types.ErrVoucherNotEligible)
}

func TestVouchForAlreadyVouched(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.members["bob"] = true
	f.members["carl"] = true
	_, err := f.manager.VouchFor(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.manager.VouchFor(ctx, "alice", "carl")
	require.ErrorIs(t, err, types.ErrAlreadyVouched)
	_, err = f.manager.AdminVouch(ctx, "alice")
	require.ErrorIs(t, err, types.ErrAlreadyVouched)

	list, err := f.manager.ListVouched(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].VouchedBy)
}

func TestVouchForConcurrent(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	const vouchers = 50
	for i := range vouchers {
		f.members[fmt.Sprintf("voucher-%d", i)] = true
	}
	var wg sync.WaitGroup
	var succeeded, alreadyVouched atomic.Int32
	for i := range vouchers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.manager.VouchFor(ctx, "alice", fmt.Sprintf("voucher-%d", i))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, types.ErrAlreadyVouched):
				alreadyVouched.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(vouchers-1), alreadyVouched.Load())

	list, err := f.manager.ListVouched(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAdminVouch(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	rec, err := f.manager.AdminVouch(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, vouch.AdminVoucher, rec.VouchedBy)
	assert.Equal(t, types.VoucherTypeUpgraded, rec.VoucherType)
}

func TestUnvouchKeepsCooldownCleared(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	require.NoError(t, f.cooldown.SetCooldown(ctx, "alice", time.Hour))
	_, err := f.manager.AdminVouch(ctx, "alice")
	require.NoError(t, err)
	require.False(t, f.cooldown.IsInCooldown(ctx, "alice"))

	require.NoError(t, f.manager.Unvouch(ctx, "ALICE"))
	assert.False(t, f.cooldown.IsInCooldown(ctx, "alice"))
	vouched, err := f.manager.IsVouched(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, vouched)

	require.ErrorIs(t, f.manager.Unvouch(ctx, "alice"), types.ErrNotVouched)
}

func TestRejectVouchRequest(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	_, err := f.manager.CreateVouchRequest(ctx, "alice")
	require.NoError(t, err)

	removed, err := f.manager.RejectVouchRequest(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	removed, err = f.manager.RejectVouchRequest(ctx, "alice")
	require.NoError(t, err, "rejecting again is a no-op")
	assert.Equal(t, 0, removed)
}
