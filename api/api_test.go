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

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blinklabs-io/faucet/access"
	"github.com/blinklabs-io/faucet/admin"
	"github.com/blinklabs-io/faucet/api"
	"github.com/blinklabs-io/faucet/cooldown"
	"github.com/blinklabs-io/faucet/eligibility"
	"github.com/blinklabs-io/faucet/event"
	"github.com/blinklabs-io/faucet/history"
	"github.com/blinklabs-io/faucet/internal/keylock"
	"github.com/blinklabs-io/faucet/internal/test/testutil"
	"github.com/blinklabs-io/faucet/payout"
	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/types"
	"github.com/blinklabs-io/faucet/vouch"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/time/rate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	adminToken    = "s3cret"
	fullAmount    = 10_000_000_000
	reducedAmount = 1_000_000_000
)

// fakeIdentity maps verified ids to usernames
type fakeIdentity map[string]string

func (f fakeIdentity) ResolveUsername(_ context.Context, id string) (string, error) {
	u, ok := f[id]
	if !ok {
		return "", types.ErrIdentityUnresolvable
	}
	return u, nil
}

type fakeMembership map[string]bool

func (f fakeMembership) HasMembership(_ context.Context, u string) (bool, error) {
	return f[u], nil
}

type fakeProvider struct {
	calls   atomic.Int32
	failing atomic.Bool
}

func (f *fakeProvider) Transfer(context.Context, string, uint64) (string, error) {
	f.calls.Add(1)
	if f.failing.Load() {
		return "", errors.New("provider down")
	}
	return "sig", nil
}

type fixture struct {
	server   *api.Server
	clock    *testutil.Clock
	provider *fakeProvider
	history  *history.Log
	registry *prometheus.Registry
}

func newFixture(t *testing.T, mutate func(*api.Config)) *fixture {
	t.Helper()
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	s := store.NewMemoryWithClock(clock.Now)
	locker := keylock.New()
	records := access.New(access.RecordsConfig{Store: s, Now: clock.Now})
	ledger := cooldown.New(cooldown.LedgerConfig{Store: s, Now: clock.Now})
	hist := history.New(history.LogConfig{Store: s})
	engine := eligibility.New(eligibility.EngineConfig{
		Membership:    fakeMembership{"bob": true, "dave": true},
		Access:        records,
		Vouches:       vouch.NewStatus(s),
		FullAmount:    fullAmount,
		ReducedAmount: reducedAmount,
	})
	vouches := vouch.New(vouch.ManagerConfig{
		Store:       s,
		Eligibility: engine,
		Cooldown:    ledger,
		Locker:      locker,
		Now:         clock.Now,
	})
	validator, err := payout.NewAddressValidator(payout.NetworkPreview)
	require.NoError(t, err)
	provider := &fakeProvider{}
	payouts := payout.New(payout.OrchestratorConfig{
		Validator:   validator,
		Eligibility: engine,
		Cooldown:    ledger,
		History:     hist,
		Provider:    provider,
		Locker:      locker,
		Now:         clock.Now,
	})
	ops := admin.New(admin.OperationsConfig{
		Access:   records,
		Vouches:  vouches,
		Cooldown: ledger,
		History:  hist,
		Locker:   locker,
	})
	reg := prometheus.NewRegistry()
	cfg := api.Config{
		AdminToken:                adminToken,
		AutoApproveAccessRequests: true,
		RateBurst:                 1000,
		PromRegistry:              reg,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := api.New(cfg, api.Services{
		Identity: fakeIdentity{
			"1": "Bob",
			"2": "carol",
			"3": "dave",
			"4": "erin",
		},
		Eligibility: engine,
		Cooldown:    ledger,
		Payouts:     payouts,
		Access:      records,
		Vouches:     vouches,
		Admin:       ops,
		History:     hist,
	})
	return &fixture{
		server:   srv,
		clock:    clock,
		provider: provider,
		history:  hist,
		registry: reg,
	}
}

// do issues a request against the handler and decodes a JSON response
// into out when out is non-nil
func (f *fixture) do(
	t *testing.T,
	method string,
	path string,
	userID string,
	body any,
	out any,
) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(api.VerifiedUserHeader, userID)
	}
	if strings.Contains(path, "/admin/") {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out), rec.Body.String())
	}
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	var resp api.HealthResponse
	rec := f.do(t, http.MethodGet, "/health", "", nil, &resp)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.IsHealthy)
}

func TestUserEndpointsRequireIdentity(t *testing.T) {
	f := newFixture(t, nil)
	var resp api.ErrorResponse
	rec := f.do(t, http.MethodGet, "/api/v1/eligibility", "", nil, &resp)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	rec = f.do(t, http.MethodGet, "/api/v1/eligibility", "999", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEligibility(t *testing.T) {
	f := newFixture(t, nil)
	var resp api.EligibilityResponse
	rec := f.do(t, http.MethodGet, "/api/v1/eligibility", "1", nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", resp.Username)
	assert.True(t, resp.Eligible)
	assert.True(t, resp.Ecosystem)
	assert.Equal(t, types.TierFull, resp.Tier)
	assert.Equal(t, uint64(fullAmount), resp.Amount)
	assert.Zero(t, resp.CooldownMinutes)

	resp = api.EligibilityResponse{}
	rec = f.do(t, http.MethodGet, "/api/v1/eligibility", "2", nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Eligible)
	assert.Equal(t, types.TierNone, resp.Tier)
	assert.Equal(t, types.ReasonNoMembership, resp.Reason)
}

func TestPayoutThenCooldown(t *testing.T) {
	f := newFixture(t, nil)
	body := api.PayoutRequest{WalletAddress: testutil.TestnetAddress(t, "bob")}

	var resp api.PayoutResponse
	rec := f.do(t, http.MethodPost, "/api/v1/payout", "1", body, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sig", resp.Signature)
	assert.Equal(t, uint64(fullAmount), resp.Amount)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour).UnixMilli(), resp.NextEligibleAt)

	f.clock.Advance(90 * time.Minute)
	var errResp api.ErrorResponse
	rec = f.do(t, http.MethodPost, "/api/v1/payout", "1", body, &errResp)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, int64(1350), errResp.RemainingMinutes)
	assert.Equal(t, "81000", rec.Header().Get("Retry-After"))
	assert.Equal(t, int32(1), f.provider.calls.Load())

	var elig api.EligibilityResponse
	f.do(t, http.MethodGet, "/api/v1/eligibility", "1", nil, &elig)
	assert.Equal(t, int64(1350), elig.CooldownMinutes)
	assert.Equal(t, int64(23), elig.CooldownHours)
}

func TestPayoutErrors(t *testing.T) {
	f := newFixture(t, nil)
	wallet := testutil.TestnetAddress(t, "any")

	tests := []struct {
		name   string
		userID string
		body   any
		status int
		reason types.IneligibleReason
	}{
		{
			name:   "mainnet address on test network",
			userID: "1",
			body:   api.PayoutRequest{WalletAddress: testutil.MainnetAddress(t, "bob")},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown field",
			userID: "1",
			body:   map[string]string{"wallet": wallet},
			status: http.StatusBadRequest,
		},
		{
			name:   "not eligible",
			userID: "2",
			body:   api.PayoutRequest{WalletAddress: wallet},
			status: http.StatusForbidden,
			reason: types.ReasonNoMembership,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var resp api.ErrorResponse
			rec := f.do(t, http.MethodPost, "/api/v1/payout", tc.userID, tc.body, &resp)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.reason, resp.Reason)
		})
	}

	f.provider.failing.Store(true)
	rec := f.do(
		t,
		http.MethodPost,
		"/api/v1/payout",
		"1",
		api.PayoutRequest{WalletAddress: wallet},
		nil,
	)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	n, err := f.history.Len(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAccessRequestAutoApprove(t *testing.T) {
	f := newFixture(t, nil)
	var resp api.AccessRequestResponse
	rec := f.do(
		t,
		http.MethodPost,
		"/api/v1/access-requests",
		"2",
		api.AccessRequestBody{Reason: "building a dapp"},
		&resp,
	)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.AutoApproved)

	var elig api.EligibilityResponse
	f.do(t, http.MethodGet, "/api/v1/eligibility", "2", nil, &elig)
	assert.True(t, elig.Whitelisted)
	assert.Equal(t, types.TierReduced, elig.Tier)

	rec = f.do(
		t,
		http.MethodPost,
		"/api/v1/access-requests",
		"2",
		api.AccessRequestBody{Reason: "again"},
		nil,
	)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAccessRequestManualApproval(t *testing.T) {
	f := newFixture(t, func(cfg *api.Config) {
		cfg.AutoApproveAccessRequests = false
	})
	rec := f.do(
		t,
		http.MethodPost,
		"/api/v1/access-requests",
		"2",
		api.AccessRequestBody{},
		nil,
	)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "reason is required")

	var resp api.AccessRequestResponse
	rec = f.do(
		t,
		http.MethodPost,
		"/api/v1/access-requests",
		"2",
		api.AccessRequestBody{Reason: "testing"},
		&resp,
	)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.False(t, resp.AutoApproved)

	var elig api.EligibilityResponse
	f.do(t, http.MethodGet, "/api/v1/eligibility", "2", nil, &elig)
	assert.False(t, elig.Eligible)
	assert.True(t, elig.AccessPending)

	var ov admin.Overview
	f.do(t, http.MethodGet, "/api/v1/admin/overview", "", nil, &ov)
	require.Len(t, ov.AccessRequests, 1)
	assert.Equal(t, "carol", ov.AccessRequests[0].Username)

	var approved admin.ApproveResult
	rec = f.do(
		t,
		http.MethodPost,
		"/api/v1/admin/approve",
		"",
		api.UsernameBody{Username: "Carol"},
		&approved,
	)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, approved.Added)
	assert.Equal(t, 1, approved.RequestsRemoved)

	elig = api.EligibilityResponse{}
	f.do(t, http.MethodGet, "/api/v1/eligibility", "2", nil, &elig)
	assert.True(t, elig.Eligible)
	assert.False(t, elig.AccessPending)
}

func TestVouchFlow(t *testing.T) {
	f := newFixture(t, nil)

	var created api.VouchRequestResponse
	rec := f.do(t, http.MethodPost, "/api/v1/vouch-requests", "2", nil, &created)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, created.Created)

	rec = f.do(t, http.MethodPost, "/api/v1/vouch-requests", "1", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "ecosystem members need no vouch")

	var reqs []types.VouchRequest
	f.do(t, http.MethodGet, "/api/v1/vouch-requests", "1", nil, &reqs)
	require.Len(t, reqs, 1)
	assert.Equal(t, "carol", reqs[0].Username)

	var elig api.EligibilityResponse
	f.do(t, http.MethodGet, "/api/v1/eligibility", "2", nil, &elig)
	assert.Equal(t, types.ReasonVouchPending, elig.Reason)

	rec = f.do(
		t,
		http.MethodPost,
		"/api/v1/vouch",
		"4",
		api.UsernameBody{Username: "carol"},
		nil,
	)
	assert.Equal(t, http.StatusForbidden, rec.Code, "erin cannot vouch")

	var vouched api.VouchResponse
	rec = f.do(
		t,
		http.MethodPost,
		"/api/v1/vouch",
		"1",
		api.UsernameBody{Username: "carol"},
		&vouched,
	)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "bob", vouched.VouchedBy)
	assert.Equal(t, types.VoucherTypeEcosystem, vouched.VoucherType)

	rec = f.do(
		t,
		http.MethodPost,
		"/api/v1/vouch",
		"3",
		api.UsernameBody{Username: "carol"},
		nil,
	)
	assert.Equal(t, http.StatusConflict, rec.Code)

	reqs = nil
	f.do(t, http.MethodGet, "/api/v1/vouch-requests", "1", nil, &reqs)
	assert.Empty(t, reqs)

	elig = api.EligibilityResponse{}
	f.do(t, http.MethodGet, "/api/v1/eligibility", "2", nil, &elig)
	assert.Equal(t, types.TierReduced, elig.Tier)

	rec = f.do(
		t,
		http.MethodPost,
		"/api/v1/admin/unvouch",
		"",
		api.UsernameBody{Username: "carol"},
		nil,
	)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(
		t,
		http.MethodPost,
		"/api/v1/admin/unvouch",
		"",
		api.UsernameBody{Username: "carol"},
		nil,
	)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAirdropsRedactAnonymous(t *testing.T) {
	f := newFixture(t, nil)
	f.do(
		t,
		http.MethodPost,
		"/api/v1/payout",
		"1",
		api.PayoutRequest{WalletAddress: testutil.TestnetAddress(t, "bob")},
		nil,
	)
	f.do(
		t,
		http.MethodPost,
		"/api/v1/payout",
		"3",
		api.PayoutRequest{
			WalletAddress: testutil.TestnetAddress(t, "dave"),
			Anonymous:     true,
		},
		nil,
	)

	var resp api.AirdropsResponse
	rec := f.do(t, http.MethodGet, "/api/v1/airdrops?limit=1", "", nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Airdrops, 1)
	assert.Empty(t, resp.Airdrops[0].Username, "anonymous payout is redacted")
	assert.NotEmpty(t, resp.Airdrops[0].WalletAddress)

	rec = f.do(t, http.MethodGet, "/api/v1/airdrops?limit=zero", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/overview", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	disabled := newFixture(t, func(cfg *api.Config) { cfg.AdminToken = "" })
	rec = disabled.do(t, http.MethodGet, "/api/v1/admin/overview", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRemoveUser(t *testing.T) {
	f := newFixture(t, nil)
	f.do(
		t,
		http.MethodPost,
		"/api/v1/payout",
		"1",
		api.PayoutRequest{WalletAddress: testutil.TestnetAddress(t, "bob")},
		nil,
	)
	f.do(
		t,
		http.MethodPost,
		"/api/v1/admin/add-upgrade",
		"",
		api.UsernameBody{Username: "bob"},
		nil,
	)

	var resp api.RemovalResponse
	rec := f.do(
		t,
		http.MethodPost,
		"/api/v1/admin/remove-user",
		"",
		api.UsernameBody{Username: "BOB"},
		&resp,
	)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", resp.Username)
	assert.Equal(t, 3, resp.TotalRemoved)
	assert.Equal(t, 1, resp.Counts[admin.RecordCooldown])
	assert.Equal(t, 1, resp.Counts[admin.RecordAirdropHistory])
	assert.Equal(t, 1, resp.Counts[admin.RecordUpgraded])

	rec = f.do(
		t,
		http.MethodPost,
		"/api/v1/admin/remove-user",
		"",
		api.UsernameBody{},
		nil,
	)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(cfg *api.Config) {
		cfg.RateLimit = rate.Limit(0.001)
		cfg.RateBurst = 2
	})
	for range 2 {
		rec := f.do(t, http.MethodGet, "/api/v1/airdrops", "", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/api/v1/airdrops", "", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = f.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health is never limited")
}

func TestRequestMetrics(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/health", "", nil, nil)
	f.do(t, http.MethodGet, "/api/v1/eligibility", "", nil, nil)
	assert.Equal(
		t,
		2,
		promtestutil.CollectAndCount(f.registry, "faucet_api_requests_total"),
	)
}

func TestServerStartStop(t *testing.T) {
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	f := newFixture(t, func(cfg *api.Config) {
		cfg.ListenAddress = "127.0.0.1:0"
		cfg.EventBus = bus
	})
	require.NoError(t, f.server.Start(t.Context()))
	require.Error(t, f.server.Start(t.Context()), "second start fails")

	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	resp, err := client.Get("http://" + f.server.Addr() + "/health")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, f.server.Stop(context.Background()))
	require.NoError(t, f.server.Stop(context.Background()), "stop is idempotent")
}

func TestServerStopsOnContextCancel(t *testing.T) {
	f := newFixture(t, func(cfg *api.Config) {
		cfg.ListenAddress = "127.0.0.1:0"
	})
	ctx, cancel := context.WithCancel(t.Context())
	require.NoError(t, f.server.Start(ctx))
	addr := f.server.Addr()
	cancel()
	client := &http.Client{
		Timeout:   time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	testutil.WaitForCondition(
		t,
		func() bool {
			resp, err := client.Get("http://" + addr + "/health")
			if err != nil {
				return true
			}
			resp.Body.Close()
			return false
		},
		5*time.Second,
		"server did not stop",
	)
}
