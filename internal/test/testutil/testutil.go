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

// Package testutil provides shared helpers for faucet tests: polling and
// channel assertions, a settable clock and ledger address fixtures
package testutil

import (
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/stretchr/testify/require"
)

// WaitForCondition polls the given condition function until it returns true
// or the timeout expires
func WaitForCondition(
	t *testing.T,
	condition func() bool,
	timeout time.Duration,
	msg string,
) {
	t.Helper()
	require.Eventually(
		t,
		condition,
		timeout,
		10*time.Millisecond,
		msg,
	)
}

// RequireReceive waits for a value on the given channel or fails the test
// if the timeout expires
func RequireReceive[T any](
	t *testing.T,
	ch <-chan T,
	timeout time.Duration,
	msg string,
) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for channel receive: %s", msg)
		var zero T
		return zero // unreachable
	}
}

// RequireNoReceive verifies that no value is received on the given channel
// within the specified duration
func RequireNoReceive[T any](
	t *testing.T,
	ch <-chan T,
	duration time.Duration,
	msg string,
) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf(
			"unexpected value received on channel: %v: %s",
			v,
			msg,
		)
	case <-time.After(duration):
	}
}

// Clock is a manually advanced clock safe for concurrent use
type Clock struct {
	now time.Time
	mu  sync.Mutex
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// enterprise address header: key hash payment credential, no stake part
const (
	headerEnterpriseTestnet = 0x60
	headerEnterpriseMainnet = 0x61
)

func enterpriseAddress(t *testing.T, hrp string, header byte, seed string) string {
	t.Helper()
	sum := sha256.Sum256([]byte(seed))
	data := append([]byte{header}, sum[:28]...)
	conv, err := bech32.ConvertBits(data, 8, 5, true)
	require.NoError(t, err)
	addr, err := bech32.Encode(hrp, conv)
	require.NoError(t, err)
	return addr
}

// TestnetAddress returns a well-formed test network enterprise address
// derived from seed
func TestnetAddress(t *testing.T, seed string) string {
	return enterpriseAddress(t, "addr_test", headerEnterpriseTestnet, seed)
}

// MainnetAddress returns a well-formed mainnet enterprise address derived
// from seed
func MainnetAddress(t *testing.T, seed string) string {
	return enterpriseAddress(t, "addr", headerEnterpriseMainnet, seed)
}
