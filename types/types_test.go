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

package types

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUsername(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"Alice", "alice"},
		{"  BoB ", "bob"},
		{"carol", "carol"},
		{"", ""},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, NormalizeUsername(tc.in), tc.in)
	}
}

func TestValidUsername(t *testing.T) {
	assert.True(t, ValidUsername("octo-cat"))
	assert.True(t, ValidUsername(" Octo "))
	assert.False(t, ValidUsername(""))
	assert.False(t, ValidUsername("   "))
	assert.False(t, ValidUsername("a b"))
	assert.False(t, ValidUsername("cooldown:x"))
}

func TestCooldownKeyNormalizes(t *testing.T) {
	assert.Equal(t, "cooldown:alice", CooldownKey("ALICE"))
	assert.Equal(t, CooldownKey("Alice"), CooldownKey("alice"))
}

func TestCeilMinutes(t *testing.T) {
	assert.Equal(t, int64(0), CeilMinutes(0))
	assert.Equal(t, int64(0), CeilMinutes(-time.Second))
	assert.Equal(t, int64(1), CeilMinutes(time.Millisecond))
	assert.Equal(t, int64(1), CeilMinutes(time.Minute))
	assert.Equal(t, int64(2), CeilMinutes(time.Minute+time.Second))
	assert.Equal(t, int64(720), CeilMinutes(12*time.Hour))
}

func TestErrorMatching(t *testing.T) {
	var err error = &InCooldownError{Remaining: 90 * time.Second}
	assert.ErrorIs(t, err, ErrInCooldown)
	assert.Contains(t, err.Error(), "2 minutes")

	err = fmt.Errorf("wrapped: %w", &NotEligibleError{
		Username: "alice",
		Reason:   ReasonVouchPending,
	})
	assert.ErrorIs(t, err, ErrNotEligible)
	var ne *NotEligibleError
	assert.True(t, errors.As(err, &ne))
	assert.Equal(t, ReasonVouchPending, ne.Reason)

	err = &UpstreamError{
		Service: "membership",
		Timeout: true,
		Err:     context.DeadlineExceeded,
	}
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
}
