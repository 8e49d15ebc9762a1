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
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotAuthenticated is returned when no verified identity accompanies a request
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrIdentityUnresolvable is returned when a verified identity cannot be mapped to a username
	ErrIdentityUnresolvable = errors.New("unable to resolve identity")

	// ErrInvalidAddress is returned for a wallet address the target ledger would not accept
	ErrInvalidAddress = errors.New("invalid wallet address")

	// ErrNotEligible matches any *NotEligibleError
	ErrNotEligible = errors.New("not eligible")

	// ErrInCooldown matches any *InCooldownError
	ErrInCooldown = errors.New("in cooldown")

	ErrAlreadyVouched     = errors.New("user is already vouched")
	ErrVoucherNotEligible = errors.New("voucher is not eligible to vouch")
	ErrNotVouched         = errors.New("user is not vouched")
	ErrAlreadyEligible    = errors.New("user is already eligible")

	// ErrConflict is returned when a record kept changing underneath a
	// read-modify-write and the bounded retries ran out
	ErrConflict = errors.New("concurrent update conflict")

	// ErrUpstreamUnavailable matches any *UpstreamError
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrPayoutFailed is returned when every payment provider failed. No
	// cooldown or history has been written when this is returned.
	ErrPayoutFailed = errors.New("payout failed")

	ErrAlreadyRequested   = errors.New("access request already pending")
	ErrAlreadyWhitelisted = errors.New("user is already whitelisted")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrReasonRequired     = errors.New("a reason is required")
)

// IneligibleReason tells the caller which next step to offer the user
type IneligibleReason string

const (
	// ReasonNoMembership: no ecosystem membership, not whitelisted, not
	// upgraded, not vouched and no vouch pending. Request access or a vouch.
	ReasonNoMembership IneligibleReason = "no-membership"
	// ReasonVouchPending: a vouch request exists and is waiting on a voucher
	ReasonVouchPending IneligibleReason = "vouch-pending"
)

type NotEligibleError struct {
	Username string
	Reason   IneligibleReason
}

func (e *NotEligibleError) Error() string {
	switch e.Reason {
	case ReasonVouchPending:
		return fmt.Sprintf(
			"%s is not eligible yet: vouch request is pending",
			e.Username,
		)
	default:
		return fmt.Sprintf(
			"%s is not eligible: no ecosystem membership and not vouched",
			e.Username,
		)
	}
}

func (e *NotEligibleError) Is(target error) bool {
	return target == ErrNotEligible
}

type InCooldownError struct {
	Remaining time.Duration
}

// RemainingMinutes returns the remaining cooldown rounded up to the next minute
func (e *InCooldownError) RemainingMinutes() int64 {
	return CeilMinutes(e.Remaining)
}

func (e *InCooldownError) Error() string {
	mins := e.RemainingMinutes()
	if mins == 1 {
		return "in cooldown: try again in 1 minute"
	}
	return fmt.Sprintf("in cooldown: try again in %d minutes", mins)
}

func (e *InCooldownError) Is(target error) bool {
	return target == ErrInCooldown
}

// CeilMinutes rounds a duration up to whole minutes
func CeilMinutes(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Minute - 1) / time.Minute)
}

// UpstreamError reports that an external collaborator (membership
// manifest host, payment provider, identity provider) could not be reached
type UpstreamError struct {
	Service string
	Timeout bool
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: upstream timed out: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s: upstream unavailable: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}
