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
	"strings"
	"time"
)

// MaxListRecords is the cap applied to the access request list and the
// airdrop history
const MaxListRecords = 100

// NormalizeUsername returns the canonical form of a GitHub username. All
// store reads and writes go through this so that casing never splits a
// principal across records.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidUsername reports whether the normalized username is usable as a key
func ValidUsername(username string) bool {
	u := NormalizeUsername(username)
	if u == "" || len(u) > 100 {
		return false
	}
	return !strings.ContainsAny(u, " \t\r\n:/")
}

type AccessRequest struct {
	Username    string    `json:"username"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requestedAt"`
}

type WhitelistedUser struct {
	Username   string    `json:"username"`
	ApprovedAt time.Time `json:"approvedAt"`
}

// RejectedUser is an audit entry only. It never blocks a later request.
type RejectedUser struct {
	Username   string    `json:"username"`
	RejectedAt time.Time `json:"rejectedAt"`
}

type UpgradedUser struct {
	Username   string    `json:"username"`
	UpgradedAt time.Time `json:"upgradedAt"`
}

type VouchRequest struct {
	Username    string    `json:"username"`
	RequestedAt time.Time `json:"requestedAt"`
}

// VoucherType records which status qualified the voucher
type VoucherType string

const (
	VoucherTypeEcosystem VoucherType = "ecosystem"
	VoucherTypeUpgraded  VoucherType = "upgraded"
)

type VouchRecord struct {
	Username    string      `json:"username"`
	VouchedBy   string      `json:"vouchedBy"`
	VouchedAt   time.Time   `json:"vouchedAt"`
	VoucherType VoucherType `json:"voucherType"`
}

type CooldownEntry struct {
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type AirdropRecord struct {
	Username      string    `json:"username"`
	WalletAddress string    `json:"walletAddress"`
	Amount        uint64    `json:"amount"`
	Signature     string    `json:"signature,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
	IsAnonymous   bool      `json:"isAnonymous"`
}

// Tier is the payout tier chosen by the eligibility engine
type Tier string

const (
	TierNone    Tier = "none"
	TierReduced Tier = "reduced"
	TierFull    Tier = "full"
)
