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

package api

import (
	"github.com/blinklabs-io/faucet/admin"
	"github.com/blinklabs-io/faucet/types"
)

type HealthResponse struct {
	IsHealthy bool `json:"is_healthy"`
}

type EligibilityResponse struct {
	Username     string                 `json:"username"`
	Eligible     bool                   `json:"eligible"`
	Tier         types.Tier             `json:"tier"`
	Amount       uint64                 `json:"amount"`
	Ecosystem    bool                   `json:"ecosystem"`
	Whitelisted  bool                   `json:"whitelisted"`
	Upgraded     bool                   `json:"upgraded"`
	Vouched      bool                   `json:"vouched"`
	VouchPending bool                   `json:"vouchPending"`
	// AccessPending is set while an access request awaits review
	AccessPending bool                   `json:"accessPending"`
	Reason        types.IneligibleReason `json:"reason,omitempty"`
	// CooldownMinutes is the rounded-up time left before the next payout
	CooldownMinutes int64 `json:"cooldownMinutes"`
	CooldownHours   int64 `json:"cooldownHours"`
}

type PayoutRequest struct {
	WalletAddress string `json:"walletAddress"`
	Anonymous     bool   `json:"anonymous"`
}

type PayoutResponse struct {
	Username       string     `json:"username"`
	WalletAddress  string     `json:"walletAddress"`
	Amount         uint64     `json:"amount"`
	Tier           types.Tier `json:"tier"`
	Signature      string     `json:"signature"`
	NextEligibleAt int64      `json:"nextEligibleAt"`
}

type AccessRequestBody struct {
	Reason string `json:"reason"`
}

type AccessRequestResponse struct {
	Username     string `json:"username"`
	AutoApproved bool   `json:"autoApproved"`
}

type VouchRequestResponse struct {
	Username string `json:"username"`
	Created  bool   `json:"created"`
}

type UsernameBody struct {
	Username string `json:"username"`
}

type VouchResponse struct {
	Username    string            `json:"username"`
	VouchedBy   string            `json:"vouchedBy"`
	VoucherType types.VoucherType `json:"voucherType"`
}

type AirdropsResponse struct {
	Airdrops []types.AirdropRecord `json:"airdrops"`
	Total    int                   `json:"total"`
}

type CountResponse struct {
	Username string `json:"username"`
	Removed  int    `json:"removed"`
}

type RemovalResponse struct {
	admin.RemovalReport
	TotalRemoved int `json:"totalRemoved"`
}
