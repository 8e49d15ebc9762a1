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

package event

import "github.com/blinklabs-io/faucet/types"

const (
	PayoutCompletedEventType     EventType = "payout.completed"
	AccessRequestedEventType     EventType = "access.requested"
	VouchCreatedEventType        EventType = "vouch.created"
	VouchRemovedEventType        EventType = "vouch.removed"
	UserRemovedEventType         EventType = "user.removed"
	MembershipRefreshedEventType EventType = "membership.refreshed"
)

type PayoutCompletedEvent struct {
	Username      string
	WalletAddress string
	Signature     string
	Tier          types.Tier
	Amount        uint64
	Anonymous     bool
}

type AccessRequestedEvent struct {
	Username     string
	AutoApproved bool
}

type VouchCreatedEvent struct {
	Username    string
	VouchedBy   string
	VoucherType types.VoucherType
}

type VouchRemovedEvent struct {
	Username string
}

// UserRemovedEvent carries the per-record removal counts of a forced removal
type UserRemovedEvent struct {
	Counts   map[string]int
	Username string
}

type MembershipRefreshedEvent struct {
	Usernames int
	Repos     int
}
