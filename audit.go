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

package faucet

import "github.com/blinklabs-io/faucet/event"

// subscribeAudit logs every faucet state change at Info. The handlers exit
// when the event bus is stopped.
func (f *Faucet) subscribeAudit() {
	logger := f.config.logger.With("component", "audit")
	handlers := map[event.EventType]func(any) []any{
		event.PayoutCompletedEventType: func(data any) []any {
			e, _ := data.(event.PayoutCompletedEvent)
			username := e.Username
			if e.Anonymous {
				username = ""
			}
			return []any{
				"username", username,
				"wallet", e.WalletAddress,
				"signature", e.Signature,
				"tier", e.Tier,
				"amount", e.Amount,
			}
		},
		event.AccessRequestedEventType: func(data any) []any {
			e, _ := data.(event.AccessRequestedEvent)
			return []any{"username", e.Username, "auto_approved", e.AutoApproved}
		},
		event.VouchCreatedEventType: func(data any) []any {
			e, _ := data.(event.VouchCreatedEvent)
			return []any{
				"username", e.Username,
				"vouched_by", e.VouchedBy,
				"voucher_type", e.VoucherType,
			}
		},
		event.VouchRemovedEventType: func(data any) []any {
			e, _ := data.(event.VouchRemovedEvent)
			return []any{"username", e.Username}
		},
		event.UserRemovedEventType: func(data any) []any {
			e, _ := data.(event.UserRemovedEvent)
			return []any{"username", e.Username, "removed", e.Counts}
		},
		event.MembershipRefreshedEventType: func(data any) []any {
			e, _ := data.(event.MembershipRefreshedEvent)
			return []any{"usernames", e.Usernames, "repos", e.Repos}
		},
	}
	for evtType, attrs := range handlers {
		f.eventBus.SubscribeFunc(evtType, func(evt event.Event) {
			logger.Info(string(evt.Type), attrs(evt.Data)...)
		})
	}
}
