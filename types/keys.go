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

const (
	AccessRequestsKey     = "access_requests"
	WhitelistedUsersKey   = "whitelisted_users"
	RejectedUsersKey      = "rejected_users"
	UpgradedUsersKey      = "upgraded_users"
	VouchRequestsKey      = "vouch_requests"
	VouchedUsersKey       = "vouched_users"
	AirdropHistoryKey     = "airdrop_history"
	EcosystemUsernamesKey = "ecosystem_github_usernames"
	EcosystemReposKey     = "ecosystem_github_repos"
	// EcosystemSnapshotKey holds the last successfully fetched username set
	// without a TTL so lookups can fall back to it while the manifest host
	// is down
	EcosystemSnapshotKey = "ecosystem_github_usernames_snapshot"

	CooldownKeyPrefix = "cooldown:"
)

// CooldownKey returns the store key for a principal's cooldown entry
func CooldownKey(username string) string {
	return CooldownKeyPrefix + NormalizeUsername(username)
}
