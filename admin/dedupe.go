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

package admin

import "github.com/blinklabs-io/faucet/types"

type DedupeResult struct {
	OriginalCount int `json:"originalCount"`
	DedupedCount  int `json:"dedupedCount"`
	RemovedCount  int `json:"removedCount"`
}

// DedupeAccessRequests collapses reqs to one request per username, keeping
// the latest by RequestedAt. Ties go to the later list position. Kept
// requests stay in their original relative order. reqs is not modified.
func DedupeAccessRequests(
	reqs []types.AccessRequest,
) ([]types.AccessRequest, DedupeResult) {
	latest := make(map[string]int, len(reqs))
	for i, req := range reqs {
		u := types.NormalizeUsername(req.Username)
		j, ok := latest[u]
		if !ok || !req.RequestedAt.Before(reqs[j].RequestedAt) {
			latest[u] = i
		}
	}
	out := make([]types.AccessRequest, 0, len(latest))
	for i, req := range reqs {
		if latest[types.NormalizeUsername(req.Username)] == i {
			out = append(out, req)
		}
	}
	return out, DedupeResult{
		OriginalCount: len(reqs),
		DedupedCount:  len(out),
		RemovedCount:  len(reqs) - len(out),
	}
}
