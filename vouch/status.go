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

package vouch

import (
	"context"

	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/types"
)

// Status is a read-only view of the vouch records
type Status struct {
	store store.Store
}

func NewStatus(s store.Store) *Status {
	return &Status{store: s}
}

func (s *Status) IsVouched(ctx context.Context, username string) (bool, error) {
	_, ok, err := s.GetVouch(ctx, username)
	return ok, err
}

// GetVouch returns the vouch record for username, if any
func (s *Status) GetVouch(
	ctx context.Context,
	username string,
) (types.VouchRecord, bool, error) {
	u := types.NormalizeUsername(username)
	list, err := s.ListVouched(ctx)
	if err != nil {
		return types.VouchRecord{}, false, err
	}
	for _, rec := range list {
		if types.NormalizeUsername(rec.Username) == u {
			return rec, true, nil
		}
	}
	return types.VouchRecord{}, false, nil
}

func (s *Status) HasPendingRequest(
	ctx context.Context,
	username string,
) (bool, error) {
	u := types.NormalizeUsername(username)
	list, err := s.ListRequests(ctx)
	if err != nil {
		return false, err
	}
	for _, req := range list {
		if types.NormalizeUsername(req.Username) == u {
			return true, nil
		}
	}
	return false, nil
}

func (s *Status) ListRequests(ctx context.Context) ([]types.VouchRequest, error) {
	return store.GetList[types.VouchRequest](ctx, s.store, types.VouchRequestsKey)
}

func (s *Status) ListVouched(ctx context.Context) ([]types.VouchRecord, error) {
	return store.GetList[types.VouchRecord](ctx, s.store, types.VouchedUsersKey)
}
