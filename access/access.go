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

// Package access keeps the admin-curated principal lists: pending access
// requests, the whitelist, past rejections and upgraded users. Usernames are
// stored normalized.
package access

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/types"
)

type RecordsConfig struct {
	Store  store.Store
	Logger *slog.Logger
	// Now overrides the clock, for tests
	Now func() time.Time
}

type Records struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

func New(cfg RecordsConfig) *Records {
	r := &Records{
		store:  cfg.Store,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	r.logger = r.logger.With("component", "access")
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

func normalize(username string) (string, error) {
	if !types.ValidUsername(username) {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidUsername, username)
	}
	return types.NormalizeUsername(username), nil
}

// StoreAccessRequest records a request for whitelisting. A second pending
// request for the same username returns ErrAlreadyRequested and an already
// whitelisted principal gets ErrAlreadyWhitelisted. The list keeps the 100
// most recent requests.
func (r *Records) StoreAccessRequest(
	ctx context.Context,
	username string,
	reason string,
) (types.AccessRequest, error) {
	u, err := normalize(username)
	if err != nil {
		return types.AccessRequest{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return types.AccessRequest{}, types.ErrReasonRequired
	}
	whitelisted, err := r.IsWhitelisted(ctx, u)
	if err != nil {
		return types.AccessRequest{}, err
	}
	if whitelisted {
		return types.AccessRequest{}, types.ErrAlreadyWhitelisted
	}
	req := types.AccessRequest{
		Username:    u,
		Reason:      reason,
		RequestedAt: r.now(),
	}
	err = store.MutateJSON(
		ctx,
		r.store,
		types.AccessRequestsKey,
		func(cur []types.AccessRequest, _ bool) ([]types.AccessRequest, error) {
			for _, existing := range cur {
				if types.NormalizeUsername(existing.Username) == u {
					return nil, types.ErrAlreadyRequested
				}
			}
			next := append(cur, req)
			if len(next) > types.MaxListRecords {
				// Evict oldest
				next = next[len(next)-types.MaxListRecords:]
			}
			return next, nil
		},
	)
	if err != nil {
		return types.AccessRequest{}, err
	}
	r.logger.Info("access requested", "username", u)
	return req, nil
}

func (r *Records) ListAccessRequests(
	ctx context.Context,
) ([]types.AccessRequest, error) {
	return store.GetList[types.AccessRequest](ctx, r.store, types.AccessRequestsKey)
}

// HasAccessRequest reports whether a request is pending for username
func (r *Records) HasAccessRequest(
	ctx context.Context,
	username string,
) (bool, error) {
	u := types.NormalizeUsername(username)
	reqs, err := r.ListAccessRequests(ctx)
	if err != nil {
		return false, err
	}
	for _, req := range reqs {
		if types.NormalizeUsername(req.Username) == u {
			return true, nil
		}
	}
	return false, nil
}

// RemoveAccessRequests removes every pending request for username, including
// duplicates, and returns how many were removed
func (r *Records) RemoveAccessRequests(
	ctx context.Context,
	username string,
) (int, error) {
	u := types.NormalizeUsername(username)
	return store.RemoveFromList(
		ctx,
		r.store,
		types.AccessRequestsKey,
		func(req types.AccessRequest) bool {
			return types.NormalizeUsername(req.Username) == u
		},
	)
}

// UpdateAccessRequests rewrites the request list with fn in one atomic
// read-modify-write. fn may run more than once and may return
// store.ErrSkipWrite to leave the list untouched.
func (r *Records) UpdateAccessRequests(
	ctx context.Context,
	fn func([]types.AccessRequest) ([]types.AccessRequest, error),
) error {
	return store.MutateJSON(
		ctx,
		r.store,
		types.AccessRequestsKey,
		func(cur []types.AccessRequest, _ bool) ([]types.AccessRequest, error) {
			return fn(cur)
		},
	)
}

func (r *Records) IsWhitelisted(
	ctx context.Context,
	username string,
) (bool, error) {
	u := types.NormalizeUsername(username)
	list, err := r.ListWhitelisted(ctx)
	if err != nil {
		return false, err
	}
	for _, w := range list {
		if types.NormalizeUsername(w.Username) == u {
			return true, nil
		}
	}
	return false, nil
}

func (r *Records) ListWhitelisted(
	ctx context.Context,
) ([]types.WhitelistedUser, error) {
	return store.GetList[types.WhitelistedUser](ctx, r.store, types.WhitelistedUsersKey)
}

// AddToWhitelist whitelists username and clears any earlier rejection. added
// is false when the principal was already whitelisted.
func (r *Records) AddToWhitelist(
	ctx context.Context,
	username string,
) (added bool, err error) {
	u, err := normalize(username)
	if err != nil {
		return false, err
	}
	err = store.MutateJSON(
		ctx,
		r.store,
		types.WhitelistedUsersKey,
		func(cur []types.WhitelistedUser, _ bool) ([]types.WhitelistedUser, error) {
			added = false
			for _, w := range cur {
				if types.NormalizeUsername(w.Username) == u {
					return nil, store.ErrSkipWrite
				}
			}
			added = true
			return append(cur, types.WhitelistedUser{
				Username:   u,
				ApprovedAt: r.now(),
			}), nil
		},
	)
	if err != nil {
		return false, err
	}
	if _, err := r.RemoveFromRejected(ctx, u); err != nil {
		return added, err
	}
	if added {
		r.logger.Info("user whitelisted", "username", u)
	}
	return added, nil
}

func (r *Records) RemoveFromWhitelist(
	ctx context.Context,
	username string,
) (int, error) {
	u := types.NormalizeUsername(username)
	return store.RemoveFromList(
		ctx,
		r.store,
		types.WhitelistedUsersKey,
		func(w types.WhitelistedUser) bool {
			return types.NormalizeUsername(w.Username) == u
		},
	)
}

func (r *Records) ListRejected(
	ctx context.Context,
) ([]types.RejectedUser, error) {
	return store.GetList[types.RejectedUser](ctx, r.store, types.RejectedUsersKey)
}

// AddToRejected records a rejection. A principal that is already whitelisted
// is left alone and recorded is false, so the whitelist and the rejected
// list never both hold the same name.
func (r *Records) AddToRejected(
	ctx context.Context,
	username string,
) (recorded bool, err error) {
	u, err := normalize(username)
	if err != nil {
		return false, err
	}
	whitelisted, err := r.IsWhitelisted(ctx, u)
	if err != nil {
		return false, err
	}
	if whitelisted {
		r.logger.Info(
			"not recording rejection for whitelisted user",
			"username", u,
		)
		return false, nil
	}
	err = store.MutateJSON(
		ctx,
		r.store,
		types.RejectedUsersKey,
		func(cur []types.RejectedUser, _ bool) ([]types.RejectedUser, error) {
			next := make([]types.RejectedUser, 0, len(cur)+1)
			for _, rej := range cur {
				if types.NormalizeUsername(rej.Username) != u {
					next = append(next, rej)
				}
			}
			return append(next, types.RejectedUser{
				Username:   u,
				RejectedAt: r.now(),
			}), nil
		},
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Records) RemoveFromRejected(
	ctx context.Context,
	username string,
) (int, error) {
	u := types.NormalizeUsername(username)
	return store.RemoveFromList(
		ctx,
		r.store,
		types.RejectedUsersKey,
		func(rej types.RejectedUser) bool {
			return types.NormalizeUsername(rej.Username) == u
		},
	)
}

func (r *Records) IsUpgraded(
	ctx context.Context,
	username string,
) (bool, error) {
	u := types.NormalizeUsername(username)
	list, err := r.ListUpgraded(ctx)
	if err != nil {
		return false, err
	}
	for _, up := range list {
		if types.NormalizeUsername(up.Username) == u {
			return true, nil
		}
	}
	return false, nil
}

func (r *Records) ListUpgraded(
	ctx context.Context,
) ([]types.UpgradedUser, error) {
	return store.GetList[types.UpgradedUser](ctx, r.store, types.UpgradedUsersKey)
}

// AddUpgraded grants upgraded status. added is false when the principal was
// already upgraded.
func (r *Records) AddUpgraded(
	ctx context.Context,
	username string,
) (added bool, err error) {
	u, err := normalize(username)
	if err != nil {
		return false, err
	}
	err = store.MutateJSON(
		ctx,
		r.store,
		types.UpgradedUsersKey,
		func(cur []types.UpgradedUser, _ bool) ([]types.UpgradedUser, error) {
			added = false
			for _, up := range cur {
				if types.NormalizeUsername(up.Username) == u {
					return nil, store.ErrSkipWrite
				}
			}
			added = true
			return append(cur, types.UpgradedUser{
				Username:   u,
				UpgradedAt: r.now(),
			}), nil
		},
	)
	if err != nil {
		return false, err
	}
	if added {
		r.logger.Info("user upgraded", "username", u)
	}
	return added, nil
}

func (r *Records) RemoveUpgraded(
	ctx context.Context,
	username string,
) (int, error) {
	u := types.NormalizeUsername(username)
	return store.RemoveFromList(
		ctx,
		r.store,
		types.UpgradedUsersKey,
		func(up types.UpgradedUser) bool {
			return types.NormalizeUsername(up.Username) == u
		},
	)
}
