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

// Package history keeps the airdrop audit log, newest first and capped at
// types.MaxListRecords entries
package history

import (
	"context"
	"io"
	"log/slog"

	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/types"
)

// DefaultRecentLimit is the number of records Recent returns for a
// non-positive limit
const DefaultRecentLimit = 10

type LogConfig struct {
	Store  store.Store
	Logger *slog.Logger
}

type Log struct {
	store  store.Store
	logger *slog.Logger
}

func New(cfg LogConfig) *Log {
	l := &Log{
		store:  cfg.Store,
		logger: cfg.Logger,
	}
	if l.logger == nil {
		l.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	l.logger = l.logger.With("component", "history")
	return l
}

// Append adds rec at the head of the log, evicting the oldest entries past
// the cap
func (l *Log) Append(ctx context.Context, rec types.AirdropRecord) error {
	rec.Username = types.NormalizeUsername(rec.Username)
	return store.MutateJSON(
		ctx,
		l.store,
		types.AirdropHistoryKey,
		func(cur []types.AirdropRecord, _ bool) ([]types.AirdropRecord, error) {
			next := make([]types.AirdropRecord, 0, min(len(cur)+1, types.MaxListRecords))
			next = append(next, rec)
			for _, r := range cur {
				if len(next) == types.MaxListRecords {
					break
				}
				next = append(next, r)
			}
			return next, nil
		},
	)
}

// Recent returns up to limit records, newest first
func (l *Log) Recent(
	ctx context.Context,
	limit int,
) ([]types.AirdropRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	list, err := store.GetList[types.AirdropRecord](ctx, l.store, types.AirdropHistoryKey)
	if err != nil {
		return nil, err
	}
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Len returns the number of records in the log
func (l *Log) Len(ctx context.Context) (int, error) {
	list, err := store.GetList[types.AirdropRecord](ctx, l.store, types.AirdropHistoryKey)
	return len(list), err
}

// RemoveUser deletes every record for username and returns how many were
// removed
func (l *Log) RemoveUser(ctx context.Context, username string) (int, error) {
	u := types.NormalizeUsername(username)
	return store.RemoveFromList(
		ctx,
		l.store,
		types.AirdropHistoryKey,
		func(r types.AirdropRecord) bool {
			return types.NormalizeUsername(r.Username) == u
		},
	)
}

// Redact returns a copy of records with the usernames of anonymous payouts
// removed, for public display
func Redact(records []types.AirdropRecord) []types.AirdropRecord {
	out := make([]types.AirdropRecord, len(records))
	for i, r := range records {
		if r.IsAnonymous {
			r.Username = ""
		}
		out[i] = r
	}
	return out
}
