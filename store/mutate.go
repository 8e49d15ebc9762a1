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

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blinklabs-io/faucet/types"
	"github.com/cenkalti/backoff/v4"
)

// MaxUpdateAttempts bounds the optimistic retries of a single
// read-modify-write
const MaxUpdateAttempts = 3

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 0
	return backoff.WithContext(
		backoff.WithMaxRetries(b, MaxUpdateAttempts-1),
		ctx,
	)
}

// Mutate runs s.Update, retrying on ErrTxnConflict with a short jittered
// backoff. When every attempt conflicts it returns an error matching
// types.ErrConflict.
func Mutate(ctx context.Context, s Store, key string, fn UpdateFunc) error {
	err := backoff.Retry(
		func() error {
			err := s.Update(ctx, key, fn)
			if err == nil || errors.Is(err, ErrTxnConflict) {
				return err
			}
			return backoff.Permanent(err)
		},
		newRetryBackoff(ctx),
	)
	if errors.Is(err, ErrTxnConflict) {
		return fmt.Errorf("%w: %s", types.ErrConflict, key)
	}
	return err
}

// GetJSON loads and decodes a JSON record. found is false when the key is
// absent.
func GetJSON[T any](
	ctx context.Context,
	s Store,
	key string,
) (val T, found bool, err error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return val, false, nil
		}
		return val, false, err
	}
	if err := json.Unmarshal(raw, &val); err != nil {
		return val, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return val, true, nil
}

// SetJSON encodes and stores a JSON record, with a physical expiry when ttl
// is positive
func SetJSON(
	ctx context.Context,
	s Store,
	key string,
	val any,
	ttl time.Duration,
) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if ttl > 0 {
		return s.SetWithExpiry(ctx, key, raw, ttl)
	}
	return s.Set(ctx, key, raw)
}

// MutateJSON is Mutate over a JSON-encoded record. fn receives the decoded
// current value (zero value when absent) and returns the next value.
// Returning ErrSkipWrite from fn leaves the record untouched.
func MutateJSON[T any](
	ctx context.Context,
	s Store,
	key string,
	fn func(current T, exists bool) (T, error),
) error {
	return Mutate(
		ctx,
		s,
		key,
		func(raw []byte, exists bool) ([]byte, error) {
			var cur T
			if exists {
				if err := json.Unmarshal(raw, &cur); err != nil {
					return nil, fmt.Errorf("decode %s: %w", key, err)
				}
			}
			next, err := fn(cur, exists)
			if err != nil {
				return nil, err
			}
			return json.Marshal(next)
		},
	)
}
