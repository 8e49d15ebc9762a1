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

// Package store defines the key-value storage boundary used by every faucet
// component, along with an in-memory implementation, a degrading fallback
// wrapper and helpers for optimistic read-modify-write of JSON records.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get when a key is absent or its TTL has passed
var ErrKeyNotFound = errors.New("key not found")

// ErrTxnConflict is returned by Update when another writer changed the key
// between the read and the write
var ErrTxnConflict = errors.New("transaction conflict")

// ErrSkipWrite may be returned from an UpdateFunc to leave the key untouched.
// Update then returns nil.
var ErrSkipWrite = errors.New("skip write")

// ErrStoreClosed is returned by operations on a closed store
var ErrStoreClosed = errors.New("store closed")

// UpdateFunc computes the next value of a key from its current value. exists
// is false when the key is absent. Returning a nil slice deletes the key.
// The function may run more than once when a conflict forces a retry, so it
// must not have side effects beyond its return values.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Store is the uniform record store. Keys are plain strings and values are
// opaque bytes (JSON in practice).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte) error
	// SetWithExpiry stores a value that the backend may physically drop
	// after ttl. Callers must not rely on the drop for correctness.
	SetWithExpiry(
		ctx context.Context,
		key string,
		val []byte,
		ttl time.Duration,
	) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Update atomically applies fn to a single key. Implementations return
	// ErrTxnConflict rather than silently losing a concurrent write.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}

// ttlSeconds rounds a TTL up to whole seconds, the granularity most
// backends expire at
func ttlSeconds(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	secs := (ttl + time.Second - 1) / time.Second
	return secs * time.Second
}

// TTLSeconds exposes the TTL rounding used for physical expiry
func TTLSeconds(ttl time.Duration) time.Duration {
	return ttlSeconds(ttl)
}
