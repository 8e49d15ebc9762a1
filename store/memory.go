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
	"errors"
	"slices"
	"sync"
	"time"
)

type memoryEntry struct {
	expiresAt time.Time
	val       []byte
}

// MemoryStore is a map-backed Store. Update holds the store lock for the
// whole read-modify-write, so it never reports a conflict.
type MemoryStore struct {
	entries map[string]memoryEntry
	now     func() time.Time
	mu      sync.Mutex
	closed  bool
}

// NewMemory returns an empty in-memory store
func NewMemory() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// NewMemoryWithClock returns an in-memory store whose TTLs are evaluated
// against the supplied clock
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	m := NewMemory()
	if now != nil {
		m.now = now
	}
	return m
}

// get returns the live value for key. Caller must hold m.mu.
func (m *MemoryStore) get(key string) ([]byte, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return e.val, true
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	val, ok := m.get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return slices.Clone(val), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.entries[key] = memoryEntry{val: slices.Clone(val)}
	return nil
}

func (m *MemoryStore) SetWithExpiry(
	_ context.Context,
	key string,
	val []byte,
	ttl time.Duration,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	e := memoryEntry{val: slices.Clone(val)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttlSeconds(ttl))
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) Update(
	_ context.Context,
	key string,
	fn UpdateFunc,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	cur, exists := m.get(key)
	next, err := fn(slices.Clone(cur), exists)
	if err != nil {
		if errors.Is(err, ErrSkipWrite) {
			return nil
		}
		return err
	}
	if next == nil {
		delete(m.entries, key)
		return nil
	}
	// A rewrite drops any TTL, matching a plain Set
	m.entries[key] = memoryEntry{val: slices.Clone(next)}
	return nil
}

// Close marks the store closed. Later operations return ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of live keys
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for k := range m.entries {
		if _, ok := m.get(k); ok {
			count++
		}
	}
	return count
}
