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

package gormkv_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/store/plugin/internal/gormkv"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dbCounter atomic.Uint64

func newKV(t *testing.T, now func() time.Time) *gormkv.KV {
	t.Helper()
	dsn := fmt.Sprintf("file:gormkv-test-%d?mode=memory&cache=shared", dbCounter.Add(1))
	kv, err := gormkv.Open(sqlite.Open(dsn), gormkv.Config{Now: now})
	require.NoError(t, err)
	sqlDB, err := kv.DB().DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestGetSetDelete(t *testing.T) {
	ctx := t.Context()
	kv := newKV(t, nil)

	_, err := kv.Get(ctx, "k")
	require.ErrorIs(t, err, store.ErrKeyNotFound)

	require.NoError(t, kv.Set(ctx, "k", []byte("one")))
	require.NoError(t, kv.Set(ctx, "k", []byte("two")))
	val, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), val)

	require.NoError(t, kv.Delete(ctx, "k"))
	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	require.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestExpiryAndSweep(t *testing.T) {
	ctx := t.Context()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	kv := newKV(t, func() time.Time { return now })

	require.NoError(t, kv.SetWithExpiry(ctx, "cooldown:alice", []byte("{}"), 90*time.Second))
	now = now.Add(119 * time.Second)
	_, err := kv.Get(ctx, "cooldown:alice")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = kv.Get(ctx, "cooldown:alice")
	require.ErrorIs(t, err, store.ErrKeyNotFound)

	require.NoError(t, kv.Sweep())
	var count int64
	require.NoError(t, kv.DB().Model(&gormkv.Record{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestUpdateRewriteClearsExpiry(t *testing.T) {
	ctx := t.Context()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	kv := newKV(t, func() time.Time { return now })

	require.NoError(t, kv.SetWithExpiry(ctx, "k", []byte("a"), time.Minute))
	require.NoError(t, kv.Update(ctx, "k", func(cur []byte, exists bool) ([]byte, error) {
		require.True(t, exists)
		return append(cur, 'b'), nil
	}))
	now = now.Add(time.Hour)
	val, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), val)
}

func TestUpdateConflictOnExistingRow(t *testing.T) {
	ctx := t.Context()
	kv := newKV(t, nil)
	require.NoError(t, kv.Set(ctx, "list", []byte("[]")))

	err := kv.Update(ctx, "list", func([]byte, bool) ([]byte, error) {
		// A competing writer bumps the version after our read
		require.NoError(t, kv.Set(ctx, "list", []byte("[2]")))
		return []byte("[1]"), nil
	})
	require.ErrorIs(t, err, store.ErrTxnConflict)
	val, err := kv.Get(ctx, "list")
	require.NoError(t, err)
	assert.Equal(t, []byte("[2]"), val)
}

func TestUpdateConflictOnInsert(t *testing.T) {
	ctx := t.Context()
	kv := newKV(t, nil)

	err := kv.Update(ctx, "vouched_users", func(_ []byte, exists bool) ([]byte, error) {
		require.False(t, exists)
		require.NoError(t, kv.Set(ctx, "vouched_users", []byte("[\"bob\"]")))
		return []byte("[\"carol\"]"), nil
	})
	require.ErrorIs(t, err, store.ErrTxnConflict)
	val, err := kv.Get(ctx, "vouched_users")
	require.NoError(t, err)
	assert.Equal(t, []byte("[\"bob\"]"), val)
}

func TestUpdateDeleteAndSkip(t *testing.T) {
	ctx := t.Context()
	kv := newKV(t, nil)
	require.NoError(t, kv.Set(ctx, "k", []byte("v")))

	require.NoError(t, kv.Update(ctx, "k", func([]byte, bool) ([]byte, error) {
		return nil, store.ErrSkipWrite
	}))
	_, err := kv.Get(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, kv.Update(ctx, "k", func([]byte, bool) ([]byte, error) {
		return nil, nil
	}))
	_, err = kv.Get(ctx, "k")
	require.ErrorIs(t, err, store.ErrKeyNotFound)

	// Deleting an absent key through Update is a no-op
	require.NoError(t, kv.Update(ctx, "k", func([]byte, bool) ([]byte, error) {
		return nil, nil
	}))
}

func TestMutateRetriesVersionConflict(t *testing.T) {
	ctx := t.Context()
	kv := newKV(t, nil)
	require.NoError(t, kv.Set(ctx, "n", []byte("0")))

	attempts := 0
	err := store.Mutate(ctx, kv, "n", func(cur []byte, _ bool) ([]byte, error) {
		attempts++
		if attempts == 1 {
			require.NoError(t, kv.Set(ctx, "n", []byte("5")))
		}
		return append(cur, '!'), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	val, err := kv.Get(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, []byte("5!"), val)
}
