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

package sqlite_test

import (
	"testing"

	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/store/plugin/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoresAreIsolated(t *testing.T) {
	ctx := t.Context()
	a, err := sqlite.New("", nil, nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := sqlite.New("", nil, nil)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Set(ctx, "k", []byte("v")))
	_, err = b.Get(ctx, "k")
	require.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()
	reg := prometheus.NewRegistry()
	s, err := sqlite.New(dir, nil, reg)
	require.NoError(t, err)
	require.NoError(t, store.SetJSON(ctx, s, "whitelisted_users", []string{"alice"}, 0))
	require.NoError(t, s.Stop())

	s, err = sqlite.NewWithOptions(sqlite.WithDataDir(dir))
	require.NoError(t, err)
	defer s.Close()
	users, found, err := store.GetJSON[[]string](ctx, s, "whitelisted_users")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"alice"}, users)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}
