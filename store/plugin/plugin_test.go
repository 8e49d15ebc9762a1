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

package plugin_test

import (
	"errors"
	"testing"

	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/store/plugin"
	_ "github.com/blinklabs-io/faucet/store/plugin/badger"
	_ "github.com/blinklabs-io/faucet/store/plugin/memory"
	_ "github.com/blinklabs-io/faucet/store/plugin/postgres"
	_ "github.com/blinklabs-io/faucet/store/plugin/sqlite"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: these tests mutate global plugin option state and must not run in
// parallel

type mockPlugin struct {
	*store.MemoryStore
}

func (m *mockPlugin) Start() error { return nil }
func (m *mockPlugin) Stop() error  { return nil }

func TestRegisterAndGetPlugins(t *testing.T) {
	name := "test-plugin-" + t.Name()
	plugin.Register(plugin.PluginEntry{
		Name: name,
		NewFromOptionsFunc: func() plugin.Plugin {
			return &mockPlugin{MemoryStore: store.NewMemory()}
		},
	})
	require.NotNil(t, plugin.GetPlugin(name))
	assert.Nil(t, plugin.GetPlugin("does-not-exist"))

	var names []string
	for _, p := range plugin.GetPlugins() {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "badger")
	assert.Contains(t, names, "memory")
	assert.Contains(t, names, "postgres")
	assert.Contains(t, names, "sqlite")
	assert.Contains(t, names, name)
	assert.IsNonDecreasing(t, names)
}

func TestSetPluginOption(t *testing.T) {
	require.NoError(t, plugin.SetPluginOption("sqlite", "data-dir", ""))
	require.Error(t, plugin.SetPluginOption("sqlite", "data-dir", 123))
	// Unknown options are not an error
	require.NoError(t, plugin.SetPluginOption("sqlite", "does-not-exist", "x"))
	require.NoError(t, plugin.SetPluginOption("badger", "block-cache-size", uint64(1<<20)))
	require.NoError(t, plugin.SetPluginOption("badger", "index-cache-size", 1<<20))
	require.Error(t, plugin.SetPluginOption("badger", "index-cache-size", -1))
	require.NoError(t, plugin.SetPluginOption("badger", "gc", false))
	require.Error(t, plugin.SetPluginOption("nonexistent", "data-dir", "x"))
}

func TestStartPlugin(t *testing.T) {
	require.NoError(t, plugin.SetPluginOption("badger", "data-dir", ""))
	p, err := plugin.StartPlugin("badger")
	require.NoError(t, err)
	require.NoError(t, p.Set(t.Context(), "k", []byte("v")))
	require.NoError(t, p.Stop())

	_, err = plugin.StartPlugin("nope")
	require.Error(t, err)

	failing := errors.New("cannot open")
	plugin.Register(plugin.PluginEntry{
		Name:               "failing-" + t.Name(),
		NewFromOptionsFunc: func() plugin.Plugin { return plugin.NewErrorPlugin(failing) },
	})
	_, err = plugin.StartPlugin("failing-" + t.Name())
	require.ErrorIs(t, err, failing)
}

func TestCmdlineAndEnvOptions(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, plugin.PopulateCmdlineOptions(fs))
	require.NotNil(t, fs.Lookup("store-badger-data-dir"))
	require.NotNil(t, fs.Lookup("store-postgres-ssl-mode"))
	require.NoError(t, fs.Parse([]string{"--store-sqlite-data-dir", t.TempDir()}))

	t.Setenv("FAUCET_STORE_SQLITE_DATA_DIR", "")
	require.NoError(t, plugin.ProcessEnvVars())
	p, err := plugin.StartPlugin("sqlite")
	require.NoError(t, err)
	require.NoError(t, p.Stop())

	t.Setenv("FAUCET_STORE_BADGER_GC", "not-a-bool")
	require.Error(t, plugin.ProcessEnvVars())
}

func TestProcessConfig(t *testing.T) {
	err := plugin.ProcessConfig(map[string]map[string]any{
		"postgres": {
			"host": "db.internal",
			"port": 6543,
		},
		"badger": {
			"gc":               "false",
			"block-cache-size": 1024,
		},
	})
	require.NoError(t, err)

	err = plugin.ProcessConfig(map[string]map[string]any{
		"mongo": {"host": "x"},
	})
	require.Error(t, err)

	err = plugin.ProcessConfig(map[string]map[string]any{
		"badger": {"block-cache-size": -5},
	})
	require.Error(t, err)
}

type optionPlugin struct {
	mockPlugin
	name    string
	retries uint64
	verbose bool
}

func TestRegisterStore(t *testing.T) {
	name := "options-" + t.Name()
	var opts struct {
		name    string
		retries uint64
		verbose bool
	}
	failing := errors.New("bad options")
	plugin.RegisterStore(
		name,
		"store with options",
		func() (plugin.Plugin, error) {
			if opts.name == "fail" {
				return nil, failing
			}
			return &optionPlugin{
				mockPlugin: mockPlugin{MemoryStore: store.NewMemory()},
				name:       opts.name,
				retries:    opts.retries,
				verbose:    opts.verbose,
			}, nil
		},
		plugin.StringOption("name", "name", &opts.name, "default"),
		plugin.UintOption("retries", "retries", &opts.retries, 3),
		plugin.BoolOption("verbose", "verbose", &opts.verbose, true),
	)

	p, ok := plugin.GetPlugin(name).(*optionPlugin)
	require.True(t, ok)
	assert.Equal(t, "default", p.name)
	assert.Equal(t, uint64(3), p.retries)
	assert.True(t, p.verbose)

	require.NoError(t, plugin.SetPluginOption(name, "retries", 7))
	require.NoError(t, plugin.SetPluginOption(name, "verbose", false))
	p, ok = plugin.GetPlugin(name).(*optionPlugin)
	require.True(t, ok)
	assert.Equal(t, uint64(7), p.retries)
	assert.False(t, p.verbose)

	// Constructor errors surface from Start
	require.NoError(t, plugin.SetPluginOption(name, "name", "fail"))
	_, err := plugin.StartPlugin(name)
	require.ErrorIs(t, err, failing)
}
