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

// Package memory registers the in-process map store as a plugin. Its data
// does not survive a restart.
package memory

import (
	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/store/plugin"
)

func init() {
	plugin.RegisterStore(
		"memory",
		"In-memory map, not persisted",
		func() (plugin.Plugin, error) {
			return &MemoryPlugin{MemoryStore: store.NewMemory()}, nil
		},
	)
}

// MemoryPlugin adapts store.MemoryStore to the plugin lifecycle
type MemoryPlugin struct {
	*store.MemoryStore
}

// Start implements the plugin.Plugin interface
func (m *MemoryPlugin) Start() error {
	return nil
}

// Stop implements the plugin.Plugin interface
func (m *MemoryPlugin) Stop() error {
	return m.Close()
}
