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

package badger

import (
	"github.com/blinklabs-io/faucet/store/plugin"
)

// Defaults for the badger plugin options. Cache sizes are in bytes.
const (
	DefaultBlockCacheSize = 64 << 20
	DefaultIndexCacheSize = 32 << 20
	DefaultDataDir        = ".faucet"
)

var flags struct {
	dataDir        string
	blockCacheSize uint64
	indexCacheSize uint64
	gc             bool
}

func init() {
	plugin.RegisterStore(
		"badger",
		"BadgerDB local key-value store",
		func() (plugin.Plugin, error) {
			return New(
				WithDataDir(flags.dataDir),
				WithBlockCacheSize(flags.blockCacheSize),
				WithIndexCacheSize(flags.indexCacheSize),
				WithGc(flags.gc),
			)
		},
		plugin.StringOption(
			"data-dir",
			"Data directory for badger storage (empty for in-memory)",
			&flags.dataDir,
			DefaultDataDir,
		),
		plugin.UintOption("block-cache-size", "Badger block cache size", &flags.blockCacheSize, DefaultBlockCacheSize),
		plugin.UintOption("index-cache-size", "Badger index cache size", &flags.indexCacheSize, DefaultIndexCacheSize),
		plugin.BoolOption("gc", "Enable value log garbage collection", &flags.gc, true),
	)
}
