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

package plugin

import "sync"

// optionsMutex guards every option destination. Writes go through
// SetPluginOption and reads happen while a RegisterStore constructor runs.
var optionsMutex sync.RWMutex

// StringOption declares a string option stored in dest, which is set to def
func StringOption(name, description string, dest *string, def string) PluginOption {
	*dest = def
	return PluginOption{
		Name:         name,
		Type:         PluginOptionTypeString,
		Description:  description,
		DefaultValue: def,
		Dest:         dest,
	}
}

// UintOption declares a uint option stored in dest, which is set to def
func UintOption(name, description string, dest *uint64, def uint64) PluginOption {
	*dest = def
	return PluginOption{
		Name:         name,
		Type:         PluginOptionTypeUint,
		Description:  description,
		DefaultValue: def,
		Dest:         dest,
	}
}

// BoolOption declares a bool option stored in dest, which is set to def
func BoolOption(name, description string, dest *bool, def bool) PluginOption {
	*dest = def
	return PluginOption{
		Name:         name,
		Type:         PluginOptionTypeBool,
		Description:  description,
		DefaultValue: def,
		Dest:         dest,
	}
}

// RegisterStore registers a store backend. build reads the option
// destinations and runs with them read-locked. A build error is returned
// from the plugin's Start.
func RegisterStore(
	name string,
	description string,
	build func() (Plugin, error),
	opts ...PluginOption,
) {
	Register(PluginEntry{
		Name:        name,
		Description: description,
		Options:     opts,
		NewFromOptionsFunc: func() Plugin {
			optionsMutex.RLock()
			p, err := build()
			optionsMutex.RUnlock()
			if err != nil {
				return NewErrorPlugin(err)
			}
			return p
		},
	})
}
