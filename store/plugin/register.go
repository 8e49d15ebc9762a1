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

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/pflag"
)

const envPrefix = "FAUCET_STORE_"

type PluginOptionType int

const (
	PluginOptionTypeString PluginOptionType = iota + 1
	PluginOptionTypeBool
	PluginOptionTypeInt
	PluginOptionTypeUint
)

type PluginOption struct {
	Name         string
	Type         PluginOptionType
	Description  string
	DefaultValue any
	Dest         any
}

type PluginEntry struct {
	Name               string
	Description        string
	NewFromOptionsFunc func() Plugin
	Options            []PluginOption
}

var (
	pluginEntries      []PluginEntry
	pluginEntriesMutex sync.RWMutex
)

// Register adds a plugin to the registry. Registering a name twice replaces
// the earlier entry.
func Register(entry PluginEntry) {
	pluginEntriesMutex.Lock()
	defer pluginEntriesMutex.Unlock()
	for i := range pluginEntries {
		if pluginEntries[i].Name == entry.Name {
			pluginEntries[i] = entry
			return
		}
	}
	pluginEntries = append(pluginEntries, entry)
}

// GetPlugin instantiates the named plugin from its current options. It
// returns nil for an unknown name.
func GetPlugin(name string) Plugin {
	pluginEntriesMutex.RLock()
	var newFunc func() Plugin
	for _, p := range pluginEntries {
		if p.Name == name {
			newFunc = p.NewFromOptionsFunc
			break
		}
	}
	pluginEntriesMutex.RUnlock()
	if newFunc == nil {
		return nil
	}
	return newFunc()
}

// GetPlugins returns the registered plugin entries sorted by name
func GetPlugins() []PluginEntry {
	pluginEntriesMutex.RLock()
	ret := slices.Clone(pluginEntries)
	pluginEntriesMutex.RUnlock()
	slices.SortFunc(ret, func(a, b PluginEntry) int {
		return strings.Compare(a.Name, b.Name)
	})
	return ret
}

func flagName(pluginName string, optName string) string {
	return "store-" + pluginName + "-" + optName
}

func envName(pluginName string, optName string) string {
	return envPrefix + strings.ToUpper(
		strings.ReplaceAll(pluginName+"_"+optName, "-", "_"),
	)
}

// PopulateCmdlineOptions registers a flag for every plugin option on the
// provided flagset
func PopulateCmdlineOptions(fs *pflag.FlagSet) error {
	pluginEntriesMutex.RLock()
	defer pluginEntriesMutex.RUnlock()
	for _, p := range pluginEntries {
		for _, opt := range p.Options {
			name := flagName(p.Name, opt.Name)
			switch opt.Type {
			case PluginOptionTypeString:
				dest, ok := opt.Dest.(*string)
				if !ok {
					return fmt.Errorf("option %s: destination is not *string", name)
				}
				def, _ := opt.DefaultValue.(string)
				fs.StringVar(dest, name, def, opt.Description)
			case PluginOptionTypeBool:
				dest, ok := opt.Dest.(*bool)
				if !ok {
					return fmt.Errorf("option %s: destination is not *bool", name)
				}
				def, _ := opt.DefaultValue.(bool)
				fs.BoolVar(dest, name, def, opt.Description)
			case PluginOptionTypeInt:
				dest, ok := opt.Dest.(*int)
				if !ok {
					return fmt.Errorf("option %s: destination is not *int", name)
				}
				def, _ := opt.DefaultValue.(int)
				fs.IntVar(dest, name, def, opt.Description)
			case PluginOptionTypeUint:
				dest, ok := opt.Dest.(*uint64)
				if !ok {
					return fmt.Errorf("option %s: destination is not *uint64", name)
				}
				def, _ := opt.DefaultValue.(uint64)
				fs.Uint64Var(dest, name, def, opt.Description)
			default:
				return fmt.Errorf("option %s: unknown type %d", name, opt.Type)
			}
		}
	}
	return nil
}

// ProcessEnvVars applies FAUCET_STORE_<PLUGIN>_<OPTION> environment
// variables to plugin options
func ProcessEnvVars() error {
	pluginEntriesMutex.RLock()
	entries := slices.Clone(pluginEntries)
	pluginEntriesMutex.RUnlock()
	for _, p := range entries {
		for _, opt := range p.Options {
			raw, ok := os.LookupEnv(envName(p.Name, opt.Name))
			if !ok {
				continue
			}
			val, err := parseOptionValue(opt.Type, raw)
			if err != nil {
				return fmt.Errorf(
					"environment %s: %w",
					envName(p.Name, opt.Name),
					err,
				)
			}
			if err := SetPluginOption(p.Name, opt.Name, val); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProcessConfig applies a per-plugin config section, as decoded from YAML,
// to plugin options. Unknown plugins are an error; unknown options are
// ignored.
func ProcessConfig(sections map[string]map[string]any) error {
	for pluginName, section := range sections {
		if !pluginExists(pluginName) {
			return fmt.Errorf("unknown store plugin %q in config", pluginName)
		}
		for optName, raw := range section {
			val, err := coerceConfigValue(pluginName, optName, raw)
			if err != nil {
				return err
			}
			if err := SetPluginOption(pluginName, optName, val); err != nil {
				return err
			}
		}
	}
	return nil
}

func pluginExists(name string) bool {
	pluginEntriesMutex.RLock()
	defer pluginEntriesMutex.RUnlock()
	for _, p := range pluginEntries {
		if p.Name == name {
			return true
		}
	}
	return false
}

func optionType(pluginName string, optName string) (PluginOptionType, bool) {
	pluginEntriesMutex.RLock()
	defer pluginEntriesMutex.RUnlock()
	for _, p := range pluginEntries {
		if p.Name != pluginName {
			continue
		}
		for _, opt := range p.Options {
			if opt.Name == optName {
				return opt.Type, true
			}
		}
	}
	return 0, false
}

// coerceConfigValue converts a YAML-decoded scalar to the Go type expected
// by the option
func coerceConfigValue(
	pluginName string,
	optName string,
	raw any,
) (any, error) {
	typ, ok := optionType(pluginName, optName)
	if !ok {
		return raw, nil
	}
	switch v := raw.(type) {
	case string:
		val, err := parseOptionValue(typ, v)
		if err != nil {
			return nil, fmt.Errorf("config %s.%s: %w", pluginName, optName, err)
		}
		return val, nil
	case int:
		if typ == PluginOptionTypeUint {
			if v < 0 {
				return nil, fmt.Errorf("config %s.%s: negative value", pluginName, optName)
			}
			return uint64(v), nil
		}
		return v, nil
	case uint64:
		if typ == PluginOptionTypeInt {
			return int(v), nil //nolint:gosec // config values are small
		}
		return v, nil
	default:
		return raw, nil
	}
}

func parseOptionValue(typ PluginOptionType, raw string) (any, error) {
	switch typ {
	case PluginOptionTypeString:
		return raw, nil
	case PluginOptionTypeBool:
		return strconv.ParseBool(raw)
	case PluginOptionTypeInt:
		return strconv.Atoi(raw)
	case PluginOptionTypeUint:
		return strconv.ParseUint(raw, 10, 64)
	default:
		return nil, fmt.Errorf("unknown option type %d", typ)
	}
}
