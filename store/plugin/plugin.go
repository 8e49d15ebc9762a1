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

// Package plugin is the registry of selectable store backends. Backends
// register themselves from init() along with their options, which can be set
// from command line flags, environment variables or a config file section.
package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/blinklabs-io/faucet/store"
)

// Plugin is a store backend with a lifecycle
type Plugin interface {
	store.Store
	Start() error
	Stop() error
}

// ErrorPlugin is a plugin that always returns an error
type ErrorPlugin struct {
	Err error
}

func (e *ErrorPlugin) Start() error {
	return e.Err
}

func (e *ErrorPlugin) Stop() error {
	return nil
}

func (e *ErrorPlugin) Get(context.Context, string) ([]byte, error) {
	return nil, e.Err
}

func (e *ErrorPlugin) Set(context.Context, string, []byte) error {
	return e.Err
}

func (e *ErrorPlugin) SetWithExpiry(
	context.Context,
	string,
	[]byte,
	time.Duration,
) error {
	return e.Err
}

func (e *ErrorPlugin) Delete(context.Context, string) error {
	return e.Err
}

func (e *ErrorPlugin) Update(context.Context, string, store.UpdateFunc) error {
	return e.Err
}

func (e *ErrorPlugin) Close() error {
	return nil
}

// NewErrorPlugin creates a new error plugin that returns the given error on Start()
func NewErrorPlugin(err error) Plugin {
	return &ErrorPlugin{Err: err}
}

// StartPlugin gets a plugin from the registry and starts it
func StartPlugin(pluginName string) (Plugin, error) {
	p := GetPlugin(pluginName)
	if p == nil {
		return nil, fmt.Errorf("store plugin '%s' not found", pluginName)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf(
			"failed to start store plugin '%s': %w",
			pluginName,
			err,
		)
	}
	return p, nil
}

// SetPluginOption sets the value of a named option for a plugin entry. It
// returns an error if the plugin is not found or if the value type does not
// match the option. Setting an option the plugin does not have is a no-op.
// The new value applies to plugins instantiated afterwards.
func SetPluginOption(pluginName string, optionName string, value any) error {
	pluginEntriesMutex.RLock()
	defer pluginEntriesMutex.RUnlock()
	for i := range pluginEntries {
		p := &pluginEntries[i]
		if p.Name != pluginName {
			continue
		}
		for _, opt := range p.Options {
			if opt.Name != optionName {
				continue
			}
			return assignOption(opt, value)
		}
		return nil
	}
	return fmt.Errorf("store plugin %s not found", pluginName)
}

func assignOption(opt PluginOption, value any) error {
	if opt.Dest == nil {
		return fmt.Errorf("nil destination for option %s", opt.Name)
	}
	switch opt.Type {
	case PluginOptionTypeString:
		return assign[string](opt, value)
	case PluginOptionTypeBool:
		return assign[bool](opt, value)
	case PluginOptionTypeInt:
		return assign[int](opt, value)
	case PluginOptionTypeUint:
		// accept uint64 or int
		if tv, ok := value.(int); ok {
			if tv < 0 {
				return fmt.Errorf(
					"invalid value for option %s: negative int",
					opt.Name,
				)
			}
			value = uint64(tv)
		}
		return assign[uint64](opt, value)
	default:
		return fmt.Errorf(
			"unknown plugin option type %d for option %s",
			opt.Type,
			opt.Name,
		)
	}
}

func assign[T any](opt PluginOption, value any) error {
	v, ok := value.(T)
	if !ok {
		return fmt.Errorf(
			"invalid type for option %s: expected %T",
			opt.Name,
			*new(T),
		)
	}
	dest, ok := opt.Dest.(*T)
	if !ok || dest == nil {
		return fmt.Errorf(
			"invalid destination for option %s: expected *%T",
			opt.Name,
			*new(T),
		)
	}
	optionsMutex.Lock()
	*dest = v
	optionsMutex.Unlock()
	return nil
}
