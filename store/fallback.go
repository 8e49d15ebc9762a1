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
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FallbackStore wraps a primary Store and serves any operation the primary
// fails from an in-process map instead of returning the error. Data written
// to the map during an outage is not replayed to the primary.
type FallbackStore struct {
	primary   Store
	memory    *MemoryStore
	logger    *slog.Logger
	fallbacks *prometheus.CounterVec
}

type FallbackOptionFunc func(*FallbackStore)

// WithFallbackLogger specifies the logger used to report primary failures
func WithFallbackLogger(logger *slog.Logger) FallbackOptionFunc {
	return func(f *FallbackStore) {
		f.logger = logger
	}
}

// WithFallbackPromRegistry specifies the prometheus registry for the
// fallback counter
func WithFallbackPromRegistry(
	registry prometheus.Registerer,
) FallbackOptionFunc {
	return func(f *FallbackStore) {
		f.fallbacks = promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_store_fallback_total",
				Help: "store operations served from memory after a primary store failure",
			},
			[]string{"op"},
		)
	}
}

// WithFallbackMemory specifies the in-memory store to degrade to
func WithFallbackMemory(memory *MemoryStore) FallbackOptionFunc {
	return func(f *FallbackStore) {
		f.memory = memory
	}
}

// NewFallback wraps primary
func NewFallback(primary Store, opts ...FallbackOptionFunc) *FallbackStore {
	f := &FallbackStore{
		primary: primary,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.memory == nil {
		f.memory = NewMemory()
	}
	if f.logger == nil {
		f.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return f
}

// passthrough reports whether err is a normal result rather than a backend
// failure
func passthrough(err error) bool {
	return err == nil ||
		errors.Is(err, ErrKeyNotFound) ||
		errors.Is(err, ErrTxnConflict) ||
		errors.Is(err, ErrSkipWrite)
}

func (f *FallbackStore) degrade(op string, key string, err error) {
	f.logger.Warn(
		"primary store failed, using in-memory fallback",
		"component", "store",
		"op", op,
		"key", key,
		"error", err,
	)
	if f.fallbacks != nil {
		f.fallbacks.WithLabelValues(op).Inc()
	}
}

func (f *FallbackStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := f.primary.Get(ctx, key)
	if passthrough(err) {
		return val, err
	}
	f.degrade("get", key, err)
	return f.memory.Get(ctx, key)
}

func (f *FallbackStore) Set(ctx context.Context, key string, val []byte) error {
	err := f.primary.Set(ctx, key, val)
	if passthrough(err) {
		return err
	}
	f.degrade("set", key, err)
	return f.memory.Set(ctx, key, val)
}

func (f *FallbackStore) SetWithExpiry(
	ctx context.Context,
	key string,
	val []byte,
	ttl time.Duration,
) error {
	err := f.primary.SetWithExpiry(ctx, key, val, ttl)
	if passthrough(err) {
		return err
	}
	f.degrade("set_with_expiry", key, err)
	return f.memory.SetWithExpiry(ctx, key, val, ttl)
}

func (f *FallbackStore) Delete(ctx context.Context, key string) error {
	err := f.primary.Delete(ctx, key)
	// Keep the fallback map consistent with deletes either way
	_ = f.memory.Delete(ctx, key)
	if passthrough(err) {
		return err
	}
	f.degrade("delete", key, err)
	return nil
}

func (f *FallbackStore) Update(
	ctx context.Context,
	key string,
	fn UpdateFunc,
) error {
	var fnErr error
	err := f.primary.Update(
		ctx,
		key,
		func(current []byte, exists bool) ([]byte, error) {
			next, err := fn(current, exists)
			fnErr = err
			return next, err
		},
	)
	// Errors produced by fn are business results, not backend failures
	if passthrough(err) || fnErr != nil {
		return err
	}
	f.degrade("update", key, err)
	return f.memory.Update(ctx, key, fn)
}

func (f *FallbackStore) Close() error {
	_ = f.memory.Close()
	return f.primary.Close()
}
