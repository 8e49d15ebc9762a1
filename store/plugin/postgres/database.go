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

// Package postgres implements the faucet store on Postgres through gorm
package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/store/plugin/internal/gormkv"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/postgres"
)

var errNotStarted = errors.New("postgres store not started")

// StorePostgres is a Postgres-backed faucet store. The connection is opened
// by Start.
type StorePostgres struct {
	promRegistry prometheus.Registerer
	kv           *gormkv.KV
	logger       *slog.Logger
	conn         Connection
}

// NewWithOptions creates a new store with options
func NewWithOptions(opts ...PostgresOptionFunc) (*StorePostgres, error) {
	p := &StorePostgres{}
	for _, opt := range opts {
		opt(p)
	}
	p.conn = p.conn.withDefaults()
	if p.logger == nil {
		p.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return p, nil
}

// DSN returns the connection string used by Start
func (p *StorePostgres) DSN() string {
	return p.conn.String()
}

// Start implements the plugin.Plugin interface
func (p *StorePostgres) Start() error {
	kv, err := gormkv.Open(
		postgres.Open(p.DSN()),
		gormkv.Config{
			Logger: p.logger.With("component", "store"),
		},
	)
	if err != nil {
		return err
	}
	p.logger.Info(
		"connected to postgres store",
		"component", "store",
		"host", p.conn.Host,
		"port", p.conn.Port,
		"database", p.conn.Database,
	)
	// Configure connection pool
	sqlDB, err := kv.DB().DB()
	if err != nil {
		_ = kv.Close()
		return err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if p.promRegistry != nil {
		if err := gormkv.RegisterPoolMetrics(p.promRegistry, "faucet_postgres", sqlDB); err != nil {
			p.logger.Warn(
				"failed to register store pool metrics",
				"component", "store",
				"error", err,
			)
		}
	}
	p.kv = kv
	return nil
}

// Stop implements the plugin.Plugin interface
func (p *StorePostgres) Stop() error {
	return p.Close()
}

func (p *StorePostgres) Close() error {
	// Guard against Start() never having succeeded
	if p.kv == nil {
		return nil
	}
	return p.kv.Close()
}

func (p *StorePostgres) Get(ctx context.Context, key string) ([]byte, error) {
	if p.kv == nil {
		return nil, errNotStarted
	}
	return p.kv.Get(ctx, key)
}

func (p *StorePostgres) Set(ctx context.Context, key string, val []byte) error {
	if p.kv == nil {
		return errNotStarted
	}
	return p.kv.Set(ctx, key, val)
}

func (p *StorePostgres) SetWithExpiry(
	ctx context.Context,
	key string,
	val []byte,
	ttl time.Duration,
) error {
	if p.kv == nil {
		return errNotStarted
	}
	return p.kv.SetWithExpiry(ctx, key, val, ttl)
}

func (p *StorePostgres) Delete(ctx context.Context, key string) error {
	if p.kv == nil {
		return errNotStarted
	}
	return p.kv.Delete(ctx, key)
}

func (p *StorePostgres) Update(
	ctx context.Context,
	key string,
	fn store.UpdateFunc,
) error {
	if p.kv == nil {
		return errNotStarted
	}
	return p.kv.Update(ctx, key, fn)
}
