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

// Package sqlite implements the faucet store on SQLite through gorm
package sqlite

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/blinklabs-io/faucet/store/plugin/internal/gormkv"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
)

var memoryDbCounter atomic.Uint64

// StoreSqlite is a SQLite-backed faucet store
type StoreSqlite struct {
	*gormkv.KV
	promRegistry prometheus.Registerer
	logger       *slog.Logger
	dataDir      string
}

// New creates a SQLite store. Uses an in-memory database if dataDir is empty.
func New(
	dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*StoreSqlite, error) {
	return NewWithOptions(
		WithDataDir(dataDir),
		WithLogger(logger),
		WithPromRegistry(promRegistry),
	)
}

// NewWithOptions creates a SQLite store with options
func NewWithOptions(opts ...SqliteOptionFunc) (*StoreSqlite, error) {
	s := &StoreSqlite{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var dsn string
	if s.dataDir == "" {
		// Each in-memory store gets its own named database so that
		// stores in one process do not share state
		dsn = fmt.Sprintf(
			"file:faucet-%d?mode=memory&cache=shared",
			memoryDbCounter.Add(1),
		)
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(s.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(s.dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		// WAL journal mode, wait on a locked database rather than failing
		dsn = fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
			filepath.Join(s.dataDir, "faucet.sqlite"),
		)
	}
	kv, err := gormkv.Open(
		sqlite.Open(dsn),
		gormkv.Config{
			Logger: s.logger.With("component", "store"),
		},
	)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers, which SQLite requires anyway
	sqlDB, err := kv.DB().DB()
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	s.KV = kv
	if s.promRegistry != nil {
		if err := gormkv.RegisterPoolMetrics(s.promRegistry, "faucet_sqlite", sqlDB); err != nil {
			s.logger.Warn(
				"failed to register store pool metrics",
				"component", "store",
				"error", err,
			)
		}
	}
	return s, nil
}

// Start implements the plugin.Plugin interface
func (s *StoreSqlite) Start() error {
	// Database is already opened in New(), so this is a no-op
	return nil
}

// Stop implements the plugin.Plugin interface
func (s *StoreSqlite) Stop() error {
	return s.Close()
}
