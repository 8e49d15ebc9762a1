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

// Package badger implements the faucet store on BadgerDB. Writes made through
// Update run in an optimistic transaction, so concurrent writers of the same
// key are detected at commit time.
package badger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blinklabs-io/faucet/store"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/prometheus/client_golang/prometheus"
)

const gcInterval = 5 * time.Minute

// StoreBadger stores all data in badger. Data is not persisted when no data
// directory is configured.
type StoreBadger struct {
	promRegistry   prometheus.Registerer
	db             *badger.DB
	logger         *slog.Logger
	conflicts      prometheus.Counter
	gcTicker       *time.Ticker
	gcStopCh       chan struct{}
	dataDir        string
	gcWg           sync.WaitGroup
	closeOnce      sync.Once
	blockCacheSize uint64
	indexCacheSize uint64
	gcEnabled      bool
}

// New creates a new database
func New(opts ...StoreBadgerOptionFunc) (*StoreBadger, error) {
	db := &StoreBadger{
		gcEnabled:      true,
		blockCacheSize: DefaultBlockCacheSize,
		indexCacheSize: DefaultIndexCacheSize,
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		db.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	var badgerOpts badger.Options
	if db.dataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true)
		// Nothing to reclaim without a value log on disk
		db.gcEnabled = false
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(db.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(db.dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(db.dataDir, "store")).
			WithBlockCacheSize(int64(db.blockCacheSize)). //nolint:gosec // blockCacheSize is controlled and reasonable
			WithIndexCacheSize(int64(db.indexCacheSize)). //nolint:gosec // indexCacheSize is controlled and reasonable
			WithCompression(options.Snappy)
	}
	badgerOpts = badgerOpts.
		WithLogger(NewBadgerLogger(db.logger)).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)
	bdb, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}
	db.db = bdb
	if db.promRegistry != nil {
		db.registerMetrics()
	}
	if db.gcEnabled {
		db.gcTicker = time.NewTicker(gcInterval)
		db.gcStopCh = make(chan struct{})
		db.gcWg.Add(1)
		go db.valueLogGc(db.gcTicker, db.gcStopCh)
	}
	return db, nil
}

func (d *StoreBadger) valueLogGc(t *time.Ticker, stop <-chan struct{}) {
	defer d.gcWg.Done()
	for {
		select {
		case <-t.C:
			// Keep collecting while each run rewrites a file
			for {
				err := d.db.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					d.logger.Warn(
						fmt.Sprintf("store: GC failure: %s", err),
						"component", "store",
					)
				}
				break
			}
		case <-stop:
			return
		}
	}
}

// Start implements the plugin.Plugin interface
func (d *StoreBadger) Start() error {
	// Database is already opened in New(), so this is a no-op
	return nil
}

// Stop implements the plugin.Plugin interface
func (d *StoreBadger) Stop() error {
	return d.Close()
}

// Close stops GC and closes the database handle
func (d *StoreBadger) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.gcTicker != nil {
			d.gcTicker.Stop()
			close(d.gcStopCh)
			d.gcWg.Wait()
		}
		err = d.db.Close()
	})
	return err
}

// DB returns the database handle
func (d *StoreBadger) DB() *badger.DB {
	return d.db
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return store.ErrKeyNotFound
	case errors.Is(err, badger.ErrConflict):
		return store.ErrTxnConflict
	case errors.Is(err, badger.ErrDBClosed):
		return store.ErrStoreClosed
	default:
		return err
	}
}

func (d *StoreBadger) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ret []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		ret, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, mapError(err)
	}
	return ret, nil
}

func (d *StoreBadger) Set(ctx context.Context, key string, val []byte) error {
	return d.SetWithExpiry(ctx, key, val, 0)
}

func (d *StoreBadger) SetWithExpiry(
	ctx context.Context,
	key string,
	val []byte,
	ttl time.Duration,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := badger.NewEntry([]byte(key), val)
	if ttl > 0 {
		entry = entry.WithTTL(store.TTLSeconds(ttl))
	}
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	})
	return mapError(err)
}

func (d *StoreBadger) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	return mapError(err)
}

// Update reads key and writes the value returned by fn in one optimistic
// transaction. A concurrent commit touching key makes this commit fail with
// store.ErrTxnConflict.
func (d *StoreBadger) Update(
	ctx context.Context,
	key string,
	fn store.UpdateFunc,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := d.db.Update(func(txn *badger.Txn) error {
		var current []byte
		exists := true
		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			exists = false
		case err != nil:
			return err
		default:
			current, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
		}
		next, err := fn(current, exists)
		if err != nil {
			return err
		}
		if next == nil {
			if !exists {
				return nil
			}
			return txn.Delete([]byte(key))
		}
		return txn.Set([]byte(key), next)
	})
	if errors.Is(err, store.ErrSkipWrite) {
		return nil
	}
	if errors.Is(err, badger.ErrConflict) && d.conflicts != nil {
		d.conflicts.Inc()
	}
	return mapError(err)
}
