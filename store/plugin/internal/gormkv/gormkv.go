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

// Package gormkv implements the faucet store as a single versioned table on
// any gorm dialect. Update is a compare-and-swap on the row version, so a
// concurrent writer turns into store.ErrTxnConflict instead of a lost write.
package gormkv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/faucet/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

const defaultSweepInterval = 10 * time.Minute

// Record is one key of the store
type Record struct {
	ExpiresAt *time.Time `gorm:"index"`
	Key       string     `gorm:"column:record_key;primaryKey;size:255"`
	Value     []byte     `gorm:"not null"`
	Version   uint64     `gorm:"not null;default:0"`
}

func (Record) TableName() string {
	return "faucet_records"
}

type Config struct {
	Logger        *slog.Logger
	Now           func() time.Time
	SweepInterval time.Duration
}

// KV is a store.Store on a gorm database handle
type KV struct {
	db         *gorm.DB
	logger     *slog.Logger
	now        func() time.Time
	sweepTimer *time.Timer
	sweepWG    sync.WaitGroup
	timerMutex sync.Mutex
	interval   time.Duration
	closed     bool
}

// Open connects with the given dialector, installs tracing and migrates the
// record table
func Open(dialector gorm.Dialector, cfg Config) (*KV, error) {
	db, err := gorm.Open(
		dialector,
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return nil, err
	}
	return New(db, cfg)
}

// New wraps an open gorm handle
func New(db *gorm.DB, cfg Config) (*KV, error) {
	kv := &KV{
		db:       db,
		logger:   cfg.Logger,
		now:      cfg.Now,
		interval: cfg.SweepInterval,
	}
	if kv.logger == nil {
		kv.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if kv.now == nil {
		kv.now = time.Now
	}
	if kv.interval <= 0 {
		kv.interval = defaultSweepInterval
	}
	// Configure tracing for GORM
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	kv.logger.Debug(fmt.Sprintf("creating table: %#v", &Record{}))
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	kv.scheduleSweep()
	return kv, nil
}

// DB returns the gorm handle
func (k *KV) DB() *gorm.DB {
	return k.db
}

func (k *KV) expired(rec *Record) bool {
	return rec.ExpiresAt != nil && !k.now().Before(*rec.ExpiresAt)
}

func (k *KV) load(ctx context.Context, key string) (*Record, error) {
	var rec Record
	result := k.db.WithContext(ctx).
		Where("record_key = ?", key).
		First(&rec)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &rec, nil
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, error) {
	rec, err := k.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil || k.expired(rec) {
		return nil, store.ErrKeyNotFound
	}
	return rec.Value, nil
}

func (k *KV) Set(ctx context.Context, key string, val []byte) error {
	return k.SetWithExpiry(ctx, key, val, 0)
}

func (k *KV) SetWithExpiry(
	ctx context.Context,
	key string,
	val []byte,
	ttl time.Duration,
) error {
	rec := Record{
		Key:   key,
		Value: val,
	}
	if ttl > 0 {
		exp := k.now().UTC().Add(store.TTLSeconds(ttl))
		rec.ExpiresAt = &exp
	}
	result := k.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "record_key"}},
			DoUpdates: clause.Assignments(map[string]any{
				"value":      rec.Value,
				"expires_at": rec.ExpiresAt,
				"version":    gorm.Expr("faucet_records.version + 1"),
			}),
		}).
		Create(&rec)
	return result.Error
}

func (k *KV) Delete(ctx context.Context, key string) error {
	result := k.db.WithContext(ctx).
		Where("record_key = ?", key).
		Delete(&Record{})
	return result.Error
}

// Update applies fn and writes the result only if the row version is
// unchanged since it was read
func (k *KV) Update(
	ctx context.Context,
	key string,
	fn store.UpdateFunc,
) error {
	rec, err := k.load(ctx, key)
	if err != nil {
		return err
	}
	var current []byte
	exists := rec != nil && !k.expired(rec)
	if exists {
		current = rec.Value
	}
	next, err := fn(current, exists)
	if err != nil {
		if errors.Is(err, store.ErrSkipWrite) {
			return nil
		}
		return err
	}
	db := k.db.WithContext(ctx)
	var result *gorm.DB
	switch {
	case next == nil && rec == nil:
		return nil
	case next == nil:
		result = db.
			Where("record_key = ? AND version = ?", key, rec.Version).
			Delete(&Record{})
	case rec == nil:
		result = db.
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&Record{Key: key, Value: next})
	default:
		result = db.Model(&Record{}).
			Where("record_key = ? AND version = ?", key, rec.Version).
			Updates(map[string]any{
				"value":      next,
				"version":    rec.Version + 1,
				"expires_at": nil,
			})
	}
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrTxnConflict
	}
	return nil
}

func (k *KV) sweep() error {
	k.timerMutex.Lock()
	if k.closed {
		k.timerMutex.Unlock()
		return nil
	}
	k.sweepWG.Add(1)
	k.timerMutex.Unlock()
	defer k.sweepWG.Done()
	result := k.db.
		Where("expires_at IS NOT NULL AND expires_at <= ?", k.now().UTC()).
		Delete(&Record{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		k.logger.Debug(
			"removed expired records",
			"component", "store",
			"count", result.RowsAffected,
		)
	}
	return nil
}

// scheduleSweep schedules the next removal of expired rows
func (k *KV) scheduleSweep() {
	k.timerMutex.Lock()
	defer k.timerMutex.Unlock()
	if k.closed {
		return
	}
	if k.sweepTimer != nil {
		k.sweepTimer.Stop()
	}
	f := func() {
		// schedule next run
		defer k.scheduleSweep()
		if err := k.sweep(); err != nil {
			k.logger.Error(
				"failed to remove expired records",
				"component", "store",
				"error", err,
			)
		}
	}
	k.sweepTimer = time.AfterFunc(k.interval, f)
}

// Sweep removes expired rows immediately
func (k *KV) Sweep() error {
	return k.sweep()
}

func (k *KV) Close() error {
	k.timerMutex.Lock()
	if k.closed {
		k.timerMutex.Unlock()
		return nil
	}
	k.closed = true
	if k.sweepTimer != nil {
		k.sweepTimer.Stop()
	}
	k.timerMutex.Unlock()
	k.sweepWG.Wait()
	sqlDB, err := k.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
