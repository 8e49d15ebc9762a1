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

package postgres

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

type PostgresOptionFunc func(*StorePostgres)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) PostgresOptionFunc {
	return func(p *StorePostgres) {
		p.logger = logger
	}
}

// WithPromRegistry specifies the prometheus registry to use for metrics
func WithPromRegistry(
	registry prometheus.Registerer,
) PostgresOptionFunc {
	return func(p *StorePostgres) {
		p.promRegistry = registry
	}
}

// Connection describes how to reach the database. A non-empty DSN is used
// as is and the other fields are ignored.
type Connection struct {
	Host     string
	Port     uint
	User     string
	Password string
	Database string
	SSLMode  string
	TimeZone string
	DSN      string
}

func WithConnection(conn Connection) PostgresOptionFunc {
	return func(p *StorePostgres) {
		p.conn = conn
	}
}

// WithDSN sets only the connection string
func WithDSN(dsn string) PostgresOptionFunc {
	return func(p *StorePostgres) {
		p.conn.DSN = dsn
	}
}

func (c Connection) withDefaults() Connection {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.User == "" {
		c.User = "postgres"
	}
	if c.Database == "" {
		c.Database = "faucet"
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return c
}

// String renders the connection as a libpq keyword/value string
func (c Connection) String() string {
	if dsn := strings.TrimSpace(c.DSN); dsn != "" {
		return dsn
	}
	parts := []string{
		"host=" + c.Host,
		"user=" + c.User,
		"password=" + c.Password,
		"dbname=" + c.Database,
		"port=" + strconv.FormatUint(uint64(c.Port), 10),
		"sslmode=" + c.SSLMode,
	}
	if c.TimeZone != "" {
		parts = append(parts, "TimeZone="+c.TimeZone)
	}
	return strings.Join(parts, " ")
}
