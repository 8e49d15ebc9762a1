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
	"github.com/blinklabs-io/faucet/store/plugin"
)

var flags struct {
	host     string
	port     uint64
	user     string
	password string
	database string
	sslMode  string
	timeZone string
	dsn      string
}

func init() {
	plugin.RegisterStore(
		"postgres",
		"Postgres relational database",
		func() (plugin.Plugin, error) {
			return NewWithOptions(WithConnection(Connection{
				Host:     flags.host,
				Port:     uint(flags.port),
				User:     flags.user,
				Password: flags.password,
				Database: flags.database,
				SSLMode:  flags.sslMode,
				TimeZone: flags.timeZone,
				DSN:      flags.dsn,
			}))
		},
		plugin.StringOption("host", "Postgres host", &flags.host, "localhost"),
		plugin.UintOption("port", "Postgres port", &flags.port, 5432),
		plugin.StringOption("user", "Postgres user", &flags.user, "postgres"),
		// No default password; it must come from the operator
		plugin.StringOption("password", "Postgres password (required)", &flags.password, ""),
		plugin.StringOption("database", "Postgres database name", &flags.database, "faucet"),
		plugin.StringOption("ssl-mode", "Postgres sslmode", &flags.sslMode, "disable"),
		plugin.StringOption("timezone", "Postgres TimeZone", &flags.timeZone, "UTC"),
		plugin.StringOption("dsn", "Full Postgres DSN, overrides the other options", &flags.dsn, ""),
	)
}
