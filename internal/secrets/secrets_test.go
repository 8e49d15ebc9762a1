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

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blinklabs-io/faucet/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndApply(t *testing.T) {
	s, err := parse([]byte("adminToken: a\ngithubToken: g\n"))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Payment.APIKey = "kept"
	s.Apply(cfg)
	assert.Equal(t, "a", cfg.AdminToken)
	assert.Equal(t, "g", cfg.GitHub.Token)
	assert.Equal(t, "kept", cfg.Payment.APIKey, "empty secrets do not clear config")
}

func TestDecryptRejectsPlaintext(t *testing.T) {
	_, err := Decrypt([]byte("adminToken: a\n"), "yaml")
	require.Error(t, err)
}

func TestLoadInto(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, LoadInto(cfg), "no secrets file configured")

	cfg.SecretsFile = filepath.Join(t.TempDir(), "missing.yaml")
	require.Error(t, LoadInto(cfg))

	plain := filepath.Join(t.TempDir(), "plain.yaml")
	require.NoError(t, os.WriteFile(plain, []byte("adminToken: a\n"), 0o600))
	cfg.SecretsFile = plain
	require.Error(t, LoadInto(cfg), "unencrypted files are refused")
}
