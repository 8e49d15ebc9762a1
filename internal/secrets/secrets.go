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

// Package secrets loads API credentials from a sops-encrypted YAML file so
// they need not sit in plain config or the environment
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blinklabs-io/faucet/internal/config"
	"github.com/getsops/sops/v3/decrypt"
	"gopkg.in/yaml.v3"
)

type Secrets struct {
	AdminToken    string `yaml:"adminToken"`
	GitHubToken   string `yaml:"githubToken"`
	PaymentAPIKey string `yaml:"paymentApiKey"`
}

// Decrypt decrypts sops data in the given format ("yaml" or "json") and
// parses the secrets from it
func Decrypt(data []byte, format string) (*Secrets, error) {
	plain, err := decrypt.Data(data, format)
	if err != nil {
		return nil, fmt.Errorf("decrypt secrets: %w", err)
	}
	return parse(plain)
}

func parse(plain []byte) (*Secrets, error) {
	var s Secrets
	if err := yaml.Unmarshal(plain, &s); err != nil {
		return nil, fmt.Errorf("parse secrets: %w", err)
	}
	return &s, nil
}

// Load decrypts the secrets file at path. The format follows the file
// extension.
func Load(path string) (*Secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return Decrypt(data, format)
}

// Apply copies the non-empty secrets onto cfg
func (s *Secrets) Apply(cfg *config.Config) {
	if s.AdminToken != "" {
		cfg.AdminToken = s.AdminToken
	}
	if s.GitHubToken != "" {
		cfg.GitHub.Token = s.GitHubToken
	}
	if s.PaymentAPIKey != "" {
		cfg.Payment.APIKey = s.PaymentAPIKey
	}
}

// LoadInto applies the secrets file named by cfg.SecretsFile, if any
func LoadInto(cfg *config.Config) error {
	if cfg.SecretsFile == "" {
		return nil
	}
	s, err := Load(cfg.SecretsFile)
	if err != nil {
		return err
	}
	s.Apply(cfg)
	if cfg.Payment.PrimaryURL != "" && cfg.Payment.APIKey == "" {
		return errors.New("secrets file has no paymentApiKey")
	}
	return nil
}
