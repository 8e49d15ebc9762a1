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

// Package config loads the faucet configuration: package defaults, then a
// YAML file, then FAUCET_* environment variables
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blinklabs-io/faucet/store/plugin"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "faucet.config"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

const (
	DefaultStorePlugin     = "badger"
	DefaultShutdownTimeout = 30 * time.Second
)

// ErrPluginListRequested is returned when the user requests to list available plugins
// This is not an error condition but a successful operation that displays plugin information
var ErrPluginListRequested = errors.New("plugin list requested")

type tempConfig struct {
	Config   *yaml.Node      `yaml:"config,omitempty"`
	Database *databaseConfig `yaml:"database,omitempty"`
}

type databaseConfig struct {
	Plugin  string                    `yaml:"plugin,omitempty"`
	Plugins map[string]map[string]any `yaml:",inline"`
}

type MembershipConfig struct {
	ManifestURL     string        `yaml:"manifestUrl"     split_words:"true"`
	CacheTTL        time.Duration `yaml:"cacheTtl"        envconfig:"CACHE_TTL"`
	RefreshInterval time.Duration `yaml:"refreshInterval" split_words:"true"`
}

type PaymentConfig struct {
	PrimaryURL  string `yaml:"primaryUrl"  split_words:"true"`
	FallbackURL string `yaml:"fallbackUrl" split_words:"true"`
	APIKey      string `yaml:"apiKey"      envconfig:"API_KEY"`
}

type GitHubConfig struct {
	APIURL   string        `yaml:"apiUrl"   envconfig:"API_URL"`
	Token    string        `yaml:"token"`
	CacheTTL time.Duration `yaml:"cacheTtl" envconfig:"CACHE_TTL"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"   envconfig:"RPS"`
	Burst int     `yaml:"burst"`
}

type Config struct {
	BindAddr    string `yaml:"bindAddr"    split_words:"true"`
	Port        uint   `yaml:"port"`
	MetricsPort uint   `yaml:"metricsPort" split_words:"true"`
	StorePlugin string `yaml:"storePlugin" split_words:"true"`
	Network     string `yaml:"network"`
	// FullAmount and ReducedAmount are in lovelace
	FullAmount       uint64        `yaml:"fullAmount"       split_words:"true"`
	ReducedAmount    uint64        `yaml:"reducedAmount"    split_words:"true"`
	DefaultCooldown  time.Duration `yaml:"defaultCooldown"  split_words:"true"`
	UpgradedCooldown time.Duration `yaml:"upgradedCooldown" split_words:"true"`
	UpstreamTimeout  time.Duration `yaml:"upstreamTimeout"  split_words:"true"`
	ShutdownTimeout  time.Duration `yaml:"shutdownTimeout"  split_words:"true"`
	// SecretsFile is a sops-encrypted YAML file holding the API credentials
	SecretsFile string `yaml:"secretsFile" split_words:"true"`
	AdminToken  string `yaml:"adminToken"  split_words:"true"`
	// AutoApproveAccessRequests whitelists every access request on arrival
	AutoApproveAccessRequests bool             `yaml:"autoApproveAccessRequests" split_words:"true"`
	TrustForwardedFor         bool             `yaml:"trustForwardedFor"         split_words:"true"`
	Tracing                   bool             `yaml:"tracing"`
	TracingStdout             bool             `yaml:"tracingStdout"             split_words:"true"`
	Membership                MembershipConfig `yaml:"membership"`
	Payment                   PaymentConfig    `yaml:"payment"`
	GitHub                    GitHubConfig     `yaml:"github"                    envconfig:"GITHUB"`
	RateLimit                 RateLimitConfig  `yaml:"rateLimit"                 split_words:"true"`
}

// Default returns a config holding the package defaults
func Default() *Config {
	return &Config{
		BindAddr:                  "0.0.0.0",
		Port:                      8080,
		MetricsPort:               12799,
		StorePlugin:               DefaultStorePlugin,
		Network:                   "preprod",
		FullAmount:                10_000_000_000,
		ReducedAmount:             1_000_000_000,
		DefaultCooldown:           24 * time.Hour,
		UpgradedCooldown:          12 * time.Hour,
		UpstreamTimeout:           10 * time.Second,
		ShutdownTimeout:           DefaultShutdownTimeout,
		AutoApproveAccessRequests: true,
		Membership: MembershipConfig{
			ManifestURL:     "https://raw.githubusercontent.com/electric-capital/crypto-ecosystems/master/data/ecosystems/c/cardano.toml",
			CacheTTL:        time.Hour,
			RefreshInterval: time.Hour,
		},
		GitHub: GitHubConfig{
			APIURL:   "https://api.github.com",
			CacheTTL: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RPS:   1,
			Burst: 10,
		},
	}
}

// LoadConfig builds the config from defaults, the YAML file and the
// environment. With no file given, ~/.faucet/faucet.yaml and then
// /etc/faucet/faucet.yaml are tried.
func LoadConfig(configFile string) (*Config, error) {
	cfg := Default()
	if configFile == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".faucet", "faucet.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
		if configFile == "" {
			systemPath := "/etc/faucet/faucet.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := cfg.loadYAML(buf); err != nil {
			return nil, err
		}
	}

	// Process environment variables
	if err := envconfig.Process("faucet", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	// Process plugin environment variables
	if err := plugin.ProcessEnvVars(); err != nil {
		return nil, fmt.Errorf(
			"error processing plugin environment variables: %w",
			err,
		)
	}
	if cfg.StorePlugin == "list" {
		return cfg, ErrPluginListRequested
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML overlays a config file onto cfg. Settings live either at the top
// level or under a config section. An optional database section names the
// store plugin and carries per-plugin options, and is applied last.
func (c *Config) loadYAML(buf []byte) error {
	var tempCfg tempConfig
	if err := yaml.Unmarshal(buf, &tempCfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	if tempCfg.Config != nil {
		if err := tempCfg.Config.Decode(c); err != nil {
			return fmt.Errorf("error parsing config section: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(buf, c); err != nil {
			return fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if tempCfg.Database != nil {
		if tempCfg.Database.Plugin != "" {
			c.StorePlugin = tempCfg.Database.Plugin
		}
		if len(tempCfg.Database.Plugins) > 0 {
			if err := plugin.ProcessConfig(tempCfg.Database.Plugins); err != nil {
				return fmt.Errorf("error processing plugin config: %w", err)
			}
		}
	}
	return nil
}

// Validate checks values that have no usable fallback
func (c *Config) Validate() error {
	if c.FullAmount == 0 || c.ReducedAmount == 0 {
		return errors.New("payout amounts must be positive")
	}
	if c.ReducedAmount > c.FullAmount {
		return fmt.Errorf(
			"reducedAmount %d exceeds fullAmount %d",
			c.ReducedAmount,
			c.FullAmount,
		)
	}
	if c.DefaultCooldown <= 0 || c.UpgradedCooldown <= 0 {
		return errors.New("cooldowns must be positive")
	}
	if c.UpstreamTimeout <= 0 {
		return errors.New("upstreamTimeout must be positive")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("rateLimit rps and burst must be positive")
	}
	return nil
}

// ListPlugins prints the registered store plugins
func ListPlugins() {
	fmt.Println("Available store plugins:")
	for _, p := range plugin.GetPlugins() {
		fmt.Printf("  %s: %s\n", p.Name, p.Description)
	}
}
