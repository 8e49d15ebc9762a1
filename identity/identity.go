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

// Package identity maps the verified GitHub account id supplied by the
// sign-in proxy to a GitHub username
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blinklabs-io/faucet/store"
	"github.com/blinklabs-io/faucet/types"
)

const (
	DefaultAPIURL   = "https://api.github.com"
	DefaultTimeout  = 10 * time.Second
	DefaultCacheTTL = 24 * time.Hour

	cacheKeyPrefix = "github_user:"
	userAgent      = "blinklabs-faucet"
	serviceName    = "github"
)

type ResolverConfig struct {
	// Store caches resolved usernames when set
	Store      store.Store
	Logger     *slog.Logger
	HTTPClient *http.Client
	APIURL     string
	// Token is an optional GitHub API token to raise the rate limit
	Token    string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type Resolver struct {
	config ResolverConfig
	logger *slog.Logger
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Resolver{
		config: cfg,
		logger: cfg.Logger.With("component", "identity"),
	}
}

type githubUser struct {
	Login string `json:"login"`
}

// ResolveUsername returns the normalized username of the GitHub account
// with the given id
func (r *Resolver) ResolveUsername(
	ctx context.Context,
	verifiedID string,
) (string, error) {
	id := strings.TrimSpace(verifiedID)
	if id == "" {
		return "", types.ErrNotAuthenticated
	}
	if r.config.Store != nil {
		cached, found, err := store.GetJSON[string](ctx, r.config.Store, cacheKeyPrefix+id)
		if err != nil {
			r.logger.Warn("identity cache read failed", "error", err)
		} else if found && cached != "" {
			return cached, nil
		}
	}
	username, err := r.fetch(ctx, id)
	if err != nil {
		return "", err
	}
	if r.config.Store != nil {
		if err := store.SetJSON(ctx, r.config.Store, cacheKeyPrefix+id, username, r.config.CacheTTL); err != nil {
			r.logger.Warn("identity cache write failed", "error", err)
		}
	}
	return username, nil
}

func (r *Resolver) fetch(ctx context.Context, id string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		r.config.APIURL+"/user/"+url.PathEscape(id),
		nil,
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", userAgent)
	if r.config.Token != "" {
		req.Header.Set("Authorization", "token "+r.config.Token)
	}
	resp, err := r.config.HTTPClient.Do(req)
	if err != nil {
		return "", upstreamError(err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: no GitHub account with id %s", types.ErrIdentityUnresolvable, id)
	case resp.StatusCode != http.StatusOK:
		return "", upstreamError(fmt.Errorf("unexpected status: %s", resp.Status))
	}
	var user githubUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&user); err != nil {
		return "", upstreamError(fmt.Errorf("decode user: %w", err))
	}
	username := types.NormalizeUsername(user.Login)
	if !types.ValidUsername(username) {
		return "", fmt.Errorf("%w: account %s has no usable login", types.ErrIdentityUnresolvable, id)
	}
	return username, nil
}

func upstreamError(err error) error {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout())
	return &types.UpstreamError{Service: serviceName, Timeout: timeout, Err: err}
}
