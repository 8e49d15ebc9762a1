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

package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultProviderTimeout = 10 * time.Second

// Provider moves test tokens to an address and returns the transaction
// signature
type Provider interface {
	Transfer(ctx context.Context, address string, amount uint64) (string, error)
}

type TransferRequest struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

type TransferResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

type HTTPProviderConfig struct {
	Name   string
	URL    string
	APIKey string
	Client *http.Client
	// Timeout bounds a single transfer call
	Timeout        time.Duration
	TracerProvider trace.TracerProvider
}

// HTTPProvider posts transfers as JSON to a wallet backend
type HTTPProvider struct {
	config HTTPProviderConfig
	tracer trace.Tracer
}

func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProviderTimeout
	}
	if cfg.Name == "" {
		cfg.Name = cfg.URL
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	return &HTTPProvider{
		config: cfg,
		tracer: cfg.TracerProvider.Tracer(tracerName),
	}
}

func (p *HTTPProvider) Name() string {
	return p.config.Name
}

func (p *HTTPProvider) Transfer(
	ctx context.Context,
	address string,
	amount uint64,
) (sig string, err error) {
	ctx, span := p.tracer.Start(
		ctx,
		"payout.transfer",
		trace.WithAttributes(
			attribute.String("provider", p.config.Name),
			attribute.Int64("amount", int64(amount)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	body, err := json.Marshal(TransferRequest{Address: address, Amount: amount})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		p.config.URL,
		bytes.NewReader(body),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}
	resp, err := p.config.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var tr TransferResponse
	_ = json.Unmarshal(respBody, &tr)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if tr.Error != "" {
			return "", fmt.Errorf("%s: %s: %s", p.config.Name, resp.Status, tr.Error)
		}
		return "", fmt.Errorf("%s: %s", p.config.Name, resp.Status)
	}
	if tr.Signature == "" {
		return "", fmt.Errorf("%s: response has no signature", p.config.Name)
	}
	return tr.Signature, nil
}

// FallbackProvider retries a failed transfer once against a second provider
type FallbackProvider struct {
	primary  Provider
	fallback Provider
	logger   *slog.Logger
}

func NewFallbackProvider(
	primary Provider,
	fallback Provider,
	logger *slog.Logger,
) *FallbackProvider {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &FallbackProvider{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With("component", "payout"),
	}
}

func (p *FallbackProvider) Transfer(
	ctx context.Context,
	address string,
	amount uint64,
) (string, error) {
	sig, err := p.primary.Transfer(ctx, address, amount)
	if err == nil {
		return sig, nil
	}
	if p.fallback == nil || ctx.Err() != nil {
		return "", err
	}
	p.logger.Warn(
		"primary payment provider failed, trying fallback",
		"error", err,
	)
	sig, fallbackErr := p.fallback.Transfer(ctx, address, amount)
	if fallbackErr != nil {
		return "", errors.Join(
			fmt.Errorf("primary: %w", err),
			fmt.Errorf("fallback: %w", fallbackErr),
		)
	}
	return sig, nil
}
