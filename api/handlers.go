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

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/blinklabs-io/faucet/event"
	"github.com/blinklabs-io/faucet/history"
	"github.com/blinklabs-io/faucet/types"
)

const maxBodyBytes = 1 << 16

type userHandlerFunc func(w http.ResponseWriter, r *http.Request, username string)

// statusRecorder captures the response code for the request metric
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.Handler {
	if s.metrics.requests == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.requests.WithLabelValues(
			route,
			strconv.Itoa(rec.status),
		).Inc()
	})
}

// user resolves the verified identity header to a username before calling
// next
func (s *Server) user(next userHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(VerifiedUserHeader))
		if id == "" {
			s.writeFaucetError(w, r, types.ErrNotAuthenticated)
			return
		}
		username, err := s.services.Identity.ResolveUsername(r.Context(), id)
		if err != nil {
			s.writeFaucetError(w, r, err)
			return
		}
		next(w, r, types.NormalizeUsername(username))
	}
}

// decodeBody decodes an optional JSON request body into v
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{IsHealthy: true})
}

// handleEligibility handles GET /api/v1/eligibility and reports the
// caller's tier, status flags and remaining cooldown
func (s *Server) handleEligibility(
	w http.ResponseWriter,
	r *http.Request,
	username string,
) {
	decision, err := s.services.Eligibility.Evaluate(r.Context(), username)
	if err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	resp := EligibilityResponse{
		Username:     decision.Username,
		Eligible:     decision.Eligible,
		Tier:         decision.Tier,
		Amount:       decision.Amount,
		Ecosystem:    decision.Ecosystem,
		Whitelisted:  decision.Whitelisted,
		Upgraded:     decision.Upgraded,
		Vouched:      decision.Vouched,
		VouchPending: decision.VouchPending,
	}
	var notEligible *types.NotEligibleError
	if errors.As(decision.Err(), &notEligible) {
		resp.Reason = notEligible.Reason
		resp.AccessPending, err = s.services.Access.HasAccessRequest(r.Context(), username)
		if err != nil {
			s.writeFaucetError(w, r, err)
			return
		}
	}
	remaining := s.services.Cooldown.Remaining(r.Context(), username)
	resp.CooldownMinutes = types.CeilMinutes(remaining)
	resp.CooldownHours = int64((remaining + time.Hour - 1) / time.Hour)
	writeJSON(w, http.StatusOK, resp)
}

// handlePayout handles POST /api/v1/payout
func (s *Server) handlePayout(
	w http.ResponseWriter,
	r *http.Request,
	username string,
) {
	var req PayoutRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.services.Payouts.RequestPayout(
		r.Context(),
		username,
		req.WalletAddress,
		req.Anonymous,
	)
	if err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PayoutResponse{
		Username:       res.Username,
		WalletAddress:  res.WalletAddress,
		Amount:         res.Amount,
		Tier:           res.Tier,
		Signature:      res.Signature,
		NextEligibleAt: res.NextEligibleAt.UnixMilli(),
	})
}

// handleAccessRequest handles POST /api/v1/access-requests. With
// auto-approval enabled the caller is whitelisted immediately.
func (s *Server) handleAccessRequest(
	w http.ResponseWriter,
	r *http.Request,
	username string,
) {
	var req AccessRequestBody
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := s.services.Access.StoreAccessRequest(r.Context(), username, req.Reason); err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	resp := AccessRequestResponse{Username: username}
	if s.config.AutoApproveAccessRequests {
		if _, err := s.services.Admin.Approve(r.Context(), username); err != nil {
			s.writeFaucetError(w, r, err)
			return
		}
		resp.AutoApproved = true
	}
	if s.config.EventBus != nil {
		s.config.EventBus.Publish(
			event.AccessRequestedEventType,
			event.NewEvent(
				event.AccessRequestedEventType,
				event.AccessRequestedEvent{
					Username:     username,
					AutoApproved: resp.AutoApproved,
				},
			),
		)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleCreateVouchRequest handles POST /api/v1/vouch-requests
func (s *Server) handleCreateVouchRequest(
	w http.ResponseWriter,
	r *http.Request,
	username string,
) {
	created, err := s.services.Vouches.CreateVouchRequest(r.Context(), username)
	if err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, VouchRequestResponse{
		Username: username,
		Created:  created,
	})
}

// handleListVouchRequests handles GET /api/v1/vouch-requests and returns
// the pending requests a voucher can act on
func (s *Server) handleListVouchRequests(
	w http.ResponseWriter,
	r *http.Request,
	_ string,
) {
	reqs, err := s.services.Vouches.ListRequests(r.Context())
	if err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []types.VouchRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// handleVouch handles POST /api/v1/vouch. The caller vouches for the
// username in the body.
func (s *Server) handleVouch(
	w http.ResponseWriter,
	r *http.Request,
	username string,
) {
	var req UsernameBody
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.services.Vouches.VouchFor(r.Context(), req.Username, username)
	if err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, VouchResponse{
		Username:    rec.Username,
		VouchedBy:   rec.VouchedBy,
		VoucherType: rec.VoucherType,
	})
}

// handleAirdrops handles GET /api/v1/airdrops and returns recent payouts
// with anonymous entries redacted
func (s *Server) handleAirdrops(w http.ResponseWriter, r *http.Request) {
	limit := history.DefaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, types.MaxListRecords)
	}
	recs, err := s.services.History.Recent(r.Context(), limit)
	if err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	total, err := s.services.History.Len(r.Context())
	if err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	recs = history.Redact(recs)
	if recs == nil {
		recs = []types.AirdropRecord{}
	}
	writeJSON(w, http.StatusOK, AirdropsResponse{
		Airdrops: recs,
		Total:    total,
	})
}
