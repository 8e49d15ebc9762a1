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
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/blinklabs-io/faucet/types"
)

type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	// Reason tells the client which next step applies to an eligibility
	// failure
	Reason           types.IneligibleReason `json:"reason,omitempty"`
	RemainingMinutes int64                  `json:"remainingMinutes,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
	})
}

// statusFor maps a faucet error to its HTTP status
func statusFor(err error) int {
	var upstreamErr *types.UpstreamError
	switch {
	case errors.Is(err, types.ErrNotAuthenticated),
		errors.Is(err, types.ErrIdentityUnresolvable):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrInvalidAddress),
		errors.Is(err, types.ErrInvalidUsername),
		errors.Is(err, types.ErrReasonRequired):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotEligible),
		errors.Is(err, types.ErrVoucherNotEligible):
		return http.StatusForbidden
	case errors.Is(err, types.ErrNotVouched):
		return http.StatusNotFound
	case errors.Is(err, types.ErrAlreadyVouched),
		errors.Is(err, types.ErrAlreadyEligible),
		errors.Is(err, types.ErrAlreadyRequested),
		errors.Is(err, types.ErrAlreadyWhitelisted),
		errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrInCooldown):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrPayoutFailed):
		return http.StatusBadGateway
	case errors.As(err, &upstreamErr):
		if upstreamErr.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeFaucetError writes err with its mapped status. Internal errors are
// logged and replaced by a generic message.
func (s *Server) writeFaucetError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    err.Error(),
	}
	var notEligible *types.NotEligibleError
	if errors.As(err, &notEligible) {
		resp.Reason = notEligible.Reason
	}
	var cooldownErr *types.InCooldownError
	if errors.As(err, &cooldownErr) {
		resp.RemainingMinutes = cooldownErr.RemainingMinutes()
		w.Header().Set(
			"Retry-After",
			strconv.FormatInt(retryAfterSeconds(cooldownErr.Remaining), 10),
		)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(
			"request failed",
			"path", r.URL.Path,
			"error", err,
		)
		if status == http.StatusInternalServerError {
			resp.Message = "internal error"
		}
	}
	writeJSON(w, status, resp)
}

// retryAfterSeconds rounds up so a client never retries before the cooldown
// ends
func retryAfterSeconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}
