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
	"crypto/subtle"
	"net/http"
	"strings"
)

// admin requires the configured bearer token. With no token configured the
// admin endpoints do not exist.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AdminToken == "" {
			http.NotFound(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare(
			[]byte(token),
			[]byte(s.config.AdminToken),
		) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next(w, r)
	}
}

// adminUsername decodes the {"username": ...} body shared by the admin
// endpoints. It writes the error response and returns false on failure.
func adminUsername(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req UsernameBody
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	if strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return "", false
	}
	return req.Username, true
}

func (s *Server) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := s.services.Admin.Overview(r.Context())
	if err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *Server) handleAdminDedupe(w http.ResponseWriter, r *http.Request) {
	res, err := s.services.Admin.Dedupe(r.Context())
	if err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAdminApprove(w http.ResponseWriter, r *http.Request) {
	username, ok := adminUsername(w, r)
	if !ok {
		return
	}
	res, err := s.services.Admin.Approve(r.Context(), username)
	if err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAdminReject(w http.ResponseWriter, r *http.Request) {
	username, ok := adminUsername(w, r)
	if !ok {
		return
	}
	res, err := s.services.Admin.Reject(r.Context(), username)
	if err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleAdminRemoveUser handles POST /api/v1/admin/remove-user. Partial
// failures still return the report, with a 500 status.
func (s *Server) handleAdminRemoveUser(w http.ResponseWriter, r *http.Request) {
	username, ok := adminUsername(w, r)
	if !ok {
		return
	}
	report, err := s.services.Admin.ForceRemove(r.Context(), username)
	if err != nil && report.Counts == nil {
		s.writeFaucetError(w, r, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		s.logger.Error(
			"user removal incomplete",
			"username", report.Username,
			"error", err,
		)
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, RemovalResponse{
		RemovalReport: report,
		TotalRemoved:  report.Total(),
	})
}

func (s *Server) handleAdminAddUpgrade(w http.ResponseWriter, r *http.Request) {
	username, ok := adminUsername(w, r)
	if !ok {
		return
	}
	added, err := s.services.Admin.AddUpgrade(r.Context(), username)
	if err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username": username,
		"added":    added,
	})
}

func (s *Server) handleAdminRemoveUpgrade(w http.ResponseWriter, r *http.Request) {
	username, ok := adminUsername(w, r)
	if !ok {
		return
	}
	n, err := s.services.Admin.RemoveUpgrade(r.Context(), username)
	if err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Username: username, Removed: n})
}

func (s *Server) handleAdminApproveVouch(w http.ResponseWriter, r *http.Request) {
	username, ok := adminUsername(w, r)
	if !ok {
		return
	}
	rec, err := s.services.Admin.ApproveVouch(r.Context(), username)
	if err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VouchResponse{
		Username:    rec.Username,
		VouchedBy:   rec.VouchedBy,
		VoucherType: rec.VoucherType,
	})
}

func (s *Server) handleAdminRejectVouch(w http.ResponseWriter, r *http.Request) {
	username, ok := adminUsername(w, r)
	if !ok {
		return
	}
	n, err := s.services.Admin.RejectVouch(r.Context(), username)
	if err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Username: username, Removed: n})
}

func (s *Server) handleAdminUnvouch(w http.ResponseWriter, r *http.Request) {
	username, ok := adminUsername(w, r)
	if !ok {
		return
	}
	if err := s.services.Admin.Unvouch(r.Context(), username); err != nil {
		s.writeFaucetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Username: username, Removed: 1})
}
