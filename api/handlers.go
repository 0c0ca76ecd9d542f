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
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/monitoring"
	"github.com/blinklabs-io/proxyguard/proxyerr"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	Status     string `json:"status,omitempty"`
}

// ImplementationResponse describes the active implementation
type ImplementationResponse struct {
	Implementation string `json:"implementation"`
	Version        uint64 `json:"version"`
}

// HistoryResponse lists the implementation history, oldest first
type HistoryResponse struct {
	Records []models.ImplementationRecord `json:"records"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errStr string, message string) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      errStr,
		Message:    message,
	})
}

// httpStatus maps an error class to a response status
func httpStatus(err error) int {
	switch proxyerr.CodeOf(err) {
	case proxyerr.CodeNotInitialized, proxyerr.CodeImplementationNotSet:
		return http.StatusNotFound
	}
	switch proxyerr.ClassOf(err) {
	case proxyerr.ClassValidation:
		return http.StatusBadRequest
	case proxyerr.ClassAuthorization:
		return http.StatusForbidden
	case proxyerr.ClassNotFound:
		return http.StatusNotFound
	case proxyerr.ClassStateConflict:
		return http.StatusConflict
	case proxyerr.ClassIntegrity, proxyerr.ClassPolicy:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (a *API) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		a.logger.Error(
			"request failed",
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, status, string(proxyerr.CodeOf(err)), "internal error")
		return
	}
	resp := ErrorResponse{
		StatusCode: status,
		Error:      string(proxyerr.CodeOf(err)),
		Message:    err.Error(),
	}
	if pe, ok := proxyerr.As(err); ok {
		resp.Status = pe.Status
	}
	writeJSON(w, status, resp)
}

func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
}

// handleHealth reports 503 while upgrades should be halted
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ret, err := a.source.GetHealthStatus(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	status := http.StatusOK
	if ret.Recommendation == monitoring.RecommendHalt {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, ret)
}

func (a *API) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	ret, err := a.source.GetUpgradeAnalytics(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (a *API) handleTrends(w http.ResponseWriter, r *http.Request) {
	ret, err := a.source.GetTrends(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (a *API) handleImplementation(w http.ResponseWriter, r *http.Request) {
	ref, err := a.source.GetCurrentImplementation(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	version, err := a.source.GetVersion(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ImplementationResponse{
		Implementation: ref,
		Version:        version,
	})
}

func (a *API) handleGovernance(w http.ResponseWriter, r *http.Request) {
	ret, err := a.source.GetGovernance(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := a.source.GetHistory(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if records == nil {
		records = []models.ImplementationRecord{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Records: records})
}

func (a *API) handleProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", err.Error())
		return
	}
	ret, err := a.source.GetProposal(r.Context(), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (a *API) handleMigration(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", err.Error())
		return
	}
	ret, err := a.source.GetMigration(r.Context(), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ret, err := a.source.AnalyzeUpgradeSafety(r.Context(), mux.Vars(r)["candidate"])
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}
