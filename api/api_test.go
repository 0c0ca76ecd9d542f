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

package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/proxyguard/api"
	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/governance"
	"github.com/blinklabs-io/proxyguard/implementation"
	"github.com/blinklabs-io/proxyguard/implementation/payments"
	"github.com/blinklabs-io/proxyguard/monitoring"
	"github.com/blinklabs-io/proxyguard/proxyerr"
	"github.com/blinklabs-io/proxyguard/safety"
)

func newCoordinator(t *testing.T, promRegistry prometheus.Registerer) *governance.Coordinator {
	t.Helper()
	db, err := database.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	reg := implementation.NewRegistry()
	require.NoError(t, payments.Register(reg))
	coord, err := governance.New(governance.Config{
		Database:     db,
		Registry:     reg,
		PromRegistry: promRegistry,
		MaxRiskLevel: safety.RiskHigh,
	})
	require.NoError(t, err)
	return coord
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var ret T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ret), w.Body.String())
	return ret
}

func TestRoutes(t *testing.T) {
	promRegistry := prometheus.NewRegistry()
	coord := newCoordinator(t, promRegistry)
	a := api.New(api.Config{Source: coord, PromGatherer: promRegistry})
	handler := a.Handler()

	// Nothing is active before initialization
	w := get(t, handler, "/api/v1/implementation")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(proxyerr.CodeNotInitialized), decode[api.ErrorResponse](t, w).Error)

	ctx := context.Background()
	require.NoError(t, coord.Init(ctx, governance.InitParams{
		Admins:                []string{"alice", "bob"},
		Threshold:             2,
		InitialImplementation: payments.RefV1,
	}))
	id, err := coord.ProposeUpgrade(ctx, "alice", payments.RefV2, governance.ProposalMetadata{
		Strategy: models.MigrationStrategyDirect,
	})
	require.NoError(t, err)
	require.NoError(t, coord.ApproveUpgrade(ctx, id, "alice"))

	t.Run("Implementation", func(t *testing.T) {
		w := get(t, handler, "/api/v1/implementation")
		require.Equal(t, http.StatusOK, w.Code)
		ret := decode[api.ImplementationResponse](t, w)
		assert.Equal(t, payments.RefV1, ret.Implementation)
		assert.Equal(t, uint64(0), ret.Version)
	})

	t.Run("Governance", func(t *testing.T) {
		w := get(t, handler, "/api/v1/governance")
		require.Equal(t, http.StatusOK, w.Code)
		ret := decode[governance.GovernanceView](t, w)
		assert.ElementsMatch(t, []string{"alice", "bob"}, ret.Admins)
	})

	t.Run("History", func(t *testing.T) {
		w := get(t, handler, "/api/v1/history")
		require.Equal(t, http.StatusOK, w.Code)
		ret := decode[api.HistoryResponse](t, w)
		require.Len(t, ret.Records, 1)
		assert.Equal(t, payments.RefV1, ret.Records[0].Implementation)
	})

	t.Run("Proposal", func(t *testing.T) {
		w := get(t, handler, "/api/v1/proposals/"+strconv.FormatUint(id, 10))
		require.Equal(t, http.StatusOK, w.Code)
		ret := decode[governance.ProposalView](t, w)
		assert.Equal(t, []string{"alice"}, ret.Approvals)

		w = get(t, handler, "/api/v1/proposals/99")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, string(proxyerr.CodeProposalNotFound), decode[api.ErrorResponse](t, w).Error)

		// Non-numeric ids do not match the route
		w = get(t, handler, "/api/v1/proposals/abc")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Migration", func(t *testing.T) {
		w := get(t, handler, "/api/v1/migrations/1")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, string(proxyerr.CodeMigrationNotFound), decode[api.ErrorResponse](t, w).Error)
	})

	t.Run("Analyze", func(t *testing.T) {
		w := get(t, handler, "/api/v1/analyze/"+payments.RefV2)
		require.Equal(t, http.StatusOK, w.Code)
		ret := decode[safety.ImpactAnalysis](t, w)
		assert.Equal(t, payments.RefV2, ret.Candidate)
		assert.True(t, ret.RequiresMigration)

		w = get(t, handler, "/api/v1/analyze/unknown")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("HealthAndAnalytics", func(t *testing.T) {
		w := get(t, handler, "/api/v1/health")
		require.Equal(t, http.StatusOK, w.Code)
		health := decode[monitoring.HealthCheckResult](t, w)
		assert.Equal(t, monitoring.RecommendContinue, health.Recommendation)

		w = get(t, handler, "/api/v1/analytics")
		require.Equal(t, http.StatusOK, w.Code)
		analytics := decode[monitoring.AnalyticsSummary](t, w)
		assert.Equal(t, uint64(0), analytics.Total)
		assert.Zero(t, analytics.SuccessRate)

		w = get(t, handler, "/api/v1/trends")
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Metrics", func(t *testing.T) {
		w := get(t, handler, "/metrics")
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("UnknownRoute", func(t *testing.T) {
		w := get(t, handler, "/api/v1/nope")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// haltSource reports a halted health check and fails everything else
type haltSource struct {
	api.StatusSource
	err error
}

func (s haltSource) GetHealthStatus(context.Context) (*monitoring.HealthCheckResult, error) {
	return &monitoring.HealthCheckResult{
		Status:         monitoring.HealthCritical,
		Recommendation: monitoring.RecommendHalt,
	}, nil
}

func (s haltSource) GetUpgradeAnalytics(context.Context) (*monitoring.AnalyticsSummary, error) {
	return nil, s.err
}

func TestErrorMapping(t *testing.T) {
	testDefs := []struct {
		err    error
		status int
	}{
		{err: proxyerr.ErrNotAdmin, status: http.StatusForbidden},
		{err: proxyerr.ErrProposalNotPending.WithStatus("Executed"), status: http.StatusConflict},
		{err: proxyerr.ErrPolicyViolation, status: http.StatusUnprocessableEntity},
		{err: proxyerr.ErrInvalidDelay, status: http.StatusBadRequest},
		{err: errors.New("disk on fire"), status: http.StatusInternalServerError},
	}
	for _, testDef := range testDefs {
		a := api.New(api.Config{Source: haltSource{err: testDef.err}})
		w := get(t, a.Handler(), "/api/v1/analytics")
		assert.Equal(t, testDef.status, w.Code, testDef.err.Error())
		resp := decode[api.ErrorResponse](t, w)
		assert.Equal(t, string(proxyerr.CodeOf(testDef.err)), resp.Error)
		if testDef.status == http.StatusConflict {
			assert.Equal(t, "Executed", resp.Status)
		}
	}

	a := api.New(api.Config{Source: haltSource{}})
	w := get(t, a.Handler(), "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStartStop(t *testing.T) {
	a := api.New(api.Config{
		Source:        haltSource{},
		ListenAddress: "127.0.0.1:0",
	})
	require.NoError(t, a.Start(t.Context()))
	assert.Error(t, a.Start(t.Context()))

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx))
	// Stopping twice is a no-op
	require.NoError(t, a.Stop(stopCtx))
}
