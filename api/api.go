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

// Package api serves a read-only JSON view of the upgrade governance state
// and the prometheus metrics of the process.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/governance"
	"github.com/blinklabs-io/proxyguard/monitoring"
	"github.com/blinklabs-io/proxyguard/safety"
)

const (
	apiPrefix = "/api/v1"

	DefaultListenAddress = ":8080"
)

// StatusSource is the read side of the governance coordinator that the API
// exposes
type StatusSource interface {
	GetHealthStatus(ctx context.Context) (*monitoring.HealthCheckResult, error)
	GetUpgradeAnalytics(ctx context.Context) (*monitoring.AnalyticsSummary, error)
	GetTrends(ctx context.Context) (*monitoring.TrendAnalysis, error)
	GetCurrentImplementation(ctx context.Context) (string, error)
	GetVersion(ctx context.Context) (uint64, error)
	GetGovernance(ctx context.Context) (*governance.GovernanceView, error)
	GetHistory(ctx context.Context) ([]models.ImplementationRecord, error)
	GetProposal(ctx context.Context, id uint64) (*governance.ProposalView, error)
	GetMigration(ctx context.Context, id uint64) (*governance.MigrationView, error)
	AnalyzeUpgradeSafety(ctx context.Context, candidate string) (*safety.ImpactAnalysis, error)
}

type Config struct {
	Logger        *slog.Logger
	Source        StatusSource
	PromGatherer  prometheus.Gatherer
	ListenAddress string
}

type API struct {
	config     Config
	logger     *slog.Logger
	source     StatusSource
	router     *mux.Router
	httpServer *http.Server
	mu         sync.Mutex
}

func New(cfg Config) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	logger = logger.With("component", "api")
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	a := &API{
		config: cfg,
		logger: logger,
		source: cfg.Source,
	}
	a.router = a.newRouter()
	return a
}

func (a *API) newRouter() *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix(apiPrefix).Subrouter()
	v1.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/analytics", a.handleAnalytics).Methods(http.MethodGet)
	v1.HandleFunc("/trends", a.handleTrends).Methods(http.MethodGet)
	v1.HandleFunc("/implementation", a.handleImplementation).Methods(http.MethodGet)
	v1.HandleFunc("/governance", a.handleGovernance).Methods(http.MethodGet)
	v1.HandleFunc("/history", a.handleHistory).Methods(http.MethodGet)
	v1.HandleFunc("/proposals/{id:[0-9]+}", a.handleProposal).Methods(http.MethodGet)
	v1.HandleFunc("/migrations/{id:[0-9]+}", a.handleMigration).Methods(http.MethodGet)
	v1.HandleFunc("/analyze/{candidate}", a.handleAnalyze).Methods(http.MethodGet)
	if a.config.PromGatherer != nil {
		r.Handle(
			"/metrics",
			promhttp.HandlerFor(a.config.PromGatherer, promhttp.HandlerOpts{}),
		).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route")
	})
	return r
}

// Handler returns the HTTP handler serving every route
func (a *API) Handler() http.Handler {
	return a.router
}

// Start binds the listen address and serves in a background goroutine until
// ctx is cancelled or Stop is called
func (a *API) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.httpServer != nil {
		a.mu.Unlock()
		return errors.New("server already started")
	}
	server := &http.Server{
		Addr:              a.config.ListenAddress,
		Handler:           a.router,
		ReadHeaderTimeout: 60 * time.Second,
	}
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	a.httpServer = server
	a.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("API server error", "error", err)
		}
	}()
	a.logger.Info("API listener started on " + ln.Addr().String())

	// Monitor context for cancellation
	go func() {
		<-ctx.Done()
		//nolint:contextcheck
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			30*time.Second,
		)
		defer cancel()
		//nolint:contextcheck
		if err := a.Stop(shutdownCtx); err != nil {
			a.logger.Error(
				"failed to shutdown API server on context cancellation",
				"error", err,
			)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (a *API) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.httpServer
	a.httpServer = nil
	a.mu.Unlock()

	if srv != nil {
		a.logger.Debug("shutting down API server")
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown API server: %w", err)
		}
	}
	return nil
}
