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

package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blinklabs-io/proxyguard"
	"github.com/blinklabs-io/proxyguard/api"
	"github.com/blinklabs-io/proxyguard/event"
	"github.com/blinklabs-io/proxyguard/implementation"
	"github.com/blinklabs-io/proxyguard/internal/config"
)

var loggedEventTypes = []event.EventType{
	event.UpgradeProposedEventType,
	event.UpgradeApprovedEventType,
	event.UpgradeRejectedEventType,
	event.UpgradeExpiredEventType,
	event.UpgradeExecutedEventType,
	event.UpgradeRolledBackEventType,
	event.MigrationProgressEventType,
	event.MigrationRecoveredEventType,
	event.AccessDeniedEventType,
}

// Signer builds the signer oracle from the configured signer identities. An
// empty list trusts every caller
func Signer(cfg *config.Config) implementation.Signer {
	if len(cfg.Signers) == 0 {
		return nil
	}
	signers := slices.Clone(cfg.Signers)
	return implementation.SignerFunc(func(identity string) bool {
		return slices.Contains(signers, identity)
	})
}

// Open builds a proxy from the loaded config
func Open(
	cfg *config.Config,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*proxyguard.Proxy, error) {
	maxRisk, err := cfg.RiskLevel()
	if err != nil {
		return nil, err
	}
	ttl, err := cfg.ProposalTTLDuration()
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := cfg.ShutdownTimeoutDuration()
	if err != nil {
		return nil, err
	}
	return proxyguard.New(
		proxyguard.NewConfig(
			proxyguard.WithLogger(logger),
			proxyguard.WithDatabasePath(cfg.DatabasePath),
			proxyguard.WithMaxRiskLevel(maxRisk),
			proxyguard.WithProposalTTL(ttl),
			proxyguard.WithHealthGate(cfg.HealthGate),
			proxyguard.WithSigner(Signer(cfg)),
			proxyguard.WithShutdownTimeout(shutdownTimeout),
			proxyguard.WithPrometheusRegistry(promRegistry),
			proxyguard.WithTracing(cfg.Tracing),
			proxyguard.WithTracingStdout(cfg.TracingStdout),
		),
	)
}

// logEvents writes every governance event to the log
func logEvents(bus *event.EventBus, logger *slog.Logger) {
	for _, eventType := range loggedEventTypes {
		bus.SubscribeFunc(eventType, func(evt event.Event) {
			logger.Info(
				"governance event",
				"component", "node",
				"type", string(evt.Type),
				"data", fmt.Sprintf("%+v", evt.Data),
			)
		})
	}
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	shutdownTimeout, err := cfg.ShutdownTimeoutDuration()
	if err != nil {
		return err
	}
	// Enable metrics with default prometheus registry
	p, err := Open(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
		}
	}()
	logEvents(p.EventBus(), logger)

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	apiServer := api.New(api.Config{
		Logger:       logger,
		Source:       p.Coordinator(),
		PromGatherer: prometheus.DefaultGatherer,
		ListenAddress: net.JoinHostPort(
			cfg.BindAddr,
			strconv.FormatUint(uint64(cfg.ApiPort), 10),
		),
	})
	if err := apiServer.Start(signalCtx); err != nil {
		return err
	}

	var metricsServer *http.Server
	if cfg.MetricsPort > 0 {
		metricsAddr := net.JoinHostPort(
			cfg.BindAddr,
			strconv.FormatUint(uint64(cfg.MetricsPort), 10),
		)
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 60 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		logger.Info(
			"serving prometheus metrics on "+metricsAddr,
			"component", "node",
		)
		errChan := make(chan error, 1)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil &&
				err != http.ErrServerClosed {
				errChan <- fmt.Errorf("failed to start metrics listener: %w", err)
			}
		}()
		select {
		case <-signalCtx.Done():
		case err := <-errChan:
			signalCtxStop()
			return err
		}
	} else {
		<-signalCtx.Done()
	}
	logger.Info("signal received, initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		shutdownTimeout,
	)
	defer cancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}
