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

package proxyguard

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/proxyguard/implementation"
	"github.com/blinklabs-io/proxyguard/safety"
)

const (
	// DefaultProposalTTL is how long a proposal stays open when no TTL is configured
	DefaultProposalTTL = 30 * 24 * time.Hour
	// DefaultMaxRiskLevel is the highest upgrade risk accepted by default
	DefaultMaxRiskLevel = safety.RiskHigh

	defaultShutdownTimeout = 30 * time.Second
)

type Config struct {
	promRegistry    prometheus.Registerer
	logger          *slog.Logger
	clock           clock.Clock
	registry        *implementation.Registry
	signer          implementation.Signer
	dataDir         string
	maxRiskLevel    safety.RiskLevel
	proposalTTL     time.Duration
	shutdownTimeout time.Duration
	healthGate      bool
	tracing         bool
	tracingStdout   bool
}

func (c *Config) validate() error {
	if c.logger == nil {
		return errors.New("no logger configured")
	}
	if c.maxRiskLevel > safety.RiskCritical {
		return fmt.Errorf("invalid max risk level: %d", c.maxRiskLevel)
	}
	if c.proposalTTL < 0 {
		return fmt.Errorf("invalid proposal TTL: %s", c.proposalTTL)
	}
	if c.tracingStdout && !c.tracing {
		return errors.New("stdout tracing requires tracing to be enabled")
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the proxy config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new proxyguard config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:          slog.New(slog.NewJSONHandler(io.Discard, nil)),
		maxRiskLevel:    DefaultMaxRiskLevel,
		proposalTTL:     DefaultProposalTTL,
		shutdownTimeout: defaultShutdownTimeout,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithLogger specifies the logger to use
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithClock specifies the clock used for delays, expiry and metrics. The default is the wall clock
func WithClock(clk clock.Clock) ConfigOptionFunc {
	return func(c *Config) {
		c.clock = clk
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithRegistry specifies the implementations the proxy can dispatch to. The default registers the payments implementations
func WithRegistry(registry *implementation.Registry) ConfigOptionFunc {
	return func(c *Config) {
		c.registry = registry
	}
}

// WithSigner specifies the oracle used to check that a caller signed the request. The default trusts every caller
func WithSigner(signer implementation.Signer) ConfigOptionFunc {
	return func(c *Config) {
		c.signer = signer
	}
}

// WithMaxRiskLevel specifies the highest upgrade risk that may be executed. The default is high
func WithMaxRiskLevel(level safety.RiskLevel) ConfigOptionFunc {
	return func(c *Config) {
		c.maxRiskLevel = level
	}
}

// WithProposalTTL specifies how long a proposal stays open. A zero TTL disables expiry. The default is 30 days
func WithProposalTTL(ttl time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.proposalTTL = ttl
	}
}

// WithHealthGate halts upgrade executions while the upgrade health check recommends it
func WithHealthGate(healthGate bool) ConfigOptionFunc {
	return func(c *Config) {
		c.healthGate = healthGate
	}
}

// WithShutdownTimeout specifies the timeout for flushing traces on close. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}
