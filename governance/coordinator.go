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

// Package governance owns the upgrade lifecycle of the proxy: admin
// initialization, the proposal state machine, execution of approved upgrades,
// rollback, explicit migration recovery and call forwarding to the active
// implementation. Every entry point runs in a single database transaction.
package governance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/event"
	"github.com/blinklabs-io/proxyguard/implementation"
	"github.com/blinklabs-io/proxyguard/migration"
	"github.com/blinklabs-io/proxyguard/monitoring"
	"github.com/blinklabs-io/proxyguard/proxyerr"
	"github.com/blinklabs-io/proxyguard/recovery"
	"github.com/blinklabs-io/proxyguard/safety"
)

const tracerName = "github.com/blinklabs-io/proxyguard/governance"

type Config struct {
	Logger       *slog.Logger
	Clock        clock.Clock
	Database     *database.Database
	Registry     *implementation.Registry
	Signer       implementation.Signer
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	// MaxRiskLevel is the highest impact risk ExecuteUpgrade accepts
	MaxRiskLevel safety.RiskLevel
	// ProposalTTL is how long a proposal stays open. Zero disables expiry
	ProposalTTL time.Duration
	// HealthGate halts executions while the health check recommends it
	HealthGate bool
}

type Coordinator struct {
	mu         sync.Mutex
	config     Config
	logger     *slog.Logger
	clock      clock.Clock
	db         *database.Database
	registry   *implementation.Registry
	signer     implementation.Signer
	bus        *event.EventBus
	tracer     trace.Tracer
	validator  *safety.Validator
	migrations *migration.Engine
	recovery   *recovery.Manager
	monitoring *monitoring.Engine
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Database == nil {
		return nil, errors.New("governance: no database configured")
	}
	if cfg.Registry == nil {
		return nil, errors.New("governance: no implementation registry configured")
	}
	if cfg.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Signer == nil {
		cfg.Signer = implementation.TrustAllSigners
	}
	validator := safety.NewValidator(cfg.Logger)
	migrations := migration.NewEngine(cfg.Logger, cfg.Clock)
	c := &Coordinator{
		config:     cfg,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		db:         cfg.Database,
		registry:   cfg.Registry,
		signer:     cfg.Signer,
		bus:        cfg.EventBus,
		tracer:     otel.Tracer(tracerName),
		validator:  validator,
		migrations: migrations,
		recovery: recovery.NewManager(
			cfg.Logger,
			cfg.Registry,
			validator,
			migrations,
		),
		monitoring: monitoring.NewEngine(cfg.Logger, cfg.Clock, cfg.PromRegistry),
	}
	return c, nil
}

// Registry returns the implementation registry used for dispatch
func (c *Coordinator) Registry() *implementation.Registry {
	return c.registry
}

func (c *Coordinator) startSpan(
	ctx context.Context,
	name string,
	attrs ...attribute.KeyValue,
) (context.Context, trace.Span) {
	return c.tracer.Start(
		ctx,
		"governance."+name,
		trace.WithAttributes(attrs...),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// update runs fn in a read-write transaction
func (c *Coordinator) update(fn func(*database.Txn) error) error {
	return c.db.Transaction(true).Do(fn)
}

// settle runs a follow-up write after an aborted operation. Failures are
// logged since the original error is what the caller sees
func (c *Coordinator) settle(operation string, fn func(*database.Txn) error) {
	if err := c.update(fn); err != nil {
		c.logger.Error(
			"follow-up transaction failed",
			"component", "governance",
			"operation", operation,
			"error", err,
		)
	}
}

func (c *Coordinator) publish(eventType event.EventType, data any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventType, event.NewEvent(eventType, data))
}

// loadConfig returns the governance configuration or ErrNotInitialized
func (c *Coordinator) loadConfig(txn *database.Txn) (*models.GovernanceConfig, error) {
	cfg, err := txn.DB().GetGovernanceConfig(txn)
	if err != nil {
		if errors.Is(err, models.ErrGovernanceConfigNotFound) {
			return nil, proxyerr.ErrNotInitialized
		}
		return nil, proxyerr.Storagef(err, "load governance config")
	}
	return cfg, nil
}

// authorize checks the signer oracle and the admin set
func (c *Coordinator) authorize(txn *database.Txn, identity string) error {
	if !c.signer.IsSigner(identity) {
		return proxyerr.ErrNotSigner.Withf("%q", identity)
	}
	isAdmin, err := txn.DB().IsAdmin(identity, txn)
	if err != nil {
		return proxyerr.Storagef(err, "check admin")
	}
	if !isAdmin {
		return proxyerr.ErrNotAdmin.Withf("%q", identity)
	}
	return nil
}

func (c *Coordinator) isAdmin(txn *database.Txn, identity string) (bool, error) {
	ret, err := txn.DB().IsAdmin(identity, txn)
	if err != nil {
		return false, proxyerr.Storagef(err, "check admin")
	}
	return ret, nil
}

func auditEntry(
	now time.Time,
	operation string,
	identity string,
	proposalID uint64,
	err error,
) *models.AuditEntry {
	return &models.AuditEntry{
		RecordedAt: now,
		Operation:  operation,
		Identity:   identity,
		Code:       string(proxyerr.CodeOf(err)),
		Class:      string(proxyerr.ClassOf(err)),
		Message:    err.Error(),
		ProposalID: proposalID,
	}
}

// denied records a refused authorization. Other failures are ignored
func (c *Coordinator) denied(
	operation string,
	identity string,
	proposalID uint64,
	err error,
) {
	if err == nil || proxyerr.ClassOf(err) != proxyerr.ClassAuthorization {
		return
	}
	c.logger.Warn(
		"access denied",
		"component", "governance",
		"operation", operation,
		"identity", identity,
		"error", err,
	)
	c.settle(operation, func(txn *database.Txn) error {
		return txn.DB().AddAuditEntry(
			auditEntry(c.clock.Now(), operation, identity, proposalID, err),
			txn,
		)
	})
	c.publish(
		event.AccessDeniedEventType,
		event.AccessDeniedEvent{
			Operation: operation,
			Identity:  identity,
			Code:      string(proxyerr.CodeOf(err)),
		},
	)
}

// resolve looks up an implementation reference in the registry
func (c *Coordinator) resolve(ref string) (implementation.Implementation, error) {
	impl, ok := c.registry.Get(ref)
	if !ok {
		return nil, proxyerr.ErrInvalidImplementation.Withf(
			"unknown implementation %q",
			ref,
		)
	}
	return impl, nil
}

// step builds the migration step into the implementation ref
func (c *Coordinator) step(
	txn *database.Txn,
	from string,
	to string,
) (migration.Step, error) {
	prev, err := c.resolve(from)
	if err != nil {
		return migration.Step{}, err
	}
	next, err := c.resolve(to)
	if err != nil {
		return migration.Step{}, err
	}
	migrator, ok := next.(implementation.Migrator)
	if !ok {
		return migration.Step{}, proxyerr.ErrInvalidStrategy.Withf(
			"%s has no migration hook",
			to,
		)
	}
	return migration.Step{
		Migrator:    migrator,
		State:       txn.DB().State(txn),
		FromVersion: prev.SchemaVersion(),
		ToVersion:   next.SchemaVersion(),
	}, nil
}

func (c *Coordinator) expired(proposal *models.Proposal, now time.Time) bool {
	return proposal.ExpiresAt != nil && !now.Before(*proposal.ExpiresAt)
}

// expire persists the Expired status of a proposal found past its deadline
func (c *Coordinator) expire(proposalID uint64) {
	var expired *models.Proposal
	c.settle("expire", func(txn *database.Txn) error {
		proposal, err := txn.DB().GetProposal(proposalID, txn)
		if err != nil {
			return err
		}
		if proposal.Status.Terminal() {
			return nil
		}
		now := c.clock.Now()
		proposal.Status = models.ProposalStatusExpired
		proposal.DecidedAt = &now
		proposal.Reason = "expired"
		if err := txn.DB().UpdateProposal(proposal, txn); err != nil {
			return err
		}
		expired = proposal
		return nil
	})
	if expired != nil {
		c.publish(
			event.UpgradeExpiredEventType,
			event.ProposalEvent{
				ProposalID: expired.ID,
				Candidate:  expired.Candidate,
				Status:     string(expired.Status),
				Reason:     expired.Reason,
			},
		)
	}
}

// getProposal loads a proposal, mapping the not found case
func getProposal(txn *database.Txn, id uint64) (*models.Proposal, error) {
	proposal, err := txn.DB().GetProposal(id, txn)
	if err != nil {
		if errors.Is(err, models.ErrProposalNotFound) {
			return nil, proxyerr.ErrProposalNotFound.Withf("proposal %d", id)
		}
		return nil, proxyerr.Storagef(err, "get proposal %d", id)
	}
	return proposal, nil
}
