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

package governance

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/event"
	"github.com/blinklabs-io/proxyguard/implementation"
	"github.com/blinklabs-io/proxyguard/migration"
	"github.com/blinklabs-io/proxyguard/monitoring"
	"github.com/blinklabs-io/proxyguard/proxyerr"
	"github.com/blinklabs-io/proxyguard/safety"
)

// ExecutionResult describes a committed upgrade
type ExecutionResult struct {
	// Impact is nil for the first activation
	Impact    *safety.ImpactAnalysis
	Record    *models.ImplementationRecord
	Migration *models.MigrationRecord
	Metrics   *models.MetricsRecord
	Previous  string
}

// ExecuteUpgrade activates the candidate of an approved proposal. Any failure
// aborts the whole execution. Fatal failures also reject the proposal
func (c *Coordinator) ExecuteUpgrade(
	ctx context.Context,
	id uint64,
) (result *ExecutionResult, err error) {
	ctx, span := c.startSpan(
		ctx,
		"ExecuteUpgrade",
		attribute.Int64("proposal_id", int64(id)), //nolint:gosec
	)
	defer func() { endSpan(span, err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired bool
	// Set once the governance preconditions hold
	var attempted bool
	var migrated uint64
	err = c.update(func(txn *database.Txn) error {
		cfg, err := c.loadConfig(txn)
		if err != nil {
			return err
		}
		proposal, err := getProposal(txn, id)
		if err != nil {
			return err
		}
		if err := c.checkExecutable(txn, cfg, proposal, &expired); err != nil {
			return err
		}
		attempted = true
		result, migrated, err = c.execute(ctx, txn, cfg, proposal)
		return err
	})
	if err != nil {
		if expired {
			c.expire(id)
		}
		if attempted || proxyerr.IsFatal(err) {
			c.settleExecution(id, attempted, err)
		}
		c.logger.Warn(
			"upgrade execution failed",
			"component", "governance",
			"proposal_id", id,
			"code", string(proxyerr.CodeOf(err)),
			"fatal", proxyerr.IsFatal(err),
			"error", err,
		)
		return nil, err
	}
	c.monitoring.SetActiveVersion(result.Record.Version)
	c.monitoring.ObserveMigratedItems(migrated)
	executed := event.UpgradeExecutedEvent{
		Previous:   result.Previous,
		Current:    result.Record.Implementation,
		ProposalID: id,
		Version:    result.Record.Version,
	}
	if result.Impact != nil {
		executed.Risk = result.Impact.Risk.String()
	}
	if result.Migration != nil {
		executed.Strategy = string(result.Migration.Strategy)
		executed.MigrationID = result.Migration.ID
	}
	c.logger.Info(
		"upgrade executed",
		"component", "governance",
		"proposal_id", id,
		"previous", result.Previous,
		"current", result.Record.Implementation,
		"version", result.Record.Version,
		"strategy", executed.Strategy,
	)
	c.publish(event.UpgradeExecutedEventType, executed)
	if result.Migration != nil {
		c.publishProgress(result.Migration)
	}
	return result, nil
}

// checkExecutable applies the governance preconditions of execution
func (c *Coordinator) checkExecutable(
	txn *database.Txn,
	cfg *models.GovernanceConfig,
	proposal *models.Proposal,
	expired *bool,
) error {
	switch proposal.Status {
	case models.ProposalStatusApproved:
	case models.ProposalStatusProposed:
		return proxyerr.ErrProposalNotApproved.Withf(
			"proposal %d",
			proposal.ID,
		).WithStatus(string(proposal.Status))
	default:
		return proxyerr.ErrProposalNotPending.Withf(
			"proposal %d",
			proposal.ID,
		).WithStatus(string(proposal.Status))
	}
	now := c.clock.Now()
	if c.expired(proposal, now) {
		*expired = true
		return proxyerr.ErrProposalExpired.Withf("proposal %d", proposal.ID)
	}
	approvers, err := txn.DB().GetProposalApprovers(proposal.ID, txn)
	if err != nil {
		return proxyerr.Storagef(err, "get approvals")
	}
	if len(approvers) < int(cfg.Threshold) {
		return proxyerr.ErrThresholdNotMet.Withf(
			"%d of %d approvals",
			len(approvers),
			cfg.Threshold,
		)
	}
	if now.Before(proposal.ExecutableAt) {
		return proxyerr.ErrDelayNotElapsed.Withf(
			"executable at %s",
			proposal.ExecutableAt.UTC().Format("2006-01-02T15:04:05Z"),
		)
	}
	running, err := c.migrations.InProgress(txn)
	if err != nil {
		return err
	}
	if len(running) > 0 {
		return proxyerr.ErrMigrationInProgress.Withf(
			"migration %d",
			running[0].ID,
		).WithStatus(string(running[0].Status))
	}
	return nil
}

// execute runs the upgrade pipeline inside the execution transaction
func (c *Coordinator) execute(
	ctx context.Context,
	txn *database.Txn,
	cfg *models.GovernanceConfig,
	proposal *models.Proposal,
) (*ExecutionResult, uint64, error) {
	db := txn.DB()
	now := c.clock.Now()
	metrics, err := c.monitoring.StartMetricsCollection(
		txn,
		proposal.ID,
		models.MetricsKindExecute,
	)
	if err != nil {
		return nil, 0, err
	}
	candidate, err := c.resolve(proposal.Candidate)
	if err != nil {
		return nil, 0, err
	}
	candidateDesc := safety.DescriptorOf(proposal.Candidate, candidate)
	strategy := proposal.Strategy
	if strategy == "" && proposal.MigrationRequested() {
		strategy = models.MigrationStrategyDirect
	}
	result := &ExecutionResult{Previous: cfg.ActiveImplementation}
	var snapshotID *uint64
	if cfg.HasImplementation() {
		current, err := c.resolve(cfg.ActiveImplementation)
		if err != nil {
			return nil, 0, err
		}
		currentDesc := safety.DescriptorOf(cfg.ActiveImplementation, current)
		if _, err := c.validator.ValidateSchemaCompatibility(currentDesc, candidateDesc); err != nil {
			return nil, 0, err
		}
		snapshot, err := c.validator.CapturePreUpgradeState(
			txn,
			proposal.ID,
			currentDesc,
			now,
		)
		if err != nil {
			return nil, 0, err
		}
		snapshotID = &snapshot.ID
		impact, err := c.validator.AnalyzeUpgradeImpact(
			currentDesc,
			candidateDesc,
			snapshot,
		)
		if err != nil {
			return nil, 0, err
		}
		result.Impact = impact
		if impact.Risk == safety.RiskCritical {
			return nil, 0, proxyerr.ErrCriticalRisk.Withf(
				"%s to %s",
				cfg.ActiveImplementation,
				proposal.Candidate,
			)
		}
		if err := c.validator.ValidateAgainstPolicies(
			impact,
			c.config.MaxRiskLevel,
			strategy,
		); err != nil {
			return nil, 0, err
		}
	}
	if c.config.HealthGate {
		health, err := c.monitoring.HealthCheck(txn)
		if err != nil {
			return nil, 0, err
		}
		if health.Recommendation == monitoring.RecommendHalt {
			return nil, 0, proxyerr.ErrUpgradeHalted.Withf(
				"%s",
				strings.Join(health.Reasons, "; "),
			)
		}
	}

	// Swap the active implementation
	proposalID := proposal.ID
	record := &models.ImplementationRecord{
		ActivatedAt:    now,
		Implementation: proposal.Candidate,
		Kind:           models.ImplementationKindUpgrade,
		ProposalID:     &proposalID,
		SchemaVersion:  candidateDesc.SchemaVersion,
	}
	latest, err := db.GetLatestImplementationRecord(txn)
	switch {
	case err == nil:
		predecessor := latest.Version
		record.Version = latest.Version + 1
		record.Predecessor = &predecessor
	case errors.Is(err, models.ErrImplementationRecordNotFound):
		// First activation without a genesis implementation
		record.Version = cfg.Version + 1
	default:
		return nil, 0, proxyerr.Storagef(err, "get latest implementation")
	}
	if err := db.AddImplementationRecord(record, txn); err != nil {
		return nil, 0, proxyerr.Storagef(err, "append history")
	}
	cfg.ActiveImplementation = proposal.Candidate
	cfg.Version = record.Version
	if err := db.SetGovernanceConfig(cfg, txn); err != nil {
		return nil, 0, proxyerr.Storagef(err, "update governance config")
	}
	proposal.Status = models.ProposalStatusExecuted
	proposal.DecidedAt = &now
	if err := db.UpdateProposal(proposal, txn); err != nil {
		return nil, 0, proxyerr.Storagef(err, "update proposal")
	}
	result.Record = record

	var migrated, calls uint64
	requiresMigration := result.Impact != nil && result.Impact.RequiresMigration
	if strategy != "" && result.Previous != "" &&
		(proposal.MigrationRequested() || requiresMigration) {
		result.Migration, migrated, err = c.startMigration(
			ctx,
			txn,
			proposal,
			candidate,
			strategy,
			result.Previous,
			snapshotID,
		)
		if err != nil {
			return nil, 0, err
		}
		if strategy != models.MigrationStrategyLazy {
			calls = 1
		}
	}
	c.monitoring.RecordUsage(metrics, txn.StorageOps(), calls)
	result.Metrics, err = c.monitoring.FinalizeMetrics(txn, metrics, true, "")
	if err != nil {
		return nil, 0, err
	}
	return result, migrated, nil
}

// startMigration initializes the migration of an execution and runs its
// first unit of work. It returns the number of items transformed
func (c *Coordinator) startMigration(
	ctx context.Context,
	txn *database.Txn,
	proposal *models.Proposal,
	candidate implementation.Implementation,
	strategy models.MigrationStrategy,
	previous string,
	snapshotID *uint64,
) (*models.MigrationRecord, uint64, error) {
	step, err := c.step(txn, previous, proposal.Candidate)
	if err != nil {
		return nil, 0, err
	}
	total := proposal.TotalItems
	if counter, ok := candidate.(implementation.ItemCounter); ok && total == 0 {
		total, err = counter.MigrationItems(ctx, step.State)
		if err != nil {
			return nil, 0, proxyerr.ErrStateReadError.Withf(
				"count migration items",
			).Wrap(err)
		}
	}
	record, err := c.migrations.InitializeMigration(txn, migration.Params{
		SnapshotID:         snapshotID,
		Strategy:           strategy,
		PrevImplementation: previous,
		NewImplementation:  proposal.Candidate,
		ProposalID:         proposal.ID,
		TotalItems:         total,
		BatchSize:          proposal.BatchSize,
	})
	if err != nil {
		return nil, 0, err
	}
	record, err = c.migrations.Start(txn, record.ID)
	if err != nil {
		return nil, 0, err
	}
	switch strategy {
	case models.MigrationStrategyDirect:
		record, err = c.migrations.RunDirect(ctx, txn, record.ID, step, total)
		if err != nil {
			return nil, 0, err
		}
		return record, total, nil
	case models.MigrationStrategyIncremental:
		record, err = c.migrations.RunBatch(ctx, txn, record.ID, step)
		if err != nil {
			return nil, 0, err
		}
		return record, record.ProcessedItems, nil
	}
	// Lazy items are transformed as calls touch them
	return record, 0, nil
}

// settleExecution records the outcome of an aborted execution. Fatal errors
// reject the proposal and attempts that passed the preconditions get an
// audit entry. Health gate refusals get no metrics record so the streak that
// tripped the gate does not grow while it holds
func (c *Coordinator) settleExecution(id uint64, attempted bool, execErr error) {
	fatal := proxyerr.IsFatal(execErr)
	halted := proxyerr.CodeOf(execErr) == proxyerr.CodeUpgradeHalted
	var rejected *models.Proposal
	c.settle("execute", func(txn *database.Txn) error {
		db := txn.DB()
		now := c.clock.Now()
		if fatal {
			proposal, err := db.GetProposal(id, txn)
			if err != nil {
				return err
			}
			if !proposal.Status.Terminal() {
				proposal.Status = models.ProposalStatusRejected
				proposal.DecidedAt = &now
				proposal.Reason = string(proxyerr.CodeOf(execErr))
				if err := db.UpdateProposal(proposal, txn); err != nil {
					return err
				}
				rejected = proposal
			}
		}
		if !attempted {
			return nil
		}
		if !halted {
			metrics, err := c.monitoring.StartMetricsCollection(
				txn,
				id,
				models.MetricsKindExecute,
			)
			if err != nil {
				return err
			}
			if _, err := c.monitoring.FinalizeMetrics(
				txn,
				metrics,
				false,
				proxyerr.CodeOf(execErr),
			); err != nil {
				return err
			}
		}
		return db.AddAuditEntry(auditEntry(now, "execute", "", id, execErr), txn)
	})
	if rejected != nil {
		c.publish(
			event.UpgradeRejectedEventType,
			event.ProposalEvent{
				ProposalID: id,
				Candidate:  rejected.Candidate,
				Status:     string(rejected.Status),
				Reason:     rejected.Reason,
			},
		)
	}
}

func (c *Coordinator) publishProgress(record *models.MigrationRecord) {
	c.publish(
		event.MigrationProgressEventType,
		event.MigrationEvent{
			Status:      string(record.Status),
			MigrationID: record.ID,
			ProposalID:  record.ProposalID,
			Processed:   record.ProcessedItems,
			Total:       record.TotalItems,
		},
	)
}
