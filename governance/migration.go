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

	"go.opentelemetry.io/otel/attribute"

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/event"
	"github.com/blinklabs-io/proxyguard/proxyerr"
	"github.com/blinklabs-io/proxyguard/recovery"
)

// ContinueMigration processes the next batch of an incremental migration. A
// failing batch leaves the migration Failed
func (c *Coordinator) ContinueMigration(
	ctx context.Context,
	id uint64,
) (record *models.MigrationRecord, err error) {
	ctx, span := c.startSpan(
		ctx,
		"ContinueMigration",
		attribute.Int64("migration_id", int64(id)), //nolint:gosec
	)
	defer func() { endSpan(span, err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	var before uint64
	err = c.update(func(txn *database.Txn) error {
		if _, err := c.loadConfig(txn); err != nil {
			return err
		}
		current, err := c.migrations.Get(txn, id)
		if err != nil {
			return err
		}
		before = current.ProcessedItems
		step, err := c.step(txn, current.PrevImplementation, current.NewImplementation)
		if err != nil {
			return err
		}
		record, err = c.migrations.RunBatch(ctx, txn, id, step)
		return err
	})
	if err != nil {
		if errors.Is(err, proxyerr.ErrMigrationFailed) {
			reason := err.Error()
			c.settle("continue", func(txn *database.Txn) error {
				_, err := c.migrations.MarkFailed(txn, id, reason)
				return err
			})
		}
		return nil, err
	}
	c.monitoring.ObserveMigratedItems(record.ProcessedItems - before)
	c.publishProgress(record)
	return record, nil
}

// RecoverMigration resumes a failed migration from its latest intact
// checkpoint or rolls it back from its snapshot. Rolling back the migration
// of the active upgrade also reverts the active implementation
func (c *Coordinator) RecoverMigration(
	ctx context.Context,
	id uint64,
	caller string,
) (result *recovery.Result, err error) {
	_, span := c.startSpan(
		ctx,
		"RecoverMigration",
		attribute.Int64("migration_id", int64(id)), //nolint:gosec
		attribute.String("caller", caller),
	)
	defer func() { endSpan(span, err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	var reverted *models.ImplementationRecord
	var plan *recovery.RollbackPlan
	err = c.update(func(txn *database.Txn) error {
		cfg, err := c.loadConfig(txn)
		if err != nil {
			return err
		}
		if err := c.authorize(txn, caller); err != nil {
			return err
		}
		result, err = c.recovery.RecoverFromFailure(txn, id)
		if err != nil {
			return err
		}
		if result.Outcome != recovery.OutcomeRolledBack ||
			cfg.ActiveImplementation != result.Migration.NewImplementation {
			return nil
		}
		plan, err = c.revertPlan(txn, result.Migration)
		if err != nil {
			return err
		}
		reverted, err = c.activate(txn, cfg, plan)
		return err
	})
	if err != nil {
		c.denied("recover", caller, 0, err)
		return nil, err
	}
	c.logger.Info(
		"migration recovered",
		"component", "governance",
		"migration_id", id,
		"outcome", string(result.Outcome),
		"caller", caller,
	)
	c.publishRecovered(result)
	if reverted != nil {
		c.monitoring.SetActiveVersion(reverted.Version)
		c.publish(
			event.UpgradeRolledBackEventType,
			event.UpgradeRolledBackEvent{
				Previous:     plan.Active.Implementation,
				Current:      reverted.Implementation,
				Caller:       caller,
				Version:      reverted.Version,
				RestoredFrom: plan.Target.Version,
			},
		)
	}
	return result, nil
}

// revertPlan builds the plan that reactivates the implementation a rolled
// back migration started from
func (c *Coordinator) revertPlan(
	txn *database.Txn,
	record *models.MigrationRecord,
) (*recovery.RollbackPlan, error) {
	db := txn.DB()
	active, err := db.GetLatestImplementationRecord(txn)
	if err != nil {
		return nil, proxyerr.Storagef(err, "get active implementation")
	}
	if active.Predecessor == nil {
		return nil, proxyerr.ErrNoRollbackAvailable.Withf(
			"version %d has no predecessor",
			active.Version,
		)
	}
	target, err := db.GetImplementationRecord(*active.Predecessor, txn)
	if err != nil {
		return nil, proxyerr.Storagef(err, "get predecessor")
	}
	if target.Implementation != record.PrevImplementation {
		return nil, proxyerr.ErrNoRollbackAvailable.Withf(
			"predecessor %s is not the migration source %s",
			target.Implementation,
			record.PrevImplementation,
		)
	}
	return &recovery.RollbackPlan{Active: active, Target: target}, nil
}

// ResumeFromCheckpoint resumes a migration at the batch after an intact,
// latest checkpoint
func (c *Coordinator) ResumeFromCheckpoint(
	ctx context.Context,
	id uint64,
	batch uint32,
	caller string,
) (record *models.MigrationRecord, err error) {
	_, span := c.startSpan(
		ctx,
		"ResumeFromCheckpoint",
		attribute.Int64("migration_id", int64(id)), //nolint:gosec
		attribute.Int("batch", int(batch)),
		attribute.String("caller", caller),
	)
	defer func() { endSpan(span, err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	err = c.update(func(txn *database.Txn) error {
		if _, err := c.loadConfig(txn); err != nil {
			return err
		}
		if err := c.authorize(txn, caller); err != nil {
			return err
		}
		record, err = c.recovery.RecoverFromCheckpoint(txn, id, batch)
		return err
	})
	if err != nil {
		c.denied("resume", caller, 0, err)
		return nil, err
	}
	c.publishRecovered(&recovery.Result{
		Migration: record,
		Outcome:   recovery.OutcomeResumed,
	})
	return record, nil
}

// MarkMigrationFailed records an interrupted migration as Failed. Only admins
// may do so
func (c *Coordinator) MarkMigrationFailed(
	ctx context.Context,
	id uint64,
	reason string,
	caller string,
) (err error) {
	_, span := c.startSpan(
		ctx,
		"MarkMigrationFailed",
		attribute.Int64("migration_id", int64(id)), //nolint:gosec
		attribute.String("caller", caller),
	)
	defer func() { endSpan(span, err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	var record *models.MigrationRecord
	err = c.update(func(txn *database.Txn) error {
		if _, err := c.loadConfig(txn); err != nil {
			return err
		}
		if err := c.authorize(txn, caller); err != nil {
			return err
		}
		var err error
		record, err = c.migrations.MarkFailed(txn, id, reason)
		return err
	})
	if err != nil {
		c.denied("mark-failed", caller, 0, err)
		return err
	}
	c.logger.Warn(
		"migration marked failed",
		"component", "governance",
		"migration_id", id,
		"reason", reason,
		"caller", caller,
	)
	c.publishProgress(record)
	return nil
}

// ValidateMigrationComplete checks that every item of a migration was
// processed
func (c *Coordinator) ValidateMigrationComplete(
	ctx context.Context,
	id uint64,
) (err error) {
	_, span := c.startSpan(
		ctx,
		"ValidateMigrationComplete",
		attribute.Int64("migration_id", int64(id)), //nolint:gosec
	)
	defer func() { endSpan(span, err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	txn := c.db.Transaction(false)
	defer txn.Release()
	return c.migrations.ValidateMigrationComplete(txn, id)
}
