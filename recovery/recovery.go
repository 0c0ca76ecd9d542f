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

// Package recovery brings persistent state back to a consistent point after
// a failed or aborted migration, and plans rollbacks to the previous
// implementation.
package recovery

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/implementation"
	"github.com/blinklabs-io/proxyguard/migration"
	"github.com/blinklabs-io/proxyguard/proxyerr"
	"github.com/blinklabs-io/proxyguard/safety"
)

type Outcome string

const (
	OutcomeResumed    Outcome = "Resumed"
	OutcomeRolledBack Outcome = "RolledBack"
)

// Result describes how a failed migration was recovered
type Result struct {
	Migration  *models.MigrationRecord
	Checkpoint *models.MigrationCheckpoint
	Snapshot   *safety.Snapshot
	Outcome    Outcome
}

// RollbackPlan is what the coordinator applies to revert the active
// implementation
type RollbackPlan struct {
	Active   *models.ImplementationRecord
	Target   *models.ImplementationRecord
	Report   *safety.CompatibilityReport
	Restored *Result
}

// HistoryRecord builds the history entry that activates the rollback target
func (p *RollbackPlan) HistoryRecord(now time.Time) *models.ImplementationRecord {
	restoredFrom := p.Target.Version
	return &models.ImplementationRecord{
		ActivatedAt:    now,
		Implementation: p.Target.Implementation,
		Kind:           models.ImplementationKindRollback,
		Version:        p.Active.Version + 1,
		Predecessor:    p.Target.Predecessor,
		RestoredFrom:   &restoredFrom,
		ProposalID:     p.Target.ProposalID,
		SchemaVersion:  p.Target.SchemaVersion,
	}
}

type Manager struct {
	logger     *slog.Logger
	registry   *implementation.Registry
	validator  *safety.Validator
	migrations *migration.Engine
}

func NewManager(
	logger *slog.Logger,
	registry *implementation.Registry,
	validator *safety.Validator,
	migrations *migration.Engine,
) *Manager {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Manager{
		logger:     logger,
		registry:   registry,
		validator:  validator,
		migrations: migrations,
	}
}

// RecoverFromCheckpoint resumes a migration from the given checkpoint, which
// must be intact and the latest one recorded
func (m *Manager) RecoverFromCheckpoint(
	txn *database.Txn,
	migrationID uint64,
	batch uint32,
) (*models.MigrationRecord, error) {
	db := txn.DB()
	checkpoint, data, err := db.GetMigrationCheckpoint(migrationID, batch, txn)
	if err != nil {
		if errors.Is(err, models.ErrMigrationCheckpointNotFound) {
			return nil, proxyerr.ErrCheckpointNotFound.Withf(
				"migration %d batch %d",
				migrationID,
				batch,
			)
		}
		return nil, proxyerr.Storagef(err, "get checkpoint")
	}
	if err := verifyCheckpoint(checkpoint, data); err != nil {
		return nil, err
	}
	latest, err := db.GetLatestMigrationCheckpoint(migrationID, txn)
	if err != nil {
		return nil, proxyerr.Storagef(err, "get latest checkpoint")
	}
	if latest == nil || latest.Batch != checkpoint.Batch {
		return nil, proxyerr.ErrStaleCheckpoint.Withf(
			"batch %d is not the latest checkpoint of migration %d",
			batch,
			migrationID,
		)
	}
	record, err := m.migrations.Get(txn, migrationID)
	if err != nil {
		return nil, err
	}
	switch record.Status {
	case models.MigrationStatusFailed, models.MigrationStatusInProgress:
	default:
		return nil, proxyerr.ErrMigrationTerminal.Withf(
			"migration %d cannot resume",
			migrationID,
		).WithStatus(string(record.Status))
	}
	if err := m.migrations.Resume(txn, record, checkpoint); err != nil {
		return nil, err
	}
	m.logger.Info(
		"resumed migration from checkpoint",
		"component", "recovery",
		"migration_id", migrationID,
		"batch", batch,
		"processed", record.ProcessedItems,
	)
	return record, nil
}

// RecoverFromFailure resumes a migration from its latest intact checkpoint or,
// failing that, restores the pre-upgrade snapshot and marks the migration
// RolledBack
func (m *Manager) RecoverFromFailure(
	txn *database.Txn,
	migrationID uint64,
) (*Result, error) {
	record, err := m.migrations.Get(txn, migrationID)
	if err != nil {
		return nil, err
	}
	if record.Status.Terminal() {
		return nil, proxyerr.ErrMigrationTerminal.Withf(
			"migration %d",
			migrationID,
		).WithStatus(string(record.Status))
	}
	db := txn.DB()
	latest, err := db.GetLatestMigrationCheckpoint(migrationID, txn)
	if err != nil {
		return nil, proxyerr.Storagef(err, "get latest checkpoint")
	}
	if latest != nil {
		_, data, err := db.GetMigrationCheckpoint(migrationID, latest.Batch, txn)
		if err != nil {
			return nil, proxyerr.Storagef(err, "get checkpoint data")
		}
		if err := verifyCheckpoint(latest, data); err == nil {
			resumed, err := m.RecoverFromCheckpoint(txn, migrationID, latest.Batch)
			if err != nil {
				return nil, err
			}
			return &Result{
				Outcome:    OutcomeResumed,
				Migration:  resumed,
				Checkpoint: latest,
			}, nil
		}
		m.logger.Warn(
			"latest checkpoint is corrupt, falling back to snapshot",
			"component", "recovery",
			"migration_id", migrationID,
			"batch", latest.Batch,
		)
	}
	if record.SnapshotID == nil {
		return nil, proxyerr.ErrNoCheckpointAvailable.Withf(
			"migration %d",
			migrationID,
		).WithStatus(string(record.Status))
	}
	return m.rollBackMigration(txn, record)
}

// PlanRollback validates that the active implementation can be reverted to its
// predecessor and restores the pre-upgrade state of an unfinished migration
func (m *Manager) PlanRollback(
	txn *database.Txn,
	active *models.ImplementationRecord,
	isAdmin bool,
) (*RollbackPlan, error) {
	if !isAdmin {
		return nil, proxyerr.ErrNotAdmin
	}
	if active == nil {
		return nil, proxyerr.ErrImplementationNotSet
	}
	if active.Predecessor == nil {
		return nil, proxyerr.ErrNoRollbackAvailable.Withf(
			"version %d has no predecessor",
			active.Version,
		)
	}
	db := txn.DB()
	target, err := db.GetImplementationRecord(*active.Predecessor, txn)
	if err != nil {
		if errors.Is(err, models.ErrImplementationRecordNotFound) {
			return nil, proxyerr.ErrNoRollbackAvailable.Withf(
				"predecessor version %d missing",
				*active.Predecessor,
			)
		}
		return nil, proxyerr.Storagef(err, "get predecessor")
	}
	current, err := m.descriptor(active.Implementation)
	if err != nil {
		return nil, err
	}
	candidate, err := m.descriptor(target.Implementation)
	if err != nil {
		return nil, err
	}
	report, err := m.validator.ValidateSchemaCompatibility(current, candidate)
	if err != nil {
		return nil, err
	}
	plan := &RollbackPlan{
		Active: active,
		Target: target,
		Report: report,
	}
	record, err := m.migrations.LatestForImplementation(txn, active.Implementation)
	if err != nil {
		return nil, err
	}
	if record != nil && !record.Status.Terminal() {
		if record.SnapshotID == nil {
			return nil, proxyerr.ErrNoCheckpointAvailable.Withf(
				"migration %d has no snapshot to restore",
				record.ID,
			).WithStatus(string(record.Status))
		}
		restored, err := m.rollBackMigration(txn, record)
		if err != nil {
			return nil, err
		}
		plan.Restored = restored
	}
	m.logger.Debug(
		"planned rollback",
		"component", "recovery",
		"from", active.Implementation,
		"to", target.Implementation,
		"version", active.Version+1,
	)
	return plan, nil
}

func (m *Manager) rollBackMigration(
	txn *database.Txn,
	record *models.MigrationRecord,
) (*Result, error) {
	snapshot, err := m.validator.LoadSnapshot(txn, *record.SnapshotID)
	if err != nil {
		return nil, err
	}
	if err := m.validator.RestoreSnapshot(txn, snapshot); err != nil {
		return nil, err
	}
	if err := m.migrations.MarkRolledBack(txn, record); err != nil {
		return nil, err
	}
	m.logger.Info(
		"rolled back migration from snapshot",
		"component", "recovery",
		"migration_id", record.ID,
		"snapshot_id", snapshot.ID,
	)
	return &Result{
		Outcome:   OutcomeRolledBack,
		Migration: record,
		Snapshot:  snapshot,
	}, nil
}

func (m *Manager) descriptor(ref string) (safety.Descriptor, error) {
	impl, ok := m.registry.Get(ref)
	if !ok {
		return safety.Descriptor{}, proxyerr.ErrInvalidImplementation.Withf(
			"unknown implementation %q",
			ref,
		)
	}
	return safety.DescriptorOf(ref, impl), nil
}

func verifyCheckpoint(checkpoint *models.MigrationCheckpoint, data []byte) error {
	expected := migration.CheckpointChecksum(
		checkpoint.MigrationID,
		checkpoint.Batch,
		checkpoint.ItemsProcessed,
		data,
	)
	if !bytes.Equal(expected, checkpoint.Checksum) {
		return proxyerr.ErrCheckpointCorrupt.Withf(
			"migration %d batch %d",
			checkpoint.MigrationID,
			checkpoint.Batch,
		)
	}
	return nil
}
