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

// Package migration transforms persisted implementation state from one schema
// to another. A migration runs in one of three strategies: direct (all items
// in one step), incremental (one batch per call, checkpointed) or lazy (each
// item on first access).
package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/juju/clock"

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/implementation"
	"github.com/blinklabs-io/proxyguard/proxyerr"
)

const DefaultBatchSize = 100

// Params describes a migration to initialize
type Params struct {
	SnapshotID         *uint64
	Strategy           models.MigrationStrategy
	PrevImplementation string
	NewImplementation  string
	ProposalID         uint64
	TotalItems         uint64
	BatchSize          uint64
}

// Step identifies the implementations a migration step moves between
type Step struct {
	Migrator    implementation.Migrator
	State       implementation.StateStore
	FromVersion uint32
	ToVersion   uint32
}

type Engine struct {
	logger *slog.Logger
	clock  clock.Clock
}

func NewEngine(logger *slog.Logger, clk clock.Clock) *Engine {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Engine{
		logger: logger,
		clock:  clk,
	}
}

// InitializeMigration creates a migration record in the Initialized state
func (e *Engine) InitializeMigration(
	txn *database.Txn,
	params Params,
) (*models.MigrationRecord, error) {
	if !params.Strategy.Valid() {
		return nil, proxyerr.ErrInvalidStrategy.Withf(
			"unknown strategy %q",
			params.Strategy,
		)
	}
	if params.TotalItems == 0 &&
		params.Strategy != models.MigrationStrategyDirect {
		return nil, proxyerr.ErrInvalidStrategy.Withf(
			"%s migration needs at least one item",
			params.Strategy,
		)
	}
	db := txn.DB()
	active, err := e.ActiveForProposal(txn, params.ProposalID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, proxyerr.ErrDuplicateMigration.Withf(
			"migration %d for proposal %d",
			active.ID,
			params.ProposalID,
		).WithStatus(string(active.Status))
	}
	record := &models.MigrationRecord{
		StartedAt:          e.clock.Now(),
		SnapshotID:         params.SnapshotID,
		Strategy:           params.Strategy,
		Status:             models.MigrationStatusInitialized,
		PrevImplementation: params.PrevImplementation,
		NewImplementation:  params.NewImplementation,
		ProposalID:         params.ProposalID,
		TotalItems:         params.TotalItems,
		BatchSize:          params.BatchSize,
		NextBatch:          1,
	}
	switch params.Strategy {
	case models.MigrationStrategyDirect:
		record.TotalItems = 1
		record.BatchSize = 1
	case models.MigrationStrategyIncremental:
		if record.BatchSize == 0 {
			record.BatchSize = DefaultBatchSize
		}
	case models.MigrationStrategyLazy:
		record.BatchSize = 1
	}
	if err := db.CreateMigrationRecord(record, txn); err != nil {
		return nil, proxyerr.Storagef(err, "create migration record")
	}
	if params.Strategy == models.MigrationStrategyLazy {
		if err := db.AddLazyMarkers(record.ID, record.TotalItems, txn); err != nil {
			return nil, proxyerr.Storagef(err, "write lazy markers")
		}
	}
	e.logger.Info(
		"initialized migration",
		"component", "migration",
		"migration_id", record.ID,
		"proposal_id", record.ProposalID,
		"strategy", string(record.Strategy),
		"total_items", record.TotalItems,
	)
	return record, nil
}

// Start moves an Initialized migration to InProgress
func (e *Engine) Start(txn *database.Txn, id uint64) (*models.MigrationRecord, error) {
	record, err := e.Get(txn, id)
	if err != nil {
		return nil, err
	}
	if record.Status != models.MigrationStatusInitialized {
		return nil, proxyerr.ErrMigrationNotRunning.Withf(
			"migration %d cannot be started",
			id,
		).WithStatus(string(record.Status))
	}
	record.Status = models.MigrationStatusInProgress
	if err := e.save(txn, record); err != nil {
		return nil, err
	}
	return record, nil
}

// CreateCheckpoint appends a checkpoint for the next batch of an in-progress
// migration and advances the record
func (e *Engine) CreateCheckpoint(
	txn *database.Txn,
	id uint64,
	batch uint32,
	itemsProcessed uint64,
	data []byte,
) (*models.MigrationCheckpoint, error) {
	record, err := e.Get(txn, id)
	if err != nil {
		return nil, err
	}
	if record.Status != models.MigrationStatusInProgress {
		return nil, proxyerr.ErrMigrationNotRunning.Withf(
			"migration %d",
			id,
		).WithStatus(string(record.Status))
	}
	db := txn.DB()
	latest, err := db.GetLatestMigrationCheckpoint(id, txn)
	if err != nil {
		return nil, proxyerr.Storagef(err, "get latest checkpoint")
	}
	expected := uint32(1)
	var prevItems uint64
	if latest != nil {
		expected = latest.Batch + 1
		prevItems = latest.ItemsProcessed
	}
	if batch != expected {
		return nil, proxyerr.ErrOutOfOrderBatch.Withf(
			"got batch %d, expected %d",
			batch,
			expected,
		)
	}
	if itemsProcessed < prevItems || itemsProcessed > record.TotalItems {
		return nil, proxyerr.ErrOutOfOrderBatch.Withf(
			"items processed %d outside [%d, %d]",
			itemsProcessed,
			prevItems,
			record.TotalItems,
		)
	}
	checkpoint := &models.MigrationCheckpoint{
		RecordedAt:     e.clock.Now(),
		Checksum:       CheckpointChecksum(id, batch, itemsProcessed, data),
		MigrationID:    id,
		ItemsProcessed: itemsProcessed,
		Batch:          batch,
	}
	if err := db.AddMigrationCheckpoint(checkpoint, data, txn); err != nil {
		return nil, proxyerr.Storagef(err, "add checkpoint")
	}
	record.Checksum = chainChecksum(record.Checksum, checkpoint.Checksum)
	record.ProcessedItems = itemsProcessed
	record.NextBatch = batch + 1
	if err := e.save(txn, record); err != nil {
		return nil, err
	}
	return checkpoint, nil
}

// RunDirect transforms all items in one step. items is the number of records
// the migrator has to rewrite; the record itself always counts one item
func (e *Engine) RunDirect(
	ctx context.Context,
	txn *database.Txn,
	id uint64,
	step Step,
	items uint64,
) (*models.MigrationRecord, error) {
	record, err := e.running(txn, id, models.MigrationStrategyDirect)
	if err != nil {
		return nil, err
	}
	result, err := e.migrate(ctx, record, step, 1, 0, items)
	if err != nil {
		return nil, err
	}
	record.Checksum = chainChecksum(record.Checksum, CheckpointChecksum(id, 1, 1, result))
	record.ProcessedItems = 1
	record.NextBatch = 2
	if err := e.complete(txn, record); err != nil {
		return nil, err
	}
	return record, nil
}

// RunBatch processes the next batch of an incremental migration, checkpoints
// it, and completes the migration after the last batch
func (e *Engine) RunBatch(
	ctx context.Context,
	txn *database.Txn,
	id uint64,
	step Step,
) (*models.MigrationRecord, error) {
	record, err := e.running(txn, id, models.MigrationStrategyIncremental)
	if err != nil {
		return nil, err
	}
	batch := record.NextBatch
	start, end := BatchRange(batch, record.BatchSize, record.TotalItems)
	if start >= record.TotalItems {
		if err := e.complete(txn, record); err != nil {
			return nil, err
		}
		return record, nil
	}
	result, err := e.migrate(ctx, record, step, batch, start, end)
	if err != nil {
		return nil, err
	}
	if _, err := e.CreateCheckpoint(txn, id, batch, end, result); err != nil {
		return nil, err
	}
	// CreateCheckpoint saved a newer copy of the record
	record, err = e.Get(txn, id)
	if err != nil {
		return nil, err
	}
	e.logger.Debug(
		"migration batch complete",
		"component", "migration",
		"migration_id", id,
		"batch", batch,
		"processed", record.ProcessedItems,
		"total", record.TotalItems,
	)
	if record.ProcessedItems == record.TotalItems {
		if err := e.complete(txn, record); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// TouchItem transforms a pending item of a lazy migration. It reports whether
// the item was transformed; items that are not pending are left alone
func (e *Engine) TouchItem(
	ctx context.Context,
	txn *database.Txn,
	id uint64,
	item uint64,
	step Step,
) (bool, error) {
	record, err := e.Get(txn, id)
	if err != nil {
		return false, err
	}
	if record.Strategy != models.MigrationStrategyLazy {
		return false, proxyerr.ErrInvalidStrategy.Withf(
			"migration %d is %s",
			id,
			record.Strategy,
		)
	}
	if record.Status != models.MigrationStatusInProgress {
		return false, nil
	}
	db := txn.DB()
	pending, err := db.LazyMarkerPending(id, item, txn)
	if err != nil {
		return false, proxyerr.Storagef(err, "check lazy marker")
	}
	if !pending {
		return false, nil
	}
	if _, err := e.migrate(ctx, record, step, 0, item, item+1); err != nil {
		return false, err
	}
	if err := db.RemoveLazyMarker(id, item, txn); err != nil {
		return false, proxyerr.Storagef(err, "remove lazy marker")
	}
	record.ProcessedItems++
	if record.ProcessedItems == record.TotalItems {
		if err := e.complete(txn, record); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := e.save(txn, record); err != nil {
		return false, err
	}
	return true, nil
}

// ValidateMigrationComplete checks that every item was processed
func (e *Engine) ValidateMigrationComplete(txn *database.Txn, id uint64) error {
	record, err := e.Get(txn, id)
	if err != nil {
		return err
	}
	if record.ProcessedItems != record.TotalItems {
		return proxyerr.ErrIncompleteMigration.Withf(
			"migration %d processed %d of %d items",
			id,
			record.ProcessedItems,
			record.TotalItems,
		).WithStatus(string(record.Status))
	}
	if record.Strategy == models.MigrationStrategyLazy {
		pending, err := txn.DB().CountLazyMarkers(id, txn)
		if err != nil {
			return proxyerr.Storagef(err, "count lazy markers")
		}
		if pending > 0 {
			return proxyerr.ErrIncompleteMigration.Withf(
				"migration %d has %d pending items",
				id,
				pending,
			)
		}
	}
	return nil
}

// MarkFailed records the failure of a non-terminal migration
func (e *Engine) MarkFailed(
	txn *database.Txn,
	id uint64,
	reason string,
) (*models.MigrationRecord, error) {
	record, err := e.Get(txn, id)
	if err != nil {
		return nil, err
	}
	if record.Status.Terminal() {
		return nil, proxyerr.ErrMigrationTerminal.Withf(
			"migration %d",
			id,
		).WithStatus(string(record.Status))
	}
	record.Status = models.MigrationStatusFailed
	record.FailureReason = reason
	if err := e.save(txn, record); err != nil {
		return nil, err
	}
	e.logger.Warn(
		"migration failed",
		"component", "migration",
		"migration_id", id,
		"reason", reason,
	)
	return record, nil
}

// Resume re-enters InProgress at the batch after a checkpoint
func (e *Engine) Resume(
	txn *database.Txn,
	record *models.MigrationRecord,
	checkpoint *models.MigrationCheckpoint,
) error {
	record.Status = models.MigrationStatusInProgress
	record.ProcessedItems = checkpoint.ItemsProcessed
	record.NextBatch = checkpoint.Batch + 1
	record.FailureReason = ""
	return e.save(txn, record)
}

// MarkRolledBack terminates a migration whose data was restored from its
// snapshot and discards its pending lazy markers
func (e *Engine) MarkRolledBack(
	txn *database.Txn,
	record *models.MigrationRecord,
) error {
	if record.Status.Terminal() {
		return proxyerr.ErrMigrationTerminal.Withf(
			"migration %d",
			record.ID,
		).WithStatus(string(record.Status))
	}
	if _, err := txn.DB().ClearLazyMarkers(record.ID, txn); err != nil {
		return proxyerr.Storagef(err, "clear lazy markers")
	}
	now := e.clock.Now()
	record.Status = models.MigrationStatusRolledBack
	record.CompletedAt = &now
	return e.save(txn, record)
}

// Get returns a migration record
func (e *Engine) Get(txn *database.Txn, id uint64) (*models.MigrationRecord, error) {
	record, err := txn.DB().GetMigrationRecord(id, txn)
	if err != nil {
		if errors.Is(err, models.ErrMigrationRecordNotFound) {
			return nil, proxyerr.ErrMigrationNotFound.Withf("migration %d", id)
		}
		return nil, proxyerr.Storagef(err, "get migration %d", id)
	}
	return record, nil
}

// ActiveForProposal returns the Initialized or InProgress migration of a
// proposal, or nil
func (e *Engine) ActiveForProposal(
	txn *database.Txn,
	proposalID uint64,
) (*models.MigrationRecord, error) {
	record, err := txn.DB().GetMigrationRecordByProposal(proposalID, txn)
	if err != nil {
		return nil, proxyerr.Storagef(err, "get migration for proposal %d", proposalID)
	}
	if record == nil {
		return nil, nil
	}
	switch record.Status {
	case models.MigrationStatusInitialized, models.MigrationStatusInProgress:
		return record, nil
	}
	return nil, nil
}

// InProgress returns every migration currently in progress
func (e *Engine) InProgress(txn *database.Txn) ([]models.MigrationRecord, error) {
	records, err := txn.DB().GetMigrationRecordsByStatus(
		models.MigrationStatusInProgress,
		txn,
	)
	if err != nil {
		return nil, proxyerr.Storagef(err, "list migrations in progress")
	}
	return records, nil
}

// LatestForImplementation returns the newest migration into an
// implementation, or nil
func (e *Engine) LatestForImplementation(
	txn *database.Txn,
	ref string,
) (*models.MigrationRecord, error) {
	record, err := txn.DB().GetLatestMigrationRecordForImplementation(ref, txn)
	if err != nil {
		return nil, proxyerr.Storagef(err, "get migration into %s", ref)
	}
	return record, nil
}

// BatchRange returns the item range [start, end) of a 1-based batch
func BatchRange(batch uint32, batchSize uint64, total uint64) (uint64, uint64) {
	if batch == 0 {
		return 0, 0
	}
	start := uint64(batch-1) * batchSize
	end := min(start+batchSize, total)
	return min(start, total), end
}

func (e *Engine) running(
	txn *database.Txn,
	id uint64,
	strategy models.MigrationStrategy,
) (*models.MigrationRecord, error) {
	record, err := e.Get(txn, id)
	if err != nil {
		return nil, err
	}
	if record.Strategy != strategy {
		return nil, proxyerr.ErrInvalidStrategy.Withf(
			"migration %d is %s, not %s",
			id,
			record.Strategy,
			strategy,
		)
	}
	if record.Status != models.MigrationStatusInProgress {
		return nil, proxyerr.ErrMigrationNotRunning.Withf(
			"migration %d",
			id,
		).WithStatus(string(record.Status))
	}
	return record, nil
}

// migrate invokes the migrator hook for an item range and returns its result
// payload. Without a hook there is nothing to transform
func (e *Engine) migrate(
	ctx context.Context,
	record *models.MigrationRecord,
	step Step,
	batch uint32,
	start uint64,
	end uint64,
) ([]byte, error) {
	mctx := &implementation.MigrationContext{
		State:       step.State,
		Logger:      e.logger.With("migration_id", record.ID),
		Strategy:    string(record.Strategy),
		MigrationID: record.ID,
		Start:       start,
		End:         end,
		FromVersion: step.FromVersion,
		ToVersion:   step.ToVersion,
		Batch:       batch,
	}
	if step.Migrator != nil {
		if err := step.Migrator.Migrate(ctx, mctx); err != nil {
			return nil, proxyerr.ErrMigrationFailed.Withf(
				"migration %d items [%d, %d)",
				record.ID,
				start,
				end,
			).Wrap(err)
		}
	}
	if mctx.Result == nil {
		mctx.Result = []byte(fmt.Sprintf("%d:%d", start, end))
	}
	return mctx.Result, nil
}

func (e *Engine) complete(txn *database.Txn, record *models.MigrationRecord) error {
	now := e.clock.Now()
	record.Status = models.MigrationStatusCompleted
	record.CompletedAt = &now
	if err := e.save(txn, record); err != nil {
		return err
	}
	e.logger.Info(
		"migration completed",
		"component", "migration",
		"migration_id", record.ID,
		"processed", record.ProcessedItems,
	)
	return nil
}

func (e *Engine) save(txn *database.Txn, record *models.MigrationRecord) error {
	if err := txn.DB().UpdateMigrationRecord(record, txn); err != nil {
		return proxyerr.Storagef(err, "update migration %d", record.ID)
	}
	return nil
}
