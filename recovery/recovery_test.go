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

package recovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/database/types"
	"github.com/blinklabs-io/proxyguard/implementation"
	"github.com/blinklabs-io/proxyguard/implementation/payments"
	"github.com/blinklabs-io/proxyguard/migration"
	"github.com/blinklabs-io/proxyguard/proxyerr"
	"github.com/blinklabs-io/proxyguard/recovery"
	"github.com/blinklabs-io/proxyguard/safety"
)

type testEnv struct {
	db         *database.Database
	registry   *implementation.Registry
	validator  *safety.Validator
	migrations *migration.Engine
	manager    *recovery.Manager
	v2         *payments.V2
}

type brokenMigrator struct{}

func (brokenMigrator) Migrate(context.Context, *implementation.MigrationContext) error {
	return errors.New("disk on fire")
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	registry := implementation.NewRegistry()
	require.NoError(t, payments.Register(registry))
	validator := safety.NewValidator(nil)
	engine := migration.NewEngine(
		nil,
		testclock.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
	)
	return &testEnv{
		db:         db,
		registry:   registry,
		validator:  validator,
		migrations: engine,
		manager:    recovery.NewManager(nil, registry, validator, engine),
		v2:         payments.NewV2(payments.DefaultFeeBasisPoints),
	}
}

func (e *testEnv) do(t *testing.T, fn func(txn *database.Txn) error) error {
	t.Helper()
	txn := e.db.Transaction(true)
	return txn.Do(fn)
}

// prepare seeds v1 transfers, snapshots them and starts a migration to v2
func (e *testEnv) prepare(
	t *testing.T,
	strategy models.MigrationStrategy,
	transfers int,
	withSnapshot bool,
) *models.MigrationRecord {
	t.Helper()
	v1 := payments.NewV1()
	var record *models.MigrationRecord
	require.NoError(t, e.do(t, func(txn *database.Txn) error {
		state := e.db.State(txn)
		for range transfers {
			args, err := payments.EncodeTransferRequest("alice", "bob", 1000)
			if err != nil {
				return err
			}
			if _, err := v1.Invoke(
				context.Background(),
				state,
				implementation.Call{Function: payments.FunctionTransfer, Args: args},
			); err != nil {
				return err
			}
		}
		params := migration.Params{
			ProposalID:         1,
			Strategy:           strategy,
			TotalItems:         uint64(transfers),
			BatchSize:          10,
			PrevImplementation: payments.RefV1,
			NewImplementation:  payments.RefV2,
		}
		if withSnapshot {
			snapshot, err := e.validator.CapturePreUpgradeState(
				txn,
				1,
				safety.DescriptorOf(payments.RefV1, v1),
				time.Now(),
			)
			if err != nil {
				return err
			}
			params.SnapshotID = &snapshot.ID
		}
		var err error
		record, err = e.migrations.InitializeMigration(txn, params)
		if err != nil {
			return err
		}
		record, err = e.migrations.Start(txn, record.ID)
		return err
	}))
	return record
}

func (e *testEnv) runBatch(t *testing.T, id uint64, migrator implementation.Migrator) error {
	t.Helper()
	return e.do(t, func(txn *database.Txn) error {
		_, err := e.migrations.RunBatch(
			context.Background(),
			txn,
			id,
			migration.Step{Migrator: migrator, State: e.db.State(txn)},
		)
		return err
	})
}

func (e *testEnv) fail(t *testing.T, id uint64) {
	t.Helper()
	require.Error(t, e.runBatch(t, id, brokenMigrator{}))
	require.NoError(t, e.do(t, func(txn *database.Txn) error {
		_, err := e.migrations.MarkFailed(txn, id, "disk on fire")
		return err
	}))
}

func (e *testEnv) fee(t *testing.T, id uint64) uint64 {
	t.Helper()
	txn := e.db.Transaction(false)
	defer txn.Release()
	args, err := payments.EncodeTransferID(id)
	require.NoError(t, err)
	ret, err := e.v2.Invoke(
		context.Background(),
		e.db.State(txn),
		implementation.Call{Function: payments.FunctionGet, Args: args},
	)
	require.NoError(t, err)
	return ret.(*payments.Transfer).Fee
}

func TestRecoverFromFailureResumesFromLatestCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	record := env.prepare(t, models.MigrationStrategyIncremental, 25, true)
	require.NoError(t, env.runBatch(t, record.ID, env.v2))
	env.fail(t, record.ID)

	var result *recovery.Result
	require.NoError(t, env.do(t, func(txn *database.Txn) error {
		var err error
		result, err = env.manager.RecoverFromFailure(txn, record.ID)
		return err
	}))
	assert.Equal(t, recovery.OutcomeResumed, result.Outcome)
	require.NotNil(t, result.Checkpoint)
	assert.Equal(t, uint32(1), result.Checkpoint.Batch)
	assert.Equal(t, models.MigrationStatusInProgress, result.Migration.Status)
	assert.Equal(t, uint64(10), result.Migration.ProcessedItems)
	assert.Equal(t, uint32(2), result.Migration.NextBatch)

	// The remaining batches pick up where batch 1 stopped
	require.NoError(t, env.runBatch(t, record.ID, env.v2))
	require.NoError(t, env.runBatch(t, record.ID, env.v2))
	assert.Equal(t, uint64(2), env.fee(t, 24))
}

func TestRecoverFromCheckpointChecks(t *testing.T) {
	env := newTestEnv(t)
	record := env.prepare(t, models.MigrationStrategyIncremental, 30, true)
	require.NoError(t, env.runBatch(t, record.ID, env.v2))
	require.NoError(t, env.runBatch(t, record.ID, env.v2))
	env.fail(t, record.ID)

	recoverFrom := func(batch uint32) error {
		return env.do(t, func(txn *database.Txn) error {
			_, err := env.manager.RecoverFromCheckpoint(txn, record.ID, batch)
			return err
		})
	}

	err := recoverFrom(1)
	require.Error(t, err)
	assert.Equal(t, proxyerr.CodeStaleCheckpoint, proxyerr.CodeOf(err))

	err = recoverFrom(7)
	require.Error(t, err)
	assert.Equal(t, proxyerr.CodeCheckpointNotFound, proxyerr.CodeOf(err))

	require.NoError(t, recoverFrom(2))
	require.NoError(t, env.runBatch(t, record.ID, env.v2))

	// Completed migrations cannot be resumed
	err = recoverFrom(3)
	require.Error(t, err)
	assert.Equal(t, proxyerr.CodeMigrationTerminal, proxyerr.CodeOf(err))
	assert.Equal(t, string(models.MigrationStatusCompleted), mustStatus(t, err))
}

func mustStatus(t *testing.T, err error) string {
	t.Helper()
	pe, ok := proxyerr.As(err)
	require.True(t, ok)
	return pe.Status
}

func TestCorruptCheckpointFallsBackToSnapshot(t *testing.T) {
	env := newTestEnv(t)
	record := env.prepare(t, models.MigrationStrategyIncremental, 25, true)
	require.NoError(t, env.runBatch(t, record.ID, env.v2))
	env.fail(t, record.ID)
	assert.Equal(t, uint64(2), env.fee(t, 0))

	require.NoError(t, env.do(t, func(txn *database.Txn) error {
		return env.db.Blob().Set(
			txn.Blob(),
			types.CheckpointBlobKey(record.ID, 1),
			[]byte("tampered"),
		)
	}))

	err := env.do(t, func(txn *database.Txn) error {
		_, err := env.manager.RecoverFromCheckpoint(txn, record.ID, 1)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, proxyerr.CodeCheckpointCorrupt, proxyerr.CodeOf(err))
	assert.True(t, proxyerr.IsFatal(err))

	var result *recovery.Result
	require.NoError(t, env.do(t, func(txn *database.Txn) error {
		var err error
		result, err = env.manager.RecoverFromFailure(txn, record.ID)
		return err
	}))
	assert.Equal(t, recovery.OutcomeRolledBack, result.Outcome)
	assert.Equal(t, models.MigrationStatusRolledBack, result.Migration.Status)
	require.NotNil(t, result.Snapshot)

	// Restored records carry the v1 layout again
	assert.Equal(t, uint64(0), env.fee(t, 0))
	assert.Equal(t, uint64(0), env.fee(t, 9))
}

func TestRecoverFromFailureWithoutCheckpointOrSnapshot(t *testing.T) {
	env := newTestEnv(t)
	record := env.prepare(t, models.MigrationStrategyLazy, 5, false)

	err := env.do(t, func(txn *database.Txn) error {
		_, err := env.manager.RecoverFromFailure(txn, record.ID)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, proxyerr.CodeNoCheckpointAvailable, proxyerr.CodeOf(err))
}

func TestRecoverLazyMigrationClearsMarkers(t *testing.T) {
	env := newTestEnv(t)
	record := env.prepare(t, models.MigrationStrategyLazy, 5, true)
	require.NoError(t, env.do(t, func(txn *database.Txn) error {
		_, err := env.migrations.TouchItem(
			context.Background(),
			txn,
			record.ID,
			3,
			migration.Step{Migrator: env.v2, State: env.db.State(txn)},
		)
		return err
	}))
	assert.Equal(t, uint64(2), env.fee(t, 3))

	var result *recovery.Result
	require.NoError(t, env.do(t, func(txn *database.Txn) error {
		var err error
		result, err = env.manager.RecoverFromFailure(txn, record.ID)
		return err
	}))
	assert.Equal(t, recovery.OutcomeRolledBack, result.Outcome)
	assert.Equal(t, uint64(0), env.fee(t, 3))

	pending, err := env.db.CountLazyMarkers(record.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, pending)

	err = env.do(t, func(txn *database.Txn) error {
		_, err := env.manager.RecoverFromFailure(txn, record.ID)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, proxyerr.CodeMigrationTerminal, proxyerr.CodeOf(err))
}

func TestPlanRollback(t *testing.T) {
	env := newTestEnv(t)
	record := env.prepare(t, models.MigrationStrategyIncremental, 25, true)
	require.NoError(t, env.runBatch(t, record.ID, env.v2))

	genesis := &models.ImplementationRecord{
		Implementation: payments.RefV1,
		Kind:           models.ImplementationKindGenesis,
		Version:        0,
		SchemaVersion:  1,
	}
	proposalID := uint64(1)
	predecessor := uint64(0)
	active := &models.ImplementationRecord{
		Implementation: payments.RefV2,
		Kind:           models.ImplementationKindUpgrade,
		Version:        1,
		Predecessor:    &predecessor,
		ProposalID:     &proposalID,
		SchemaVersion:  2,
	}
	require.NoError(t, env.do(t, func(txn *database.Txn) error {
		if err := env.db.AddImplementationRecord(genesis, txn); err != nil {
			return err
		}
		return env.db.AddImplementationRecord(active, txn)
	}))

	plan := func(record *models.ImplementationRecord, isAdmin bool) (*recovery.RollbackPlan, error) {
		var ret *recovery.RollbackPlan
		err := env.do(t, func(txn *database.Txn) error {
			var err error
			ret, err = env.manager.PlanRollback(txn, record, isAdmin)
			return err
		})
		return ret, err
	}

	_, err := plan(active, false)
	require.Error(t, err)
	assert.Equal(t, proxyerr.CodeNotAdmin, proxyerr.CodeOf(err))

	_, err = plan(genesis, true)
	require.Error(t, err)
	assert.Equal(t, proxyerr.CodeNoRollbackAvailable, proxyerr.CodeOf(err))

	ret, err := plan(active, true)
	require.NoError(t, err)
	assert.Equal(t, payments.RefV1, ret.Target.Implementation)
	require.NotNil(t, ret.Restored, "unfinished migration should be rolled back")
	assert.Equal(t, models.MigrationStatusRolledBack, ret.Restored.Migration.Status)
	assert.Equal(t, uint64(0), env.fee(t, 0))

	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	entry := ret.HistoryRecord(now)
	assert.Equal(t, uint64(2), entry.Version)
	assert.Equal(t, payments.RefV1, entry.Implementation)
	assert.Equal(t, models.ImplementationKindRollback, entry.Kind)
	assert.Nil(t, entry.Predecessor)
	require.NotNil(t, entry.RestoredFrom)
	assert.Equal(t, uint64(0), *entry.RestoredFrom)
	assert.Equal(t, now, entry.ActivatedAt)
}
