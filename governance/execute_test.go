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

package governance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/governance"
	"github.com/blinklabs-io/proxyguard/implementation"
	"github.com/blinklabs-io/proxyguard/implementation/payments"
	"github.com/blinklabs-io/proxyguard/monitoring"
	"github.com/blinklabs-io/proxyguard/proxyerr"
	"github.com/blinklabs-io/proxyguard/recovery"
	"github.com/blinklabs-io/proxyguard/safety"
)

// flakyV2 fails the given migration batch once
type flakyV2 struct {
	*payments.V2
	failBatch uint32
	failed    bool
}

func (f *flakyV2) Migrate(ctx context.Context, mctx *implementation.MigrationContext) error {
	if f.failBatch != 0 && mctx.Batch == f.failBatch && !f.failed {
		f.failed = true
		return errors.New("simulated interruption")
	}
	return f.V2.Migrate(ctx, mctx)
}

func paymentsRegistry(t *testing.T, failBatch uint32) *implementation.Registry {
	t.Helper()
	reg := implementation.NewRegistry()
	require.NoError(t, reg.Register(payments.RefV1, payments.NewV1()))
	require.NoError(t, reg.Register(payments.RefV2, &flakyV2{
		V2:        payments.NewV2(payments.DefaultFeeBasisPoints),
		failBatch: failBatch,
	}))
	return reg
}

func newPaymentsEnv(t *testing.T, failBatch uint32, transfers int) *testEnv {
	t.Helper()
	env := newTestEnv(t, withRegistry(paymentsRegistry(t, failBatch)))
	env.init(t, 1, 0, payments.RefV1)
	for i := range transfers {
		args, err := payments.EncodeTransferRequest("alice", "bob", uint64(1000*(i+1)))
		require.NoError(t, err)
		_, err = env.coord.Forward(
			context.Background(),
			implementation.Call{Function: payments.FunctionTransfer, Args: args},
		)
		require.NoError(t, err)
	}
	return env
}

func (e *testEnv) transfer(t *testing.T, id uint64, items ...uint64) *payments.Transfer {
	t.Helper()
	args, err := payments.EncodeTransferID(id)
	require.NoError(t, err)
	ret, err := e.coord.Forward(
		context.Background(),
		implementation.Call{Function: payments.FunctionGet, Args: args, Items: items},
	)
	require.NoError(t, err)
	return ret.(*payments.Transfer)
}

func fee(id uint64) uint64 {
	return (id + 1) * 1000 * payments.DefaultFeeBasisPoints / 10000
}

func TestCriticalRiskRejectsProposal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.init(t, 1, 0, "ledger-v1")

	id := env.approved(t, "ledger-v3", governance.ProposalMetadata{}, 1)
	_, err := env.coord.ExecuteUpgrade(ctx, id)
	assertCode(t, err, proxyerr.CodeCriticalRisk)
	assert.True(t, proxyerr.IsFatal(err))

	view, err := env.coord.GetProposal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusRejected, view.Status)
	assert.Equal(t, string(proxyerr.CodeCriticalRisk), view.Reason)

	impl, err := env.coord.GetCurrentImplementation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ledger-v1", impl)

	analytics, err := env.coord.GetUpgradeAnalytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), analytics.Total)
	assert.Equal(t, uint64(1), analytics.Failed)

	entries, err := env.coord.ListAudit(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "execute", entries[0].Operation)
	assert.Equal(t, string(proxyerr.CodeCriticalRisk), entries[0].Code)
}

func TestPolicyFailureKeepsApproved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.init(t, 1, 0, "ledger-v1")

	id := env.approved(t, "ledger-v9", governance.ProposalMetadata{}, 1)
	for range 2 {
		_, err := env.coord.ExecuteUpgrade(ctx, id)
		assertCode(t, err, proxyerr.CodeIncompatibleSchema)
		assert.False(t, proxyerr.IsFatal(err))
	}
	view, err := env.coord.GetProposal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusApproved, view.Status)

	// Nothing but the failure records changed
	history, err := env.coord.GetHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	version, err := env.coord.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), version)
	analytics, err := env.coord.GetUpgradeAnalytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), analytics.Failed)
	assert.Zero(t, analytics.SuccessRate)
}

func TestHealthGateHaltsUpgrades(t *testing.T) {
	env := newTestEnv(t, func(cfg *governance.Config) {
		cfg.HealthGate = true
	})
	ctx := context.Background()
	env.init(t, 1, 0, "ledger-v1")

	bad := env.approved(t, "ledger-v9", governance.ProposalMetadata{}, 1)
	for range monitoring.CriticalFailureStreak {
		_, err := env.coord.ExecuteUpgrade(ctx, bad)
		assertCode(t, err, proxyerr.CodeIncompatibleSchema)
	}
	health, err := env.coord.GetHealthStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, monitoring.HealthCritical, health.Status)
	assert.Equal(t, monitoring.RecommendHalt, health.Recommendation)

	good := env.approved(t, "ledger-v2", governance.ProposalMetadata{}, 1)
	for range 5 {
		_, err = env.coord.ExecuteUpgrade(ctx, good)
		assertCode(t, err, proxyerr.CodeUpgradeHalted)
	}
	view, err := env.coord.GetProposal(ctx, good)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusApproved, view.Status)

	// Refusals are audited but do not count as attempts
	entries, err := env.coord.ListAudit(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(proxyerr.CodeUpgradeHalted), entries[0].Code)
	trends, err := env.coord.GetTrends(ctx)
	require.NoError(t, err)
	assert.Equal(t, monitoring.CriticalFailureStreak, trends.Samples)
	assert.Equal(t, uint32(0), trends.Forecast)
	health, err = env.coord.GetHealthStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, monitoring.CriticalFailureStreak, health.FailureStreak)

	// The halt clears once the failures age out
	env.clock.Advance(monitoring.HealthHorizon + time.Second)
	health, err = env.coord.GetHealthStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, monitoring.RecommendContinue, health.Recommendation)
	result, err := env.coord.ExecuteUpgrade(ctx, good)
	require.NoError(t, err)
	assert.Equal(t, "ledger-v2", result.Record.Implementation)
}

func TestMigrationRequiresStrategy(t *testing.T) {
	env := newPaymentsEnv(t, 0, 4)
	ctx := context.Background()

	impact, err := env.coord.AnalyzeUpgradeSafety(ctx, payments.RefV2)
	require.NoError(t, err)
	assert.True(t, impact.RequiresMigration)
	assert.Equal(t, safety.RiskHigh, impact.Risk)
	assert.Len(t, impact.AffectedKeys, 4)

	id := env.approved(t, payments.RefV2, governance.ProposalMetadata{}, 1)
	_, err = env.coord.ExecuteUpgrade(ctx, id)
	assertCode(t, err, proxyerr.CodePolicyViolation)
	// The failed attempt left the state alone
	assert.Zero(t, env.transfer(t, 0).Fee)
}

func TestDirectMigrationAndRollback(t *testing.T) {
	env := newPaymentsEnv(t, 0, 3)
	ctx := context.Background()

	id := env.approved(
		t,
		payments.RefV2,
		governance.ProposalMetadata{Flags: models.ProposalFlagMigrate},
		1,
	)
	result, err := env.coord.ExecuteUpgrade(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, result.Migration)
	assert.Equal(t, models.MigrationStrategyDirect, result.Migration.Strategy)
	assert.Equal(t, models.MigrationStatusCompleted, result.Migration.Status)
	assert.NotZero(t, result.Metrics.GasUsed)
	for id := range uint64(3) {
		assert.Equal(t, fee(id), env.transfer(t, id).Fee)
	}
	require.NoError(t, env.coord.ValidateMigrationComplete(ctx, result.Migration.ID))

	record, err := env.coord.Rollback(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, payments.RefV1, record.Implementation)
	assert.Equal(t, models.ImplementationKindRollback, record.Kind)
	assert.Equal(t, uint64(2), record.Version)
	require.NotNil(t, record.RestoredFrom)
	assert.Equal(t, uint64(0), *record.RestoredFrom)

	impl, err := env.coord.GetCurrentImplementation(ctx)
	require.NoError(t, err)
	assert.Equal(t, payments.RefV1, impl)
	version, err := env.coord.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)

	// Genesis has no predecessor
	_, err = env.coord.Rollback(ctx, "alice")
	assertCode(t, err, proxyerr.CodeNoRollbackAvailable)

	analytics, err := env.coord.GetUpgradeAnalytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), analytics.Total)
	assert.Equal(t, uint64(2), analytics.Succeeded)
	assert.Equal(t, uint64(1), analytics.RolledBack)
	assert.NotNil(t, analytics.LastUpgrade)
}

func TestRollbackRestoresUnfinishedMigration(t *testing.T) {
	env := newPaymentsEnv(t, 0, 5)
	ctx := context.Background()

	id := env.approved(
		t,
		payments.RefV2,
		governance.ProposalMetadata{
			Strategy:  models.MigrationStrategyIncremental,
			BatchSize: 2,
		},
		1,
	)
	result, err := env.coord.ExecuteUpgrade(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), result.Migration.ProcessedItems)
	assert.Equal(t, fee(1), env.transfer(t, 1).Fee)

	_, err = env.coord.Rollback(ctx, "bob")
	require.NoError(t, err)
	for id := range uint64(5) {
		assert.Zero(t, env.transfer(t, id).Fee)
	}
	view, err := env.coord.GetMigration(ctx, result.Migration.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MigrationStatusRolledBack, view.Record.Status)
	assert.Len(t, view.Checkpoints, 1)

	_, err = env.coord.ContinueMigration(ctx, result.Migration.ID)
	assertCode(t, err, proxyerr.CodeMigrationNotRunning)
}

// Scenario D
func TestIncrementalMigrationResumesFromCheckpoint(t *testing.T) {
	env := newPaymentsEnv(t, 10, 100)
	ctx := context.Background()

	id := env.approved(
		t,
		payments.RefV2,
		governance.ProposalMetadata{
			Strategy:  models.MigrationStrategyIncremental,
			BatchSize: 10,
		},
		1,
	)
	result, err := env.coord.ExecuteUpgrade(ctx, id)
	require.NoError(t, err)
	migrationID := result.Migration.ID
	assert.Equal(t, uint64(100), result.Migration.TotalItems)

	for range 8 {
		_, err := env.coord.ContinueMigration(ctx, migrationID)
		require.NoError(t, err)
	}
	view, err := env.coord.GetMigration(ctx, migrationID)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), view.Record.ProcessedItems)
	require.Len(t, view.Checkpoints, 9)

	// Another upgrade has to wait for the migration
	other := env.approved(t, payments.RefV1, governance.ProposalMetadata{}, 1)
	_, err = env.coord.ExecuteUpgrade(ctx, other)
	assertCode(t, err, proxyerr.CodeMigrationInProgress)

	_, err = env.coord.ContinueMigration(ctx, migrationID)
	assertCode(t, err, proxyerr.CodeMigrationFailed)
	view, err = env.coord.GetMigration(ctx, migrationID)
	require.NoError(t, err)
	assert.Equal(t, models.MigrationStatusFailed, view.Record.Status)
	assert.NotEmpty(t, view.Record.FailureReason)

	_, err = env.coord.ResumeFromCheckpoint(ctx, migrationID, 9, "mallory")
	assertCode(t, err, proxyerr.CodeNotAdmin)
	_, err = env.coord.ResumeFromCheckpoint(ctx, migrationID, 8, "alice")
	assertCode(t, err, proxyerr.CodeStaleCheckpoint)
	resumed, err := env.coord.ResumeFromCheckpoint(ctx, migrationID, 9, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.MigrationStatusInProgress, resumed.Status)
	assert.Equal(t, uint32(10), resumed.NextBatch)

	record, err := env.coord.ContinueMigration(ctx, migrationID)
	require.NoError(t, err)
	assert.Equal(t, models.MigrationStatusCompleted, record.Status)
	assert.Equal(t, uint64(100), record.ProcessedItems)
	require.NoError(t, env.coord.ValidateMigrationComplete(ctx, migrationID))
	// Every record was migrated exactly once
	for _, id := range []uint64{0, 89, 90, 99} {
		assert.Equal(t, fee(id), env.transfer(t, id).Fee)
	}
}

func TestRecoverMigrationResumesFromCheckpoint(t *testing.T) {
	env := newPaymentsEnv(t, 1, 4)
	ctx := context.Background()

	id := env.approved(
		t,
		payments.RefV2,
		governance.ProposalMetadata{
			Strategy:  models.MigrationStrategyIncremental,
			BatchSize: 2,
		},
		1,
	)
	// The first batch fails, which aborts the whole execution
	_, err := env.coord.ExecuteUpgrade(ctx, id)
	assertCode(t, err, proxyerr.CodeMigrationFailed)
	impl, err := env.coord.GetCurrentImplementation(ctx)
	require.NoError(t, err)
	assert.Equal(t, payments.RefV1, impl)

	// The retry succeeds and leaves the second batch
	result, err := env.coord.ExecuteUpgrade(ctx, id)
	require.NoError(t, err)
	migrationID := result.Migration.ID
	require.NoError(t, env.coord.MarkMigrationFailed(ctx, migrationID, "operator abort", "alice"))
	assertCode(
		t,
		env.coord.ValidateMigrationComplete(ctx, migrationID),
		proxyerr.CodeIncompleteMigration,
	)

	recovered, err := env.coord.RecoverMigration(ctx, migrationID, "alice")
	require.NoError(t, err)
	assert.Equal(t, recovery.OutcomeResumed, recovered.Outcome)
	assert.Equal(t, uint32(1), recovered.Checkpoint.Batch)

	assert.Equal(t, models.MigrationStatusInProgress, recovered.Migration.Status)
	record, err := env.coord.ContinueMigration(ctx, migrationID)
	require.NoError(t, err)
	assert.Equal(t, models.MigrationStatusCompleted, record.Status)

	_, err = env.coord.RecoverMigration(ctx, migrationID, "alice")
	assertCode(t, err, proxyerr.CodeMigrationTerminal)
}

func TestLazyMigrationRecoveredFromSnapshot(t *testing.T) {
	env := newPaymentsEnv(t, 0, 4)
	ctx := context.Background()

	id := env.approved(
		t,
		payments.RefV2,
		governance.ProposalMetadata{Strategy: models.MigrationStrategyLazy},
		1,
	)
	result, err := env.coord.ExecuteUpgrade(ctx, id)
	require.NoError(t, err)
	migrationID := result.Migration.ID
	assert.Equal(t, models.MigrationStatusInProgress, result.Migration.Status)
	assert.Zero(t, result.Migration.ProcessedItems)

	// Touching an item migrates it before the call runs
	assert.Equal(t, fee(2), env.transfer(t, 2, 2).Fee)
	// Reads name their item without listing it
	assert.Equal(t, fee(3), env.transfer(t, 3).Fee)
	// Markers are consumed once
	assert.Equal(t, fee(2), env.transfer(t, 2, 2).Fee)
	view, err := env.coord.GetMigration(ctx, migrationID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), view.Record.ProcessedItems)
	assert.Equal(t, 2, view.PendingItems)

	err = env.coord.MarkMigrationFailed(ctx, migrationID, "operator abort", "mallory")
	assertCode(t, err, proxyerr.CodeNotAdmin)
	entries, err := env.coord.ListAudit(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mark-failed", entries[0].Operation)
	assert.Equal(t, "mallory", entries[0].Identity)
	view, err = env.coord.GetMigration(ctx, migrationID)
	require.NoError(t, err)
	assert.Equal(t, models.MigrationStatusInProgress, view.Record.Status)

	require.NoError(t, env.coord.MarkMigrationFailed(ctx, migrationID, "operator abort", "alice"))
	_, err = env.coord.RecoverMigration(ctx, migrationID, "mallory")
	assertCode(t, err, proxyerr.CodeNotAdmin)
	recovered, err := env.coord.RecoverMigration(ctx, migrationID, "alice")
	require.NoError(t, err)
	assert.Equal(t, recovery.OutcomeRolledBack, recovered.Outcome)
	require.NotNil(t, recovered.Snapshot)

	impl, err := env.coord.GetCurrentImplementation(ctx)
	require.NoError(t, err)
	assert.Equal(t, payments.RefV1, impl)
	version, err := env.coord.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)
	assert.Zero(t, env.transfer(t, 2).Fee)

	view, err = env.coord.GetMigration(ctx, migrationID)
	require.NoError(t, err)
	assert.Equal(t, models.MigrationStatusRolledBack, view.Record.Status)
	assert.Zero(t, view.PendingItems)

	history, err := env.coord.GetHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.ImplementationKindRollback, history[2].Kind)
}

func TestForwardPassesThroughErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.coord.Forward(ctx, implementation.Call{Function: "version"})
	assertCode(t, err, proxyerr.CodeNotInitialized)

	require.NoError(t, env.coord.Init(ctx, governance.InitParams{
		Admins:    admins,
		Threshold: 1,
	}))
	_, err = env.coord.Forward(ctx, implementation.Call{Function: "version"})
	assertCode(t, err, proxyerr.CodeImplementationNotSet)
	version, err := env.coord.GetVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)

	// The first activation has nothing to compare against
	id := env.approved(t, "ledger-v1", governance.ProposalMetadata{}, 1)
	result, err := env.coord.ExecuteUpgrade(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, result.Impact)
	assert.Equal(t, uint64(1), result.Record.Version)
	assert.Nil(t, result.Record.Predecessor)
	version, err = env.coord.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)

	_, err = env.coord.Forward(ctx, implementation.Call{Function: "fail"})
	assert.ErrorIs(t, err, errBoom)
	_, err = env.coord.Forward(ctx, implementation.Call{Function: "set", Caller: "bob", Args: []byte("x")})
	require.NoError(t, err)
}
