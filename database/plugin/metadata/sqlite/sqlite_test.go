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

package sqlite_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/database/plugin/metadata/sqlite"
)

func setupTestStore(t *testing.T) *sqlite.MetadataStoreSqlite {
	t.Helper()
	store, err := sqlite.New("", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close() //nolint:errcheck
	})
	return store
}

func TestGovernanceConfigRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	cfg, err := store.GetGovernanceConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, cfg, "uninitialized store should have no config")

	now := time.Now().UTC().Truncate(time.Second)
	err = store.SetGovernanceConfig(&models.GovernanceConfig{
		InitializedAt: now,
		Delay:         24 * time.Hour,
		Threshold:     2,
	}, nil)
	require.NoError(t, err)

	// Upsert replaces the existing row
	err = store.SetGovernanceConfig(&models.GovernanceConfig{
		InitializedAt:        now,
		ActiveImplementation: "payments-v1",
		Delay:                24 * time.Hour,
		Threshold:            2,
		Version:              1,
	}, nil)
	require.NoError(t, err)

	cfg, err = store.GetGovernanceConfig(nil)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "payments-v1", cfg.ActiveImplementation)
	assert.Equal(t, uint64(1), cfg.Version)
	assert.Equal(t, uint32(2), cfg.Threshold)
	assert.True(t, cfg.HasImplementation())
}

func TestAdmins(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.AddAdmins([]string{"carol", "alice", "bob"}, nil))

	admins, err := store.GetAdmins(nil)
	require.NoError(t, err)
	require.Len(t, admins, 3)
	assert.Equal(t, "carol", admins[0].Identity)
	assert.Equal(t, "bob", admins[2].Identity)

	ok, err := store.IsAdmin("alice", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.IsAdmin("mallory", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// Identities are unique
	assert.Error(t, store.AddAdmins([]string{"alice"}, nil))
}

func TestProposalApprovalsAreUnique(t *testing.T) {
	store := setupTestStore(t)

	proposal := &models.Proposal{
		ProposedAt: time.Now(),
		Candidate:  "payments-v2",
		Proposer:   "alice",
		Status:     models.ProposalStatusProposed,
	}
	require.NoError(t, store.CreateProposal(proposal, nil))
	assert.Equal(t, uint64(1), proposal.ID)

	require.NoError(t, store.AddProposalApproval(&models.ProposalApproval{
		ProposalID: proposal.ID,
		Admin:      "alice",
	}, nil))
	assert.Error(t, store.AddProposalApproval(&models.ProposalApproval{
		ProposalID: proposal.ID,
		Admin:      "alice",
	}, nil))

	approvals, err := store.GetProposalApprovals(proposal.ID, nil)
	require.NoError(t, err)
	assert.Len(t, approvals, 1)

	proposal.Status = models.ProposalStatusApproved
	require.NoError(t, store.UpdateProposal(proposal, nil))
	approved, err := store.GetProposals(models.ProposalStatusApproved, nil)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "payments-v2", approved[0].Candidate)

	missing, err := store.GetProposal(42, nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestImplementationHistory(t *testing.T) {
	store := setupTestStore(t)

	latest, err := store.GetLatestImplementationRecord(nil)
	require.NoError(t, err)
	assert.Nil(t, latest)

	v0 := uint64(0)
	require.NoError(t, store.AddImplementationRecord(&models.ImplementationRecord{
		Implementation: "payments-v1",
		Kind:           models.ImplementationKindGenesis,
		Version:        0,
	}, nil))
	require.NoError(t, store.AddImplementationRecord(&models.ImplementationRecord{
		Implementation: "payments-v2",
		Kind:           models.ImplementationKindUpgrade,
		Version:        1,
		Predecessor:    &v0,
	}, nil))
	// Versions are unique
	assert.Error(t, store.AddImplementationRecord(&models.ImplementationRecord{
		Implementation: "payments-v3",
		Kind:           models.ImplementationKindUpgrade,
		Version:        1,
	}, nil))

	latest, err = store.GetLatestImplementationRecord(nil)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "payments-v2", latest.Implementation)
	require.NotNil(t, latest.Predecessor)
	assert.Equal(t, uint64(0), *latest.Predecessor)

	records, err := store.GetImplementationRecords(nil)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestMigrationCheckpoints(t *testing.T) {
	store := setupTestStore(t)

	record := &models.MigrationRecord{
		StartedAt:         time.Now(),
		Strategy:          models.MigrationStrategyIncremental,
		Status:            models.MigrationStatusInProgress,
		NewImplementation: "payments-v2",
		ProposalID:        1,
		TotalItems:        100,
		BatchSize:         10,
		NextBatch:         1,
	}
	require.NoError(t, store.CreateMigrationRecord(record, nil))

	for batch := uint32(1); batch <= 3; batch++ {
		require.NoError(t, store.AddMigrationCheckpoint(&models.MigrationCheckpoint{
			MigrationID:    record.ID,
			Batch:          batch,
			ItemsProcessed: uint64(batch) * 10,
			Checksum:       []byte{byte(batch)},
		}, nil))
	}
	assert.Error(t, store.AddMigrationCheckpoint(&models.MigrationCheckpoint{
		MigrationID: record.ID,
		Batch:       2,
		Checksum:    []byte{0xff},
	}, nil), "duplicate batch checkpoint should be rejected")

	latest, err := store.GetLatestMigrationCheckpoint(record.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, uint32(3), latest.Batch)
	assert.Equal(t, uint64(30), latest.ItemsProcessed)

	cp, err := store.GetMigrationCheckpoint(record.ID, 9, nil)
	require.NoError(t, err)
	assert.Nil(t, cp)

	byProposal, err := store.GetMigrationRecordByProposal(1, nil)
	require.NoError(t, err)
	require.NotNil(t, byProposal)
	assert.Equal(t, record.ID, byProposal.ID)

	forImpl, err := store.GetLatestMigrationRecordForImplementation("payments-v2", nil)
	require.NoError(t, err)
	require.NotNil(t, forImpl)

	inProgress, err := store.GetMigrationRecords(models.MigrationStatusInProgress, nil)
	require.NoError(t, err)
	assert.Len(t, inProgress, 1)
}

func TestMetricsRecords(t *testing.T) {
	store := setupTestStore(t)

	record := &models.MetricsRecord{
		StartedAt:  time.Now(),
		Kind:       models.MetricsKindExecute,
		ProposalID: 7,
	}
	require.NoError(t, store.CreateMetricsRecord(record, nil))

	ok, err := store.HasSuccessfulMetricsRecord(7, models.MetricsKindExecute, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	record.Finalized = true
	record.Success = true
	record.GasUsed = 1200
	require.NoError(t, store.UpdateMetricsRecord(record, nil))

	ok, err = store.HasSuccessfulMetricsRecord(7, models.MetricsKindExecute, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.HasSuccessfulMetricsRecord(7, models.MetricsKindRollback, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	finalized, err := store.GetFinalizedMetricsRecords(10, nil)
	require.NoError(t, err)
	require.Len(t, finalized, 1)
	assert.Equal(t, uint64(1200), finalized[0].GasUsed)
}

func TestTransactionRollback(t *testing.T) {
	store := setupTestStore(t)

	txn := store.Transaction()
	require.NoError(t, store.AddAdmins([]string{"alice"}, txn))
	require.NoError(t, txn.Rollback())

	admins, err := store.GetAdmins(nil)
	require.NoError(t, err)
	assert.Empty(t, admins)

	txn = store.Transaction()
	require.NoError(t, store.AddAdmins([]string{"bob"}, txn))
	require.NoError(t, store.SetCommitTimestamp(txn, 12345))
	require.NoError(t, txn.Commit())

	ts, err := store.GetCommitTimestamp()
	require.NoError(t, err)
	assert.Equal(t, int64(12345), ts)
}

func TestAuditEntries(t *testing.T) {
	store := setupTestStore(t)

	for _, op := range []string{"propose", "approve", "execute"} {
		require.NoError(t, store.AddAuditEntry(&models.AuditEntry{
			RecordedAt: time.Now(),
			Operation:  op,
			Identity:   "mallory",
			Code:       "NotAdmin",
		}, nil))
	}
	entries, err := store.GetAuditEntries(2, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "execute", entries[0].Operation)
}
