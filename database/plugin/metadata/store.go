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

package metadata

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/database/plugin/metadata/sqlite"
	"github.com/blinklabs-io/proxyguard/database/types"
)

type MetadataStore interface {
	// Database
	Close() error
	DB() *gorm.DB
	GetCommitTimestamp() (int64, error)
	SetCommitTimestamp(types.Txn, int64) error
	Transaction() types.Txn

	// Governance
	GetGovernanceConfig(types.Txn) (*models.GovernanceConfig, error)
	SetGovernanceConfig(*models.GovernanceConfig, types.Txn) error
	GetAdmins(types.Txn) ([]models.Admin, error)
	IsAdmin(string, types.Txn) (bool, error)
	AddAdmins([]string, types.Txn) error
	AddAuditEntry(*models.AuditEntry, types.Txn) error
	GetAuditEntries(int, types.Txn) ([]models.AuditEntry, error)

	// Proposals
	CreateProposal(*models.Proposal, types.Txn) error
	GetProposal(uint64, types.Txn) (*models.Proposal, error)
	GetProposals(models.ProposalStatus, types.Txn) ([]models.Proposal, error)
	UpdateProposal(*models.Proposal, types.Txn) error
	AddProposalApproval(*models.ProposalApproval, types.Txn) error
	GetProposalApprovals(uint64, types.Txn) ([]models.ProposalApproval, error)

	// Version history
	AddImplementationRecord(*models.ImplementationRecord, types.Txn) error
	GetImplementationRecord(uint64, types.Txn) (*models.ImplementationRecord, error)
	GetLatestImplementationRecord(types.Txn) (*models.ImplementationRecord, error)
	GetImplementationRecords(types.Txn) ([]models.ImplementationRecord, error)
	CreateStateSnapshot(*models.StateSnapshot, types.Txn) error
	GetStateSnapshot(uint64, types.Txn) (*models.StateSnapshot, error)

	// Migrations
	CreateMigrationRecord(*models.MigrationRecord, types.Txn) error
	GetMigrationRecord(uint64, types.Txn) (*models.MigrationRecord, error)
	UpdateMigrationRecord(*models.MigrationRecord, types.Txn) error
	GetMigrationRecords(models.MigrationStatus, types.Txn) ([]models.MigrationRecord, error)
	GetMigrationRecordByProposal(uint64, types.Txn) (*models.MigrationRecord, error)
	GetLatestMigrationRecordForImplementation(string, types.Txn) (*models.MigrationRecord, error)
	AddMigrationCheckpoint(*models.MigrationCheckpoint, types.Txn) error
	GetMigrationCheckpoint(uint64, uint32, types.Txn) (*models.MigrationCheckpoint, error)
	GetLatestMigrationCheckpoint(uint64, types.Txn) (*models.MigrationCheckpoint, error)
	GetMigrationCheckpoints(uint64, types.Txn) ([]models.MigrationCheckpoint, error)

	// Telemetry
	CreateMetricsRecord(*models.MetricsRecord, types.Txn) error
	UpdateMetricsRecord(*models.MetricsRecord, types.Txn) error
	GetMetricsRecord(uint64, models.MetricsKind, types.Txn) (*models.MetricsRecord, error)
	HasSuccessfulMetricsRecord(uint64, models.MetricsKind, types.Txn) (bool, error)
	GetFinalizedMetricsRecords(int, types.Txn) ([]models.MetricsRecord, error)
}

// New returns a sqlite-backed metadata store. An empty dataDir selects an
// in-memory database
func New(
	dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (MetadataStore, error) {
	store, err := sqlite.New(dataDir, logger, promRegistry)
	if err != nil {
		if store != nil {
			store.Close() //nolint:errcheck
		}
		return nil, err
	}
	return store, nil
}
