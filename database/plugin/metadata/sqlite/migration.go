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

package sqlite

import (
	"errors"

	"gorm.io/gorm"

	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/database/types"
)

// CreateMigrationRecord inserts a new migration record and assigns its ID
func (d *MetadataStoreSqlite) CreateMigrationRecord(
	record *models.MigrationRecord,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Create(record); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetMigrationRecord returns the migration record with the given ID, or nil
func (d *MetadataStoreSqlite) GetMigrationRecord(
	id uint64,
	txn types.Txn,
) (*models.MigrationRecord, error) {
	var record models.MigrationRecord
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("id = ?", id).First(&record); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &record, nil
}

// UpdateMigrationRecord writes all fields of an existing migration record
func (d *MetadataStoreSqlite) UpdateMigrationRecord(
	record *models.MigrationRecord,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Save(record); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetMigrationRecords returns migration records ordered by ID. When status is
// non-empty only records with that status are returned
func (d *MetadataStoreSqlite) GetMigrationRecords(
	status models.MigrationStatus,
	txn types.Txn,
) ([]models.MigrationRecord, error) {
	var records []models.MigrationRecord
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	query := db.Order("id ASC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if result := query.Find(&records); result.Error != nil {
		return nil, result.Error
	}
	return records, nil
}

// GetMigrationRecordByProposal returns the most recent migration started for a
// proposal, or nil
func (d *MetadataStoreSqlite) GetMigrationRecordByProposal(
	proposalID uint64,
	txn types.Txn,
) (*models.MigrationRecord, error) {
	var record models.MigrationRecord
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("proposal_id = ?", proposalID).Order("id DESC").First(&record); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &record, nil
}

// GetLatestMigrationRecordForImplementation returns the most recent migration
// that targeted the given implementation, or nil
func (d *MetadataStoreSqlite) GetLatestMigrationRecordForImplementation(
	implementation string,
	txn types.Txn,
) (*models.MigrationRecord, error) {
	var record models.MigrationRecord
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("new_implementation = ?", implementation).Order("id DESC").First(&record); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &record, nil
}

// AddMigrationCheckpoint records a checkpoint. A second checkpoint for the same
// batch violates the unique index
func (d *MetadataStoreSqlite) AddMigrationCheckpoint(
	checkpoint *models.MigrationCheckpoint,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Create(checkpoint); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetMigrationCheckpoint returns the checkpoint for a batch, or nil
func (d *MetadataStoreSqlite) GetMigrationCheckpoint(
	migrationID uint64,
	batch uint32,
	txn types.Txn,
) (*models.MigrationCheckpoint, error) {
	var checkpoint models.MigrationCheckpoint
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("migration_id = ? AND batch = ?", migrationID, batch).First(&checkpoint); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &checkpoint, nil
}

// GetLatestMigrationCheckpoint returns the checkpoint with the highest batch
// number for a migration, or nil if none were recorded
func (d *MetadataStoreSqlite) GetLatestMigrationCheckpoint(
	migrationID uint64,
	txn types.Txn,
) (*models.MigrationCheckpoint, error) {
	var checkpoint models.MigrationCheckpoint
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("migration_id = ?", migrationID).Order("batch DESC").First(&checkpoint); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &checkpoint, nil
}

// GetMigrationCheckpoints returns all checkpoints of a migration in batch order
func (d *MetadataStoreSqlite) GetMigrationCheckpoints(
	migrationID uint64,
	txn types.Txn,
) ([]models.MigrationCheckpoint, error) {
	var checkpoints []models.MigrationCheckpoint
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("migration_id = ?", migrationID).Order("batch ASC").Find(&checkpoints); result.Error != nil {
		return nil, result.Error
	}
	return checkpoints, nil
}
