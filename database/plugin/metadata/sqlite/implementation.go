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

// AddImplementationRecord appends an entry to the version history
func (d *MetadataStoreSqlite) AddImplementationRecord(
	record *models.ImplementationRecord,
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

// GetImplementationRecord returns the history entry for a version, or nil if
// there is none
func (d *MetadataStoreSqlite) GetImplementationRecord(
	version uint64,
	txn types.Txn,
) (*models.ImplementationRecord, error) {
	var record models.ImplementationRecord
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("version = ?", version).First(&record); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &record, nil
}

// GetLatestImplementationRecord returns the highest version in the history,
// or nil if the history is empty
func (d *MetadataStoreSqlite) GetLatestImplementationRecord(
	txn types.Txn,
) (*models.ImplementationRecord, error) {
	var record models.ImplementationRecord
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Order("version DESC").First(&record); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &record, nil
}

// GetImplementationRecords returns the full version history in ascending order
func (d *MetadataStoreSqlite) GetImplementationRecords(
	txn types.Txn,
) ([]models.ImplementationRecord, error) {
	var records []models.ImplementationRecord
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Order("version ASC").Find(&records); result.Error != nil {
		return nil, result.Error
	}
	return records, nil
}

// CreateStateSnapshot stores the metadata of a captured snapshot and assigns its ID
func (d *MetadataStoreSqlite) CreateStateSnapshot(
	snapshot *models.StateSnapshot,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Create(snapshot); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetStateSnapshot returns snapshot metadata by ID, or nil if it doesn't exist
func (d *MetadataStoreSqlite) GetStateSnapshot(
	id uint64,
	txn types.Txn,
) (*models.StateSnapshot, error) {
	var snapshot models.StateSnapshot
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("id = ?", id).First(&snapshot); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &snapshot, nil
}
