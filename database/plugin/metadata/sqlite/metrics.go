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

// CreateMetricsRecord inserts a new telemetry record and assigns its ID
func (d *MetadataStoreSqlite) CreateMetricsRecord(
	record *models.MetricsRecord,
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

// UpdateMetricsRecord writes all fields of an existing telemetry record
func (d *MetadataStoreSqlite) UpdateMetricsRecord(
	record *models.MetricsRecord,
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

// GetMetricsRecord returns the most recent telemetry record for a proposal and
// operation kind, or nil
func (d *MetadataStoreSqlite) GetMetricsRecord(
	proposalID uint64,
	kind models.MetricsKind,
	txn types.Txn,
) (*models.MetricsRecord, error) {
	var record models.MetricsRecord
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("proposal_id = ? AND kind = ?", proposalID, kind).Order("id DESC").First(&record); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &record, nil
}

// HasSuccessfulMetricsRecord reports whether a finalized successful record
// exists for a proposal and operation kind
func (d *MetadataStoreSqlite) HasSuccessfulMetricsRecord(
	proposalID uint64,
	kind models.MetricsKind,
	txn types.Txn,
) (bool, error) {
	var count int64
	db, err := d.resolveDB(txn)
	if err != nil {
		return false, err
	}
	result := db.Model(&models.MetricsRecord{}).
		Where("proposal_id = ? AND kind = ? AND finalized = ? AND success = ?", proposalID, kind, true, true).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// GetFinalizedMetricsRecords returns up to limit finalized records, newest
// first. A limit of 0 returns all of them
func (d *MetadataStoreSqlite) GetFinalizedMetricsRecords(
	limit int,
	txn types.Txn,
) ([]models.MetricsRecord, error) {
	var records []models.MetricsRecord
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	query := db.Where("finalized = ?", true).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if result := query.Find(&records); result.Error != nil {
		return nil, result.Error
	}
	return records, nil
}
