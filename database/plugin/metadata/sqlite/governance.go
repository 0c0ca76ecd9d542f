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
	"gorm.io/gorm/clause"

	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/database/types"
)

// GetGovernanceConfig returns the governance configuration, or nil if the
// proxy has not been initialized
func (d *MetadataStoreSqlite) GetGovernanceConfig(
	txn types.Txn,
) (*models.GovernanceConfig, error) {
	var cfg models.GovernanceConfig
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("id = ?", models.GovernanceConfigRowId).First(&cfg); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &cfg, nil
}

// SetGovernanceConfig creates or replaces the governance configuration
func (d *MetadataStoreSqlite) SetGovernanceConfig(
	cfg *models.GovernanceConfig,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	cfg.ID = models.GovernanceConfigRowId
	onConflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"initialized_at",
			"active_implementation",
			"delay",
			"proposal_ttl",
			"version",
			"threshold",
		}),
	}
	if result := db.Clauses(onConflict).Create(cfg); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetAdmins returns the admin set in the order it was configured
func (d *MetadataStoreSqlite) GetAdmins(
	txn types.Txn,
) ([]models.Admin, error) {
	var admins []models.Admin
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Order("position ASC").Find(&admins); result.Error != nil {
		return nil, result.Error
	}
	return admins, nil
}

// IsAdmin reports whether the identity is a member of the admin set
func (d *MetadataStoreSqlite) IsAdmin(
	identity string,
	txn types.Txn,
) (bool, error) {
	var count int64
	db, err := d.resolveDB(txn)
	if err != nil {
		return false, err
	}
	if result := db.Model(&models.Admin{}).Where("identity = ?", identity).Count(&count); result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// AddAdmins appends identities to the admin set
func (d *MetadataStoreSqlite) AddAdmins(
	identities []string,
	txn types.Txn,
) error {
	if len(identities) == 0 {
		return nil
	}
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	admins := make([]models.Admin, 0, len(identities))
	for idx, identity := range identities {
		admins = append(
			admins,
			models.Admin{
				Identity: identity,
				Position: uint32(idx), //nolint:gosec
			},
		)
	}
	if result := db.Create(&admins); result.Error != nil {
		return result.Error
	}
	return nil
}

// AddAuditEntry appends an entry to the audit log
func (d *MetadataStoreSqlite) AddAuditEntry(
	entry *models.AuditEntry,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Create(entry); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetAuditEntries returns the most recent audit entries, newest first. A
// limit of 0 returns all entries
func (d *MetadataStoreSqlite) GetAuditEntries(
	limit int,
	txn types.Txn,
) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	query := db.Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if result := query.Find(&entries); result.Error != nil {
		return nil, result.Error
	}
	return entries, nil
}
