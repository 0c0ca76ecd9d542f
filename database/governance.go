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

package database

import (
	"github.com/blinklabs-io/proxyguard/database/models"
)

// GetGovernanceConfig returns the governance configuration. It returns
// models.ErrGovernanceConfigNotFound before init
func (d *Database) GetGovernanceConfig(
	txn *Txn,
) (*models.GovernanceConfig, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	ret, err := d.metadata.GetGovernanceConfig(txn.Metadata())
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, models.ErrGovernanceConfigNotFound
	}
	return ret, nil
}

// SetGovernanceConfig saves the governance configuration
func (d *Database) SetGovernanceConfig(
	cfg *models.GovernanceConfig,
	txn *Txn,
) error {
	if txn == nil {
		return d.metadata.SetGovernanceConfig(cfg, nil)
	}
	return d.metadata.SetGovernanceConfig(cfg, txn.Metadata())
}

// GetAdmins returns the admin identities in configured order
func (d *Database) GetAdmins(txn *Txn) ([]string, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	admins, err := d.metadata.GetAdmins(txn.Metadata())
	if err != nil {
		return nil, err
	}
	ret := make([]string, 0, len(admins))
	for _, admin := range admins {
		ret = append(ret, admin.Identity)
	}
	return ret, nil
}

// IsAdmin reports whether the identity belongs to the admin set
func (d *Database) IsAdmin(identity string, txn *Txn) (bool, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	return d.metadata.IsAdmin(identity, txn.Metadata())
}

// AddAdmins stores the admin set
func (d *Database) AddAdmins(identities []string, txn *Txn) error {
	if txn == nil {
		return d.metadata.AddAdmins(identities, nil)
	}
	return d.metadata.AddAdmins(identities, txn.Metadata())
}

// AddAuditEntry appends to the audit log
func (d *Database) AddAuditEntry(entry *models.AuditEntry, txn *Txn) error {
	if txn == nil {
		return d.metadata.AddAuditEntry(entry, nil)
	}
	return d.metadata.AddAuditEntry(entry, txn.Metadata())
}

// GetAuditEntries returns up to limit audit entries, newest first
func (d *Database) GetAuditEntries(
	limit int,
	txn *Txn,
) ([]models.AuditEntry, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	return d.metadata.GetAuditEntries(limit, txn.Metadata())
}
