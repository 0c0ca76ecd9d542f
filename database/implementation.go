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

// AddImplementationRecord appends an entry to the version history
func (d *Database) AddImplementationRecord(
	record *models.ImplementationRecord,
	txn *Txn,
) error {
	if txn == nil {
		return d.metadata.AddImplementationRecord(record, nil)
	}
	return d.metadata.AddImplementationRecord(record, txn.Metadata())
}

// GetImplementationRecord returns the history entry for a version
func (d *Database) GetImplementationRecord(
	version uint64,
	txn *Txn,
) (*models.ImplementationRecord, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	ret, err := d.metadata.GetImplementationRecord(version, txn.Metadata())
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, models.ErrImplementationRecordNotFound
	}
	return ret, nil
}

// GetLatestImplementationRecord returns the newest history entry
func (d *Database) GetLatestImplementationRecord(
	txn *Txn,
) (*models.ImplementationRecord, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	ret, err := d.metadata.GetLatestImplementationRecord(txn.Metadata())
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, models.ErrImplementationRecordNotFound
	}
	return ret, nil
}

// GetImplementationHistory returns the version history, oldest first
func (d *Database) GetImplementationHistory(
	txn *Txn,
) ([]models.ImplementationRecord, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	return d.metadata.GetImplementationRecords(txn.Metadata())
}
