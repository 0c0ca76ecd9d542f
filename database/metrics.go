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

func (d *Database) CreateMetricsRecord(
	record *models.MetricsRecord,
	txn *Txn,
) error {
	if txn == nil {
		return d.metadata.CreateMetricsRecord(record, nil)
	}
	return d.metadata.CreateMetricsRecord(record, txn.Metadata())
}

func (d *Database) UpdateMetricsRecord(
	record *models.MetricsRecord,
	txn *Txn,
) error {
	if txn == nil {
		return d.metadata.UpdateMetricsRecord(record, nil)
	}
	return d.metadata.UpdateMetricsRecord(record, txn.Metadata())
}

// GetMetricsRecord returns the latest telemetry record for a proposal and
// kind, or nil
func (d *Database) GetMetricsRecord(
	proposalID uint64,
	kind models.MetricsKind,
	txn *Txn,
) (*models.MetricsRecord, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	return d.metadata.GetMetricsRecord(proposalID, kind, txn.Metadata())
}

func (d *Database) HasSuccessfulMetricsRecord(
	proposalID uint64,
	kind models.MetricsKind,
	txn *Txn,
) (bool, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	return d.metadata.HasSuccessfulMetricsRecord(proposalID, kind, txn.Metadata())
}

// GetFinalizedMetricsRecords returns up to limit finalized records, newest
// first. A limit of 0 returns all of them
func (d *Database) GetFinalizedMetricsRecords(
	limit int,
	txn *Txn,
) ([]models.MetricsRecord, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	return d.metadata.GetFinalizedMetricsRecords(limit, txn.Metadata())
}
