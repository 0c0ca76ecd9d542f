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
	"errors"

	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/database/types"
)

func (d *Database) CreateMigrationRecord(
	record *models.MigrationRecord,
	txn *Txn,
) error {
	if txn == nil {
		return d.metadata.CreateMigrationRecord(record, nil)
	}
	return d.metadata.CreateMigrationRecord(record, txn.Metadata())
}

// GetMigrationRecord returns a migration record by ID
func (d *Database) GetMigrationRecord(
	id uint64,
	txn *Txn,
) (*models.MigrationRecord, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	ret, err := d.metadata.GetMigrationRecord(id, txn.Metadata())
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, models.ErrMigrationRecordNotFound
	}
	return ret, nil
}

func (d *Database) UpdateMigrationRecord(
	record *models.MigrationRecord,
	txn *Txn,
) error {
	if txn == nil {
		return d.metadata.UpdateMigrationRecord(record, nil)
	}
	return d.metadata.UpdateMigrationRecord(record, txn.Metadata())
}

// GetMigrationRecordsByStatus returns the migrations in the given status
func (d *Database) GetMigrationRecordsByStatus(
	status models.MigrationStatus,
	txn *Txn,
) ([]models.MigrationRecord, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	return d.metadata.GetMigrationRecords(status, txn.Metadata())
}

// GetMigrationRecordByProposal returns the latest migration for a proposal,
// or nil if the proposal never started one
func (d *Database) GetMigrationRecordByProposal(
	proposalID uint64,
	txn *Txn,
) (*models.MigrationRecord, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	return d.metadata.GetMigrationRecordByProposal(proposalID, txn.Metadata())
}

// GetLatestMigrationRecordForImplementation returns the latest migration
// into the given implementation, or nil
func (d *Database) GetLatestMigrationRecordForImplementation(
	implementation string,
	txn *Txn,
) (*models.MigrationRecord, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	return d.metadata.GetLatestMigrationRecordForImplementation(
		implementation,
		txn.Metadata(),
	)
}

// AddMigrationCheckpoint stores checkpoint metadata in the metadata store and
// its data payload in the blob store
func (d *Database) AddMigrationCheckpoint(
	checkpoint *models.MigrationCheckpoint,
	data []byte,
	txn *Txn,
) error {
	if txn == nil {
		txn = d.Transaction(true)
		return txn.Do(func(txn *Txn) error {
			return d.AddMigrationCheckpoint(checkpoint, data, txn)
		})
	}
	if err := d.metadata.AddMigrationCheckpoint(checkpoint, txn.Metadata()); err != nil {
		return err
	}
	return d.blob.Set(
		txn.Blob(),
		types.CheckpointBlobKey(checkpoint.MigrationID, checkpoint.Batch),
		data,
	)
}

// GetMigrationCheckpoint returns a checkpoint and its data payload
func (d *Database) GetMigrationCheckpoint(
	migrationID uint64,
	batch uint32,
	txn *Txn,
) (*models.MigrationCheckpoint, []byte, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	ret, err := d.metadata.GetMigrationCheckpoint(
		migrationID,
		batch,
		txn.Metadata(),
	)
	if err != nil {
		return nil, nil, err
	}
	if ret == nil {
		return nil, nil, models.ErrMigrationCheckpointNotFound
	}
	data, err := d.blob.Get(
		txn.Blob(),
		types.CheckpointBlobKey(migrationID, batch),
	)
	if err != nil {
		if !errors.Is(err, types.ErrBlobKeyNotFound) {
			return nil, nil, err
		}
		// Checkpoints without a payload hash over empty data
		data = nil
	}
	return ret, data, nil
}

// GetLatestMigrationCheckpoint returns the checkpoint with the highest batch
// number, or nil if none exist
func (d *Database) GetLatestMigrationCheckpoint(
	migrationID uint64,
	txn *Txn,
) (*models.MigrationCheckpoint, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	return d.metadata.GetLatestMigrationCheckpoint(migrationID, txn.Metadata())
}

func (d *Database) GetMigrationCheckpoints(
	migrationID uint64,
	txn *Txn,
) ([]models.MigrationCheckpoint, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	return d.metadata.GetMigrationCheckpoints(migrationID, txn.Metadata())
}
