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
	"github.com/blinklabs-io/proxyguard/database/types"
)

// CreateStateSnapshot stores snapshot metadata and its encoded content. The
// snapshot ID is assigned by the metadata store
func (d *Database) CreateStateSnapshot(
	snapshot *models.StateSnapshot,
	content []byte,
	txn *Txn,
) error {
	if err := d.metadata.CreateStateSnapshot(snapshot, txn.Metadata()); err != nil {
		return err
	}
	return d.blob.Set(txn.Blob(), types.SnapshotBlobKey(snapshot.ID), content)
}

// GetStateSnapshot returns snapshot metadata and its encoded content
func (d *Database) GetStateSnapshot(
	id uint64,
	txn *Txn,
) (*models.StateSnapshot, []byte, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	ret, err := d.metadata.GetStateSnapshot(id, txn.Metadata())
	if err != nil {
		return nil, nil, err
	}
	if ret == nil {
		return nil, nil, models.ErrStateSnapshotNotFound
	}
	content, err := d.blob.Get(txn.Blob(), types.SnapshotBlobKey(id))
	if err != nil {
		return nil, nil, err
	}
	return ret, content, nil
}
