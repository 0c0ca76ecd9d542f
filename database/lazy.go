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

	"github.com/blinklabs-io/proxyguard/database/types"
)

var lazyMarkerPending = []byte{0x01}

// AddLazyMarkers writes one pending marker per item of a lazy migration
func (d *Database) AddLazyMarkers(
	migrationID uint64,
	items uint64,
	txn *Txn,
) error {
	for item := range items {
		if err := d.blob.Set(
			txn.Blob(),
			types.LazyMarkerBlobKey(migrationID, item),
			lazyMarkerPending,
		); err != nil {
			return err
		}
	}
	return nil
}

// LazyMarkerPending reports whether an item still awaits transformation
func (d *Database) LazyMarkerPending(
	migrationID uint64,
	item uint64,
	txn *Txn,
) (bool, error) {
	_, err := d.blob.Get(txn.Blob(), types.LazyMarkerBlobKey(migrationID, item))
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *Database) RemoveLazyMarker(
	migrationID uint64,
	item uint64,
	txn *Txn,
) error {
	return d.blob.Delete(txn.Blob(), types.LazyMarkerBlobKey(migrationID, item))
}

// CountLazyMarkers returns the number of items still pending
func (d *Database) CountLazyMarkers(migrationID uint64, txn *Txn) (int, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	keys, err := d.blob.Keys(
		txn.Blob(),
		types.LazyMarkerBlobKeyPrefixFor(migrationID),
	)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// ClearLazyMarkers removes every pending marker of a migration
func (d *Database) ClearLazyMarkers(migrationID uint64, txn *Txn) (int, error) {
	return d.blob.DeletePrefix(
		txn.Blob(),
		types.LazyMarkerBlobKeyPrefixFor(migrationID),
	)
}
