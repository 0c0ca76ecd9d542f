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
	"strings"

	"github.com/blinklabs-io/gouroboros/cbor"

	"github.com/blinklabs-io/proxyguard/database/types"
)

// StateEntry is one key/value pair of implementation state
type StateEntry struct {
	cbor.StructAsArray
	Key   string
	Value []byte
}

// StateView gives an implementation access to its persistent state inside
// a single transaction. Keys are stored in the blob store under the state
// namespace
type StateView struct {
	txn *Txn
}

// State returns a view of the implementation state within txn
func (d *Database) State(txn *Txn) *StateView {
	return &StateView{txn: txn}
}

// Get returns the value for key and whether it exists
func (s *StateView) Get(key string) ([]byte, bool, error) {
	s.txn.countStorageOp()
	val, err := s.txn.db.blob.Get(s.txn.Blob(), types.StateBlobKey(key))
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

func (s *StateView) Set(key string, value []byte) error {
	s.txn.countStorageOp()
	return s.txn.db.blob.Set(s.txn.Blob(), types.StateBlobKey(key), value)
}

func (s *StateView) Delete(key string) error {
	s.txn.countStorageOp()
	return s.txn.db.blob.Delete(s.txn.Blob(), types.StateBlobKey(key))
}

// Keys returns the state keys with the given prefix in ascending order
func (s *StateView) Keys(prefix string) ([]string, error) {
	s.txn.countStorageOp()
	keys, err := s.txn.db.blob.Keys(s.txn.Blob(), types.StateBlobKey(prefix))
	if err != nil {
		return nil, err
	}
	ret := make([]string, 0, len(keys))
	for _, key := range keys {
		ret = append(
			ret,
			strings.TrimPrefix(string(key), types.StateBlobKeyPrefix),
		)
	}
	return ret, nil
}

// GetStateEntries returns all state entries whose key matches one of the
// prefixes, sorted by key. An empty prefix list selects the whole namespace
func (d *Database) GetStateEntries(
	prefixes []string,
	txn *Txn,
) ([]StateEntry, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	var ret []StateEntry
	for _, prefix := range normalizePrefixes(prefixes) {
		keys, err := d.blob.Keys(txn.Blob(), types.StateBlobKey(prefix))
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			val, err := d.blob.Get(txn.Blob(), key)
			if err != nil {
				return nil, err
			}
			ret = append(
				ret,
				StateEntry{
					Key:   strings.TrimPrefix(string(key), types.StateBlobKeyPrefix),
					Value: val,
				},
			)
		}
	}
	return ret, nil
}

// ReplaceState removes every state key matching the prefixes and writes the
// given entries in their place
func (d *Database) ReplaceState(
	prefixes []string,
	entries []StateEntry,
	txn *Txn,
) error {
	for _, prefix := range normalizePrefixes(prefixes) {
		if _, err := d.blob.DeletePrefix(txn.Blob(), types.StateBlobKey(prefix)); err != nil {
			return err
		}
	}
	for _, entry := range entries {
		if err := d.blob.Set(txn.Blob(), types.StateBlobKey(entry.Key), entry.Value); err != nil {
			return err
		}
	}
	return nil
}

// normalizePrefixes drops prefixes covered by a shorter one so that no key is
// visited twice
func normalizePrefixes(prefixes []string) []string {
	if len(prefixes) == 0 {
		return []string{""}
	}
	var ret []string
	for _, prefix := range prefixes {
		covered := false
		for _, other := range prefixes {
			if other != prefix && strings.HasPrefix(prefix, other) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		dup := false
		for _, existing := range ret {
			if existing == prefix {
				dup = true
				break
			}
		}
		if !dup {
			ret = append(ret, prefix)
		}
	}
	return ret
}
