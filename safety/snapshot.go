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

package safety

import (
	"bytes"
	"encoding/binary"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/blinklabs-io/gouroboros/cbor"
	"golang.org/x/crypto/blake2b"

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/proxyerr"
)

// Snapshot is a verified pre-upgrade state snapshot
type Snapshot struct {
	models.StateSnapshot
	Entries []database.StateEntry
	// Fields are the state prefixes that were captured, empty for all state
	Fields []string
}

type snapshotContent struct {
	cbor.StructAsArray
	Fields  []string
	Entries []database.StateEntry
}

// StateChecksum is the blake2b-256 hash of a canonical encoding of the
// captured prefixes and entries: both sorted, each string prefixed by its
// length
func StateChecksum(fields []string, entries []database.StateEntry) []byte {
	sortedFields := slices.Clone(fields)
	slices.Sort(sortedFields)
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b database.StateEntry) int {
		return strings.Compare(a.Key, b.Key)
	})
	// blake2b.New256 only fails for oversized keys
	hasher, _ := blake2b.New256(nil)
	lenBuf := make([]byte, 4)
	writeBytes := func(data []byte) {
		binary.BigEndian.PutUint32(lenBuf, uint32(len(data))) //nolint:gosec
		hasher.Write(lenBuf)
		hasher.Write(data)
	}
	binary.BigEndian.PutUint32(lenBuf, uint32(len(sortedFields))) //nolint:gosec
	hasher.Write(lenBuf)
	for _, field := range sortedFields {
		writeBytes([]byte(field))
	}
	for _, entry := range sorted {
		writeBytes([]byte(entry.Key))
		writeBytes(entry.Value)
	}
	return hasher.Sum(nil)
}

// CapturePreUpgradeState reads the state declared by current and stores it
// as an immutable snapshot
func (v *Validator) CapturePreUpgradeState(
	txn *database.Txn,
	proposalID uint64,
	current Descriptor,
	now time.Time,
) (*Snapshot, error) {
	db := txn.DB()
	entries, err := db.GetStateEntries(current.StateFields, txn)
	if err != nil {
		return nil, proxyerr.ErrStateReadError.Withf(
			"capture state of %s",
			current.Ref,
		).Wrap(err)
	}
	content, err := cbor.Encode(&snapshotContent{
		Fields:  current.StateFields,
		Entries: entries,
	})
	if err != nil {
		return nil, proxyerr.ErrStateReadError.Withf("encode snapshot").Wrap(err)
	}
	var size uint64
	for _, entry := range entries {
		size += uint64(len(entry.Key) + len(entry.Value))
	}
	ret := &Snapshot{
		StateSnapshot: models.StateSnapshot{
			CapturedAt:     now,
			Implementation: current.Ref,
			Checksum:       StateChecksum(current.StateFields, entries),
			ProposalID:     proposalID,
			FieldCount:     uint64(len(entries)),
			Size:           size,
			SchemaVersion:  current.SchemaVersion,
		},
		Entries: entries,
		Fields:  current.StateFields,
	}
	if err := db.CreateStateSnapshot(&ret.StateSnapshot, content, txn); err != nil {
		return nil, proxyerr.Storagef(err, "store snapshot")
	}
	v.logger.Debug(
		"captured pre-upgrade state",
		"component", "safety",
		"snapshot_id", ret.ID,
		"implementation", current.Ref,
		"fields", ret.FieldCount,
	)
	return ret, nil
}

// LoadSnapshot reads a snapshot and verifies its checksum
func (v *Validator) LoadSnapshot(txn *database.Txn, id uint64) (*Snapshot, error) {
	meta, content, err := txn.DB().GetStateSnapshot(id, txn)
	if err != nil {
		if errors.Is(err, models.ErrStateSnapshotNotFound) {
			return nil, proxyerr.ErrSnapshotNotFound.Withf("snapshot %d", id)
		}
		return nil, proxyerr.ErrSnapshotCorrupt.Withf("snapshot %d content unreadable", id).Wrap(err)
	}
	var decoded snapshotContent
	if _, err := cbor.Decode(content, &decoded); err != nil {
		return nil, proxyerr.ErrSnapshotCorrupt.Withf("snapshot %d content undecodable", id).Wrap(err)
	}
	if uint64(len(decoded.Entries)) != meta.FieldCount ||
		!bytes.Equal(StateChecksum(decoded.Fields, decoded.Entries), meta.Checksum) {
		return nil, proxyerr.ErrSnapshotCorrupt.Withf("snapshot %d", id)
	}
	return &Snapshot{
		StateSnapshot: *meta,
		Entries:       decoded.Entries,
		Fields:        decoded.Fields,
	}, nil
}

// RestoreSnapshot replaces the captured state namespace with the snapshot
// content
func (v *Validator) RestoreSnapshot(txn *database.Txn, snapshot *Snapshot) error {
	if err := txn.DB().ReplaceState(snapshot.Fields, snapshot.Entries, txn); err != nil {
		return proxyerr.Storagef(err, "restore snapshot %d", snapshot.ID)
	}
	v.logger.Info(
		"restored pre-upgrade state",
		"component", "safety",
		"snapshot_id", snapshot.ID,
		"implementation", snapshot.Implementation,
	)
	return nil
}
