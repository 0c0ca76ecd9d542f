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

package types

import (
	"encoding/binary"
	"slices"
)

const (
	StateBlobKeyPrefix      = "state/"
	SnapshotBlobKeyPrefix   = "snapshot/"
	CheckpointBlobKeyPrefix = "checkpoint/"
	LazyMarkerBlobKeyPrefix = "lazy/"
)

func BlobKeyUint64ToBytes(input uint64) []byte {
	ret := make([]byte, 8)
	binary.BigEndian.PutUint64(ret, input)
	return ret
}

// StateBlobKey namespaces an implementation state key
func StateBlobKey(key string) []byte {
	return slices.Concat([]byte(StateBlobKeyPrefix), []byte(key))
}

func SnapshotBlobKey(snapshotID uint64) []byte {
	return slices.Concat(
		[]byte(SnapshotBlobKeyPrefix),
		BlobKeyUint64ToBytes(snapshotID),
	)
}

func CheckpointBlobKey(migrationID uint64, batch uint32) []byte {
	batchBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(batchBytes, batch)
	return slices.Concat(
		[]byte(CheckpointBlobKeyPrefix),
		BlobKeyUint64ToBytes(migrationID),
		batchBytes,
	)
}

// LazyMarkerBlobKeyPrefixFor returns the prefix shared by all pending item
// markers of a migration
func LazyMarkerBlobKeyPrefixFor(migrationID uint64) []byte {
	return slices.Concat(
		[]byte(LazyMarkerBlobKeyPrefix),
		BlobKeyUint64ToBytes(migrationID),
	)
}

func LazyMarkerBlobKey(migrationID uint64, item uint64) []byte {
	return slices.Concat(
		LazyMarkerBlobKeyPrefixFor(migrationID),
		BlobKeyUint64ToBytes(item),
	)
}
