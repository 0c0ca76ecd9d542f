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

package migration

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// CheckpointChecksum binds checkpoint data to its position in a migration
func CheckpointChecksum(
	migrationID uint64,
	batch uint32,
	itemsProcessed uint64,
	data []byte,
) []byte {
	buf := make([]byte, 20, 20+len(data))
	binary.BigEndian.PutUint64(buf[0:8], migrationID)
	binary.BigEndian.PutUint32(buf[8:12], batch)
	binary.BigEndian.PutUint64(buf[12:20], itemsProcessed)
	buf = append(buf, data...)
	sum := blake2b.Sum256(buf)
	return sum[:]
}

// chainChecksum folds a step checksum into the running checksum of a record
func chainChecksum(running []byte, step []byte) []byte {
	buf := make([]byte, 0, len(running)+len(step))
	buf = append(buf, running...)
	buf = append(buf, step...)
	sum := blake2b.Sum256(buf)
	return sum[:]
}
