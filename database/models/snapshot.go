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

package models

import "time"

// StateSnapshot describes the implementation state captured before an
// upgrade. The field contents live in the blob store
type StateSnapshot struct {
	CapturedAt     time.Time
	Implementation string `gorm:"size:128;not null"`
	Checksum       []byte `gorm:"size:32;not null"`
	ID             uint64 `gorm:"primarykey"`
	ProposalID     uint64 `gorm:"index"`
	FieldCount     uint64
	Size           uint64
	SchemaVersion  uint32
}

func (StateSnapshot) TableName() string {
	return "state_snapshot"
}
