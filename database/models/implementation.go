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

type ImplementationKind string

const (
	ImplementationKindGenesis  ImplementationKind = "genesis"
	ImplementationKindUpgrade  ImplementationKind = "upgrade"
	ImplementationKindRollback ImplementationKind = "rollback"
)

// ImplementationRecord is one entry in the append-only version history.
// Predecessor refers to an earlier Version, which keeps the chain acyclic
type ImplementationRecord struct {
	ActivatedAt    time.Time
	Predecessor    *uint64
	RestoredFrom   *uint64
	ProposalID     *uint64
	Implementation string             `gorm:"size:128;not null"`
	Kind           ImplementationKind `gorm:"size:16;not null"`
	ID             uint               `gorm:"primarykey"`
	Version        uint64             `gorm:"uniqueIndex;not null"`
	SchemaVersion  uint32
}

func (ImplementationRecord) TableName() string {
	return "implementation_record"
}
