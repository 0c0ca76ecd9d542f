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

type MigrationStrategy string

const (
	MigrationStrategyDirect      MigrationStrategy = "direct"
	MigrationStrategyIncremental MigrationStrategy = "incremental"
	MigrationStrategyLazy        MigrationStrategy = "lazy"
)

// Valid reports whether the strategy is one we know how to run
func (s MigrationStrategy) Valid() bool {
	switch s {
	case MigrationStrategyDirect,
		MigrationStrategyIncremental,
		MigrationStrategyLazy:
		return true
	}
	return false
}

type MigrationStatus string

const (
	MigrationStatusInitialized MigrationStatus = "Initialized"
	MigrationStatusInProgress  MigrationStatus = "InProgress"
	MigrationStatusCompleted   MigrationStatus = "Completed"
	MigrationStatusFailed      MigrationStatus = "Failed"
	MigrationStatusRolledBack  MigrationStatus = "RolledBack"
)

// Terminal reports whether the migration can no longer change state
func (s MigrationStatus) Terminal() bool {
	return s == MigrationStatusCompleted || s == MigrationStatusRolledBack
}

// MigrationRecord tracks one migration run. NextBatch is the 1-based cursor
// of the next incremental batch
type MigrationRecord struct {
	StartedAt          time.Time
	CompletedAt        *time.Time
	SnapshotID         *uint64
	Strategy           MigrationStrategy `gorm:"size:16;not null"`
	Status             MigrationStatus   `gorm:"size:16;index;not null"`
	PrevImplementation string            `gorm:"size:128"`
	NewImplementation  string            `gorm:"size:128;not null"`
	FailureReason      string
	Checksum           []byte `gorm:"size:32"`
	ID                 uint64 `gorm:"primarykey"`
	ProposalID         uint64 `gorm:"index;not null"`
	TotalItems         uint64
	ProcessedItems     uint64
	BatchSize          uint64
	NextBatch          uint32
}

func (MigrationRecord) TableName() string {
	return "migration_record"
}

// MigrationCheckpoint marks a completed batch. The payload lives in the blob
// store under the checkpoint key
type MigrationCheckpoint struct {
	RecordedAt     time.Time
	Checksum       []byte `gorm:"size:32;not null"`
	ID             uint64 `gorm:"primarykey"`
	MigrationID    uint64 `gorm:"uniqueIndex:idx_checkpoint_migration_batch,priority:1;not null"`
	ItemsProcessed uint64
	Batch          uint32 `gorm:"uniqueIndex:idx_checkpoint_migration_batch,priority:2;not null"`
}

func (MigrationCheckpoint) TableName() string {
	return "migration_checkpoint"
}
