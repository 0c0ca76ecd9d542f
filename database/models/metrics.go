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

type MetricsKind string

const (
	MetricsKindExecute  MetricsKind = "execute"
	MetricsKindRollback MetricsKind = "rollback"
)

// MetricsRecord is the telemetry for one execute or rollback attempt
type MetricsRecord struct {
	StartedAt     time.Time
	EndedAt       *time.Time
	Kind          MetricsKind `gorm:"size:16;index:idx_metrics_proposal_kind,priority:2;not null"`
	ErrorCode     string      `gorm:"size:64"`
	ID            uint64      `gorm:"primarykey"`
	ProposalID    uint64      `gorm:"index:idx_metrics_proposal_kind,priority:1"`
	GasUsed       uint64
	StorageOps    uint64
	ContractCalls uint64
	Finalized     bool `gorm:"index"`
	Success       bool
}

func (MetricsRecord) TableName() string {
	return "metrics_record"
}

// Duration returns the elapsed time of a finalized record
func (m *MetricsRecord) Duration() time.Duration {
	if m.EndedAt == nil {
		return 0
	}
	return m.EndedAt.Sub(m.StartedAt)
}
