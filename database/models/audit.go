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

// AuditEntry records a denied or failed governance attempt
type AuditEntry struct {
	RecordedAt time.Time
	Operation  string `gorm:"size:32;index;not null"`
	Identity   string `gorm:"size:128"`
	Code       string `gorm:"size:64;not null"`
	Class      string `gorm:"size:32"`
	Message    string
	ID         uint64 `gorm:"primarykey"`
	ProposalID uint64
}

func (AuditEntry) TableName() string {
	return "audit_entry"
}
