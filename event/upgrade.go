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

package event

const (
	UpgradeProposedEventType    = EventType("upgrade.proposed")
	UpgradeApprovedEventType    = EventType("upgrade.approved")
	UpgradeRejectedEventType    = EventType("upgrade.rejected")
	UpgradeExpiredEventType     = EventType("upgrade.expired")
	UpgradeExecutedEventType    = EventType("upgrade.executed")
	UpgradeRolledBackEventType  = EventType("upgrade.rolledback")
	MigrationProgressEventType  = EventType("migration.progress")
	MigrationRecoveredEventType = EventType("migration.recovered")
	AccessDeniedEventType       = EventType("governance.denied")
)

// ProposalEvent is emitted when a proposal changes status
type ProposalEvent struct {
	Candidate  string
	Admin      string
	Status     string
	Reason     string
	ProposalID uint64
	Approvals  int
}

// UpgradeExecutedEvent is emitted after the active implementation was swapped
type UpgradeExecutedEvent struct {
	Previous    string
	Current     string
	Risk        string
	Strategy    string
	ProposalID  uint64
	Version     uint64
	MigrationID uint64
}

// UpgradeRolledBackEvent is emitted after the active implementation was
// reverted to its predecessor
type UpgradeRolledBackEvent struct {
	Previous     string
	Current      string
	Caller       string
	Version      uint64
	RestoredFrom uint64
}

// MigrationEvent reports migration progress or recovery
type MigrationEvent struct {
	Status      string
	Outcome     string
	MigrationID uint64
	ProposalID  uint64
	Processed   uint64
	Total       uint64
}

// AccessDeniedEvent is emitted when a caller was refused authorization
type AccessDeniedEvent struct {
	Operation string
	Identity  string
	Code      string
}
