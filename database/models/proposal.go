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

type ProposalStatus string

const (
	ProposalStatusProposed ProposalStatus = "Proposed"
	ProposalStatusApproved ProposalStatus = "Approved"
	ProposalStatusExecuted ProposalStatus = "Executed"
	ProposalStatusRejected ProposalStatus = "Rejected"
	ProposalStatusExpired  ProposalStatus = "Expired"
)

// Terminal reports whether no further transition is possible
func (s ProposalStatus) Terminal() bool {
	switch s {
	case ProposalStatusExecuted,
		ProposalStatusRejected,
		ProposalStatusExpired:
		return true
	}
	return false
}

// ProposalFlagMigrate is bit 0 of the proposal metadata flags and requests a
// data migration as part of execution
const ProposalFlagMigrate uint8 = 0x01

// Proposal is an upgrade request moving through the approval lifecycle:
// Proposed -> Approved -> Executed, or Rejected/Expired before execution
type Proposal struct {
	ProposedAt   time.Time
	ExecutableAt time.Time
	ExpiresAt    *time.Time
	DecidedAt    *time.Time
	Candidate    string            `gorm:"size:128;not null"`
	Proposer     string            `gorm:"size:128;not null"`
	Status       ProposalStatus    `gorm:"size:16;index;not null"`
	Strategy     MigrationStrategy `gorm:"size:16"`
	Reason       string
	ID           uint64 `gorm:"primarykey"`
	BatchSize    uint64
	TotalItems   uint64
	Flags        uint8
}

func (Proposal) TableName() string {
	return "proposal"
}

// MigrationRequested reports whether the migrate flag is set
func (p *Proposal) MigrationRequested() bool {
	return p.Flags&ProposalFlagMigrate != 0
}

// ProposalApproval records one admin's approval. The unique index makes the
// approval list a set
type ProposalApproval struct {
	ApprovedAt time.Time
	Admin      string `gorm:"uniqueIndex:idx_approval_proposal_admin,priority:2;size:128;not null"`
	ID         uint64 `gorm:"primarykey"`
	ProposalID uint64 `gorm:"uniqueIndex:idx_approval_proposal_admin,priority:1;not null"`
}

func (ProposalApproval) TableName() string {
	return "proposal_approval"
}
