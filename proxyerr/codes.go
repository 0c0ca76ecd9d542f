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

package proxyerr

// Code identifies a specific failure. Codes are strings so they read well in
// logs, audit entries and JSON responses.
type Code string

// Class groups codes by how callers are expected to react to them.
type Class string

const (
	// ClassValidation errors are rejected before any state is touched
	ClassValidation Class = "validation"
	// ClassAuthorization errors are rejected and recorded in the audit log
	ClassAuthorization Class = "authorization"
	// ClassStateConflict errors carry the conflicting status
	ClassStateConflict Class = "state_conflict"
	// ClassIntegrity errors are fatal for the proposal that triggered them
	ClassIntegrity Class = "integrity"
	// ClassPolicy errors leave the proposal approved so it can be retried
	ClassPolicy Class = "policy"
	ClassNotFound Class = "not_found"
	// ClassExecution errors come from a migration hook and may be retried
	ClassExecution Class = "execution"
	ClassStorage   Class = "storage"
)

const (
	// Governance lifecycle
	CodeAlreadyInitialized Code = "ALREADY_INITIALIZED"
	CodeNotInitialized     Code = "NOT_INITIALIZED"
	CodeInvalidAdmins      Code = "INVALID_ADMINS"
	CodeInvalidThreshold   Code = "INVALID_THRESHOLD"
	CodeInvalidDelay       Code = "INVALID_DELAY"

	// Authorization
	CodeNotAdmin  Code = "NOT_ADMIN"
	CodeNotSigner Code = "NOT_SIGNER"

	// Proposals
	CodeProposalNotFound    Code = "PROPOSAL_NOT_FOUND"
	CodeProposalNotPending  Code = "PROPOSAL_NOT_PENDING"
	CodeProposalNotApproved Code = "PROPOSAL_NOT_APPROVED"
	CodeProposalExpired     Code = "PROPOSAL_EXPIRED"
	CodeDuplicateApproval   Code = "DUPLICATE_APPROVAL"
	CodeThresholdNotMet     Code = "THRESHOLD_NOT_MET"
	CodeDelayNotElapsed     Code = "DELAY_NOT_ELAPSED"

	// Implementations and history
	CodeInvalidImplementation Code = "INVALID_IMPLEMENTATION"
	CodeImplementationNotSet  Code = "IMPLEMENTATION_NOT_SET"
	CodeNoRollbackAvailable   Code = "NO_ROLLBACK_AVAILABLE"

	// Safety analysis
	CodeIncompatibleSchema Code = "INCOMPATIBLE_SCHEMA"
	CodeStateReadError     Code = "STATE_READ_ERROR"
	CodePolicyViolation    Code = "POLICY_VIOLATION"
	CodeCriticalRisk       Code = "CRITICAL_RISK"
	CodeUpgradeHalted      Code = "UPGRADE_HALTED"
	CodeSnapshotCorrupt    Code = "SNAPSHOT_CORRUPT"
	CodeSnapshotNotFound   Code = "SNAPSHOT_NOT_FOUND"

	// Migrations
	CodeInvalidStrategy       Code = "INVALID_STRATEGY"
	CodeDuplicateMigration    Code = "DUPLICATE_MIGRATION"
	CodeMigrationInProgress   Code = "MIGRATION_IN_PROGRESS"
	CodeMigrationNotFound     Code = "MIGRATION_NOT_FOUND"
	CodeMigrationTerminal     Code = "MIGRATION_TERMINAL"
	CodeMigrationNotRunning   Code = "MIGRATION_NOT_RUNNING"
	CodeOutOfOrderBatch       Code = "OUT_OF_ORDER_BATCH"
	CodeIncompleteMigration   Code = "INCOMPLETE_MIGRATION"
	CodeMigrationFailed       Code = "MIGRATION_FAILED"
	CodeCheckpointCorrupt     Code = "CHECKPOINT_CORRUPT"
	CodeCheckpointNotFound    Code = "CHECKPOINT_NOT_FOUND"
	CodeStaleCheckpoint       Code = "STALE_CHECKPOINT"
	CodeNoCheckpointAvailable Code = "NO_CHECKPOINT_AVAILABLE"

	CodeStorage Code = "STORAGE_ERROR"
)

var (
	ErrAlreadyInitialized = New(CodeAlreadyInitialized, ClassValidation, "already initialized")
	ErrNotInitialized     = New(CodeNotInitialized, ClassValidation, "not initialized")
	ErrInvalidAdmins      = New(CodeInvalidAdmins, ClassValidation, "invalid admin set")
	ErrInvalidThreshold   = New(CodeInvalidThreshold, ClassValidation, "invalid approval threshold")
	ErrInvalidDelay       = New(CodeInvalidDelay, ClassValidation, "invalid execution delay")

	ErrNotAdmin  = New(CodeNotAdmin, ClassAuthorization, "caller is not an admin")
	ErrNotSigner = New(CodeNotSigner, ClassAuthorization, "caller identity was not authorized by the signer")

	ErrProposalNotFound    = New(CodeProposalNotFound, ClassNotFound, "proposal not found")
	ErrProposalNotPending  = New(CodeProposalNotPending, ClassStateConflict, "proposal is no longer pending")
	ErrProposalNotApproved = New(CodeProposalNotApproved, ClassStateConflict, "proposal is not approved")
	ErrProposalExpired     = New(CodeProposalExpired, ClassStateConflict, "proposal has expired")
	ErrDuplicateApproval   = New(CodeDuplicateApproval, ClassStateConflict, "admin has already approved this proposal")
	ErrThresholdNotMet     = New(CodeThresholdNotMet, ClassStateConflict, "approval threshold not met")
	ErrDelayNotElapsed     = New(CodeDelayNotElapsed, ClassStateConflict, "execution delay has not elapsed")

	ErrInvalidImplementation = New(CodeInvalidImplementation, ClassValidation, "invalid implementation")
	ErrImplementationNotSet  = New(CodeImplementationNotSet, ClassValidation, "no active implementation")
	ErrNoRollbackAvailable   = New(CodeNoRollbackAvailable, ClassStateConflict, "no predecessor to roll back to")

	ErrIncompatibleSchema = New(CodeIncompatibleSchema, ClassPolicy, "incompatible schema")
	ErrStateReadError     = New(CodeStateReadError, ClassStorage, "unable to read implementation state")
	ErrPolicyViolation    = New(CodePolicyViolation, ClassPolicy, "upgrade policy violation")
	ErrCriticalRisk       = New(CodeCriticalRisk, ClassPolicy, "upgrade risk is critical")
	ErrUpgradeHalted      = New(CodeUpgradeHalted, ClassPolicy, "upgrades halted by health check")
	ErrSnapshotCorrupt    = New(CodeSnapshotCorrupt, ClassIntegrity, "state snapshot checksum mismatch")
	ErrSnapshotNotFound   = New(CodeSnapshotNotFound, ClassNotFound, "state snapshot not found")

	ErrInvalidStrategy       = New(CodeInvalidStrategy, ClassValidation, "invalid migration strategy")
	ErrDuplicateMigration    = New(CodeDuplicateMigration, ClassStateConflict, "migration already in progress for proposal")
	ErrMigrationInProgress   = New(CodeMigrationInProgress, ClassStateConflict, "another migration is in progress")
	ErrMigrationNotFound     = New(CodeMigrationNotFound, ClassNotFound, "migration not found")
	ErrMigrationTerminal     = New(CodeMigrationTerminal, ClassStateConflict, "migration is in a terminal state")
	ErrMigrationNotRunning   = New(CodeMigrationNotRunning, ClassStateConflict, "migration is not in progress")
	ErrOutOfOrderBatch       = New(CodeOutOfOrderBatch, ClassStateConflict, "checkpoint batch out of order")
	ErrIncompleteMigration   = New(CodeIncompleteMigration, ClassStateConflict, "migration is incomplete")
	ErrMigrationFailed       = New(CodeMigrationFailed, ClassExecution, "migration step failed")
	ErrCheckpointCorrupt     = New(CodeCheckpointCorrupt, ClassIntegrity, "checkpoint checksum mismatch")
	ErrCheckpointNotFound    = New(CodeCheckpointNotFound, ClassNotFound, "checkpoint not found")
	ErrStaleCheckpoint       = New(CodeStaleCheckpoint, ClassStateConflict, "checkpoint is not the latest for its migration")
	ErrNoCheckpointAvailable = New(CodeNoCheckpointAvailable, ClassStateConflict, "no checkpoint or snapshot available for recovery")

	ErrStorage = New(CodeStorage, ClassStorage, "storage error")
)
