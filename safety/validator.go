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

// Package safety decides whether a candidate implementation may replace the
// active one. It compares declared schema versions, captures and verifies
// pre-upgrade state snapshots, scores the risk of an upgrade and applies the
// configured policies.
package safety

import (
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/proxyerr"
)

const (
	// DefaultBaseGas is the fixed gas estimate of swapping an implementation
	DefaultBaseGas = 500_000
	// DefaultGasPerField is the gas estimate of migrating one state field
	DefaultGasPerField = 5_000
	// MaxDirectMigrationSeconds bounds the estimated duration of a single
	// step migration
	MaxDirectMigrationSeconds = 300

	fieldsPerSecond = 10
	// Version jumps larger than this require a migration
	migrationVersionDelta = 2
)

// CompatibilityReport is the result of comparing two schema versions
type CompatibilityReport struct {
	BreakingChanges      []string  `json:"breakingChanges"`
	DeprecatedFeatures   []string  `json:"deprecatedFeatures"`
	AffectedFields       []string  `json:"affectedFields"`
	Risk                 RiskLevel `json:"risk"`
	CurrentVersion       uint32    `json:"currentVersion"`
	CandidateVersion     uint32    `json:"candidateVersion"`
	MinCompatibleVersion uint32    `json:"minCompatibleVersion"`
	VersionDelta         uint32    `json:"versionDelta"`
	RequiresMigration    bool      `json:"requiresMigration"`
}

// ImpactAnalysis combines the compatibility report with a diff of the
// captured state
type ImpactAnalysis struct {
	Compatibility      *CompatibilityReport `json:"compatibility"`
	Current            string               `json:"current"`
	Candidate          string               `json:"candidate"`
	AffectedKeys       []string             `json:"affectedKeys"`
	TotalFields        uint64               `json:"totalFields"`
	EstimatedGas       uint64               `json:"estimatedGas"`
	EstimatedSeconds   uint64               `json:"estimatedSeconds"`
	BreakingChanges    uint32               `json:"breakingChanges"`
	Risk               RiskLevel            `json:"risk"`
	RequiresMigration  bool                 `json:"requiresMigration"`
	SnapshotConsidered bool                 `json:"snapshotConsidered"`
}

// Validator performs the pre-flight checks of an upgrade. It holds no state
// between calls
type Validator struct {
	logger      *slog.Logger
	baseGas     uint64
	gasPerField uint64
}

func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Validator{
		logger:      logger,
		baseGas:     DefaultBaseGas,
		gasPerField: DefaultGasPerField,
	}
}

// ValidateSchemaCompatibility checks that candidate can take over the data
// written by current
func (v *Validator) ValidateSchemaCompatibility(
	current Descriptor,
	candidate Descriptor,
) (*CompatibilityReport, error) {
	if current.SchemaVersion == 0 {
		return nil, proxyerr.ErrInvalidImplementation.Withf(
			"%s declares schema version 0",
			current.Ref,
		)
	}
	if candidate.SchemaVersion == 0 {
		return nil, proxyerr.ErrInvalidImplementation.Withf(
			"%s declares schema version 0",
			candidate.Ref,
		)
	}
	compat := candidate.Compatibility
	if compat.MinCompatibleVersion > current.SchemaVersion {
		return nil, proxyerr.ErrIncompatibleSchema.Withf(
			"%s requires schema version %d or later, current is %d",
			candidate.Ref,
			compat.MinCompatibleVersion,
			current.SchemaVersion,
		)
	}
	// A downgrade is only possible when the candidate can read the current layout
	if candidate.SchemaVersion < current.SchemaVersion &&
		current.SchemaVersion > compat.TargetSchemaVersion {
		return nil, proxyerr.ErrIncompatibleSchema.Withf(
			"%s cannot read schema version %d",
			candidate.Ref,
			current.SchemaVersion,
		)
	}
	delta := versionDelta(current.SchemaVersion, candidate.SchemaVersion)
	risk := riskForVersionDelta(delta)
	if len(compat.BreakingChanges) > 0 {
		risk = RiskCritical
	}
	report := &CompatibilityReport{
		Risk:                 risk,
		BreakingChanges:      slices.Clone(compat.BreakingChanges),
		DeprecatedFeatures:   slices.Clone(compat.DeprecatedFeatures),
		AffectedFields:       slices.Clone(compat.AffectedFields),
		CurrentVersion:       current.SchemaVersion,
		CandidateVersion:     candidate.SchemaVersion,
		MinCompatibleVersion: compat.MinCompatibleVersion,
		VersionDelta:         delta,
		RequiresMigration:    compat.RequiresMigration || delta > migrationVersionDelta,
	}
	v.logger.Debug(
		"schema compatibility checked",
		"component", "safety",
		"current", current.Ref,
		"candidate", candidate.Ref,
		"risk", report.Risk.String(),
	)
	return report, nil
}

// AnalyzeUpgradeImpact scores an upgrade. A nil snapshot skips the state diff
func (v *Validator) AnalyzeUpgradeImpact(
	current Descriptor,
	candidate Descriptor,
	snapshot *Snapshot,
) (*ImpactAnalysis, error) {
	report, err := v.ValidateSchemaCompatibility(current, candidate)
	if err != nil {
		return nil, err
	}
	ret := &ImpactAnalysis{
		Compatibility:     report,
		Current:           current.Ref,
		Candidate:         candidate.Ref,
		Risk:              report.Risk,
		RequiresMigration: report.RequiresMigration,
		BreakingChanges:   uint32(len(report.BreakingChanges)), //nolint:gosec
	}
	if snapshot != nil {
		ret.SnapshotConsidered = true
		ret.TotalFields = uint64(len(snapshot.Entries))
		for _, entry := range snapshot.Entries {
			if matchesAnyPrefix(entry.Key, report.AffectedFields) {
				ret.AffectedKeys = append(ret.AffectedKeys, entry.Key)
			}
		}
	}
	affected := uint64(len(ret.AffectedKeys))
	diffRisk := RiskLow
	if affected > 0 {
		diffRisk = RiskMedium
		ret.RequiresMigration = true
		if affected*2 > ret.TotalFields {
			diffRisk = RiskHigh
		}
	}
	ret.Risk = max(ret.Risk, diffRisk)
	ret.EstimatedGas = v.baseGas + v.gasPerField*affected
	ret.EstimatedSeconds = max(
		1,
		(affected+fieldsPerSecond-1)/fieldsPerSecond,
	)
	return ret, nil
}

// ValidateAgainstPolicies applies the upgrade policies to an impact analysis
func (v *Validator) ValidateAgainstPolicies(
	impact *ImpactAnalysis,
	maxRisk RiskLevel,
	strategy models.MigrationStrategy,
) error {
	if impact.Risk > maxRisk {
		return proxyerr.ErrPolicyViolation.Withf(
			"risk %s exceeds the maximum of %s",
			impact.Risk,
			maxRisk,
		)
	}
	if impact.RequiresMigration && strategy == "" {
		return proxyerr.ErrPolicyViolation.Withf(
			"upgrade requires a migration but no strategy was supplied",
		)
	}
	if strategy == models.MigrationStrategyDirect &&
		impact.EstimatedSeconds > MaxDirectMigrationSeconds {
		return proxyerr.ErrPolicyViolation.Withf(
			"direct migration estimated at %ds exceeds %ds",
			impact.EstimatedSeconds,
			MaxDirectMigrationSeconds,
		)
	}
	return nil
}

func versionDelta(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func matchesAnyPrefix(key string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
