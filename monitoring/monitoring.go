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

// Package monitoring records telemetry for upgrade and rollback attempts and
// derives analytics, trends and health reports from it.
package monitoring

import (
	"io"
	"log/slog"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/proxyerr"
)

const (
	GasPerStorageOp    = 100
	GasPerContractCall = 1000
)

type Engine struct {
	logger  *slog.Logger
	clock   clock.Clock
	metrics *upgradeMetrics
}

func NewEngine(
	logger *slog.Logger,
	clk clock.Clock,
	promRegistry prometheus.Registerer,
) *Engine {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if clk == nil {
		clk = clock.WallClock
	}
	e := &Engine{
		logger: logger,
		clock:  clk,
	}
	e.registerMetrics(promRegistry)
	return e
}

// StartMetricsCollection opens a telemetry record for an attempt. When the
// proposal already has a successful record of the same kind, that record is
// returned unchanged
func (e *Engine) StartMetricsCollection(
	txn *database.Txn,
	proposalID uint64,
	kind models.MetricsKind,
) (*models.MetricsRecord, error) {
	db := txn.DB()
	done, err := db.HasSuccessfulMetricsRecord(proposalID, kind, txn)
	if err != nil {
		return nil, proxyerr.Storagef(err, "check metrics record")
	}
	if done {
		record, err := db.GetMetricsRecord(proposalID, kind, txn)
		if err != nil {
			return nil, proxyerr.Storagef(err, "get metrics record")
		}
		if record != nil && record.Finalized && record.Success {
			return record, nil
		}
	}
	record := &models.MetricsRecord{
		StartedAt:  e.clock.Now(),
		Kind:       kind,
		ProposalID: proposalID,
	}
	if err := db.CreateMetricsRecord(record, txn); err != nil {
		return nil, proxyerr.Storagef(err, "create metrics record")
	}
	return record, nil
}

// RecordUsage accumulates resource counters on an open record
func (e *Engine) RecordUsage(
	record *models.MetricsRecord,
	storageOps uint64,
	contractCalls uint64,
) {
	if record.Finalized {
		return
	}
	record.StorageOps += storageOps
	record.ContractCalls += contractCalls
	record.GasUsed = record.StorageOps*GasPerStorageOp +
		record.ContractCalls*GasPerContractCall
}

// FinalizeMetrics closes a record. Finalizing an already finalized record
// has no effect
func (e *Engine) FinalizeMetrics(
	txn *database.Txn,
	record *models.MetricsRecord,
	success bool,
	code proxyerr.Code,
) (*models.MetricsRecord, error) {
	if record.Finalized {
		return record, nil
	}
	now := e.clock.Now()
	record.EndedAt = &now
	record.Finalized = true
	record.Success = success
	record.ErrorCode = string(code)
	if err := txn.DB().UpdateMetricsRecord(record, txn); err != nil {
		return nil, proxyerr.Storagef(err, "finalize metrics record")
	}
	e.observeAttempt(string(record.Kind), success, record.Duration().Seconds())
	e.logger.Debug(
		"finalized attempt metrics",
		"component", "monitoring",
		"proposal_id", record.ProposalID,
		"kind", string(record.Kind),
		"success", success,
		"gas", record.GasUsed,
	)
	return record, nil
}

// AnalyticsSummary aggregates all finalized attempts
type AnalyticsSummary struct {
	LastUpgrade     *time.Time    `json:"lastUpgrade,omitempty"`
	Total           uint64        `json:"total"`
	Succeeded       uint64        `json:"succeeded"`
	Failed          uint64        `json:"failed"`
	RolledBack      uint64        `json:"rolledBack"`
	SuccessRate     float64       `json:"successRate"`
	AverageDuration time.Duration `json:"averageDuration"`
	AverageGas      uint64        `json:"averageGas"`
}

// CalculateAnalytics aggregates every finalized record
func (e *Engine) CalculateAnalytics(txn *database.Txn) (*AnalyticsSummary, error) {
	records, err := txn.DB().GetFinalizedMetricsRecords(0, txn)
	if err != nil {
		return nil, proxyerr.Storagef(err, "list metrics records")
	}
	return summarize(records), nil
}

func summarize(records []models.MetricsRecord) *AnalyticsSummary {
	ret := &AnalyticsSummary{}
	var totalDuration time.Duration
	var totalGas uint64
	for _, record := range records {
		ret.Total++
		totalDuration += record.Duration()
		totalGas += record.GasUsed
		if !record.Success {
			ret.Failed++
			continue
		}
		ret.Succeeded++
		if record.Kind == models.MetricsKindRollback {
			ret.RolledBack++
		}
		if record.Kind == models.MetricsKindExecute && record.EndedAt != nil {
			if ret.LastUpgrade == nil || record.EndedAt.After(*ret.LastUpgrade) {
				endedAt := *record.EndedAt
				ret.LastUpgrade = &endedAt
			}
		}
	}
	if ret.Total == 0 {
		return ret
	}
	ret.SuccessRate = float64(ret.Succeeded) / float64(ret.Total)
	ret.AverageDuration = totalDuration / time.Duration(ret.Total) //nolint:gosec
	ret.AverageGas = totalGas / ret.Total
	return ret
}
