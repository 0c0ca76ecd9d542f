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

package governance

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/event"
	"github.com/blinklabs-io/proxyguard/proxyerr"
	"github.com/blinklabs-io/proxyguard/recovery"
)

// Rollback reverts the active implementation to its predecessor. An
// unfinished migration into the active implementation is undone from its
// pre-upgrade snapshot
func (c *Coordinator) Rollback(
	ctx context.Context,
	caller string,
) (record *models.ImplementationRecord, err error) {
	_, span := c.startSpan(
		ctx,
		"Rollback",
		attribute.String("caller", caller),
	)
	defer func() { endSpan(span, err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	var plan *recovery.RollbackPlan
	var attempted bool
	var metricsID uint64
	err = c.update(func(txn *database.Txn) error {
		db := txn.DB()
		cfg, err := c.loadConfig(txn)
		if err != nil {
			return err
		}
		if !c.signer.IsSigner(caller) {
			return proxyerr.ErrNotSigner.Withf("%q", caller)
		}
		isAdmin, err := c.isAdmin(txn, caller)
		if err != nil {
			return err
		}
		var active *models.ImplementationRecord
		if cfg.HasImplementation() {
			active, err = db.GetLatestImplementationRecord(txn)
			if err != nil &&
				!errors.Is(err, models.ErrImplementationRecordNotFound) {
				return proxyerr.Storagef(err, "get active implementation")
			}
		}
		plan, err = c.recovery.PlanRollback(txn, active, isAdmin)
		if err != nil {
			return err
		}
		attempted = true
		if active.ProposalID != nil {
			metricsID = *active.ProposalID
		}
		metrics, err := c.monitoring.StartMetricsCollection(
			txn,
			metricsID,
			models.MetricsKindRollback,
		)
		if err != nil {
			return err
		}
		record, err = c.activate(txn, cfg, plan)
		if err != nil {
			return err
		}
		c.monitoring.RecordUsage(metrics, txn.StorageOps(), 0)
		_, err = c.monitoring.FinalizeMetrics(txn, metrics, true, "")
		return err
	})
	if err != nil {
		c.denied("rollback", caller, 0, err)
		if attempted {
			c.settleRollback(caller, metricsID, err)
		}
		return nil, err
	}
	c.monitoring.SetActiveVersion(record.Version)
	c.logger.Info(
		"implementation rolled back",
		"component", "governance",
		"caller", caller,
		"previous", plan.Active.Implementation,
		"current", record.Implementation,
		"version", record.Version,
	)
	c.publish(
		event.UpgradeRolledBackEventType,
		event.UpgradeRolledBackEvent{
			Previous:     plan.Active.Implementation,
			Current:      record.Implementation,
			Caller:       caller,
			Version:      record.Version,
			RestoredFrom: plan.Target.Version,
		},
	)
	if plan.Restored != nil {
		c.publishRecovered(plan.Restored)
	}
	return record, nil
}

// activate appends the rollback history entry of a plan and points the
// configuration at its implementation
func (c *Coordinator) activate(
	txn *database.Txn,
	cfg *models.GovernanceConfig,
	plan *recovery.RollbackPlan,
) (*models.ImplementationRecord, error) {
	db := txn.DB()
	record := plan.HistoryRecord(c.clock.Now())
	if err := db.AddImplementationRecord(record, txn); err != nil {
		return nil, proxyerr.Storagef(err, "append history")
	}
	cfg.ActiveImplementation = record.Implementation
	cfg.Version = record.Version
	if err := db.SetGovernanceConfig(cfg, txn); err != nil {
		return nil, proxyerr.Storagef(err, "update governance config")
	}
	return record, nil
}

func (c *Coordinator) settleRollback(caller string, metricsID uint64, rollbackErr error) {
	c.settle("rollback", func(txn *database.Txn) error {
		metrics, err := c.monitoring.StartMetricsCollection(
			txn,
			metricsID,
			models.MetricsKindRollback,
		)
		if err != nil {
			return err
		}
		if _, err := c.monitoring.FinalizeMetrics(
			txn,
			metrics,
			false,
			proxyerr.CodeOf(rollbackErr),
		); err != nil {
			return err
		}
		return txn.DB().AddAuditEntry(
			auditEntry(c.clock.Now(), "rollback", caller, metricsID, rollbackErr),
			txn,
		)
	})
}

func (c *Coordinator) publishRecovered(result *recovery.Result) {
	c.publish(
		event.MigrationRecoveredEventType,
		event.MigrationEvent{
			Status:      string(result.Migration.Status),
			Outcome:     string(result.Outcome),
			MigrationID: result.Migration.ID,
			ProposalID:  result.Migration.ProposalID,
			Processed:   result.Migration.ProcessedItems,
			Total:       result.Migration.TotalItems,
		},
	)
}
