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

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/monitoring"
	"github.com/blinklabs-io/proxyguard/proxyerr"
	"github.com/blinklabs-io/proxyguard/safety"
)

// ProposalView is a proposal with its approvals. Status reflects expiry even
// before it has been persisted
type ProposalView struct {
	models.Proposal
	Approvals []string `json:"approvals"`
}

// MigrationView is a migration record with its checkpoints
type MigrationView struct {
	Record       models.MigrationRecord       `json:"record"`
	Checkpoints  []models.MigrationCheckpoint `json:"checkpoints"`
	PendingItems int                          `json:"pendingItems"`
}

// GovernanceView is the governance configuration with its admin set
type GovernanceView struct {
	Config models.GovernanceConfig `json:"config"`
	Admins []string                `json:"admins"`
}

// view runs fn in a read-only transaction
func (c *Coordinator) view(
	ctx context.Context,
	name string,
	fn func(*database.Txn) error,
) (err error) {
	_, span := c.startSpan(ctx, name)
	defer func() { endSpan(span, err) }()
	c.mu.Lock()
	defer c.mu.Unlock()
	txn := c.db.Transaction(false)
	defer txn.Release()
	return fn(txn)
}

// AnalyzeUpgradeSafety scores replacing the active implementation with
// candidate against the current state without changing anything
func (c *Coordinator) AnalyzeUpgradeSafety(
	ctx context.Context,
	candidate string,
) (*safety.ImpactAnalysis, error) {
	var ret *safety.ImpactAnalysis
	err := c.view(ctx, "AnalyzeUpgradeSafety", func(txn *database.Txn) error {
		cfg, err := c.loadConfig(txn)
		if err != nil {
			return err
		}
		if !cfg.HasImplementation() {
			return proxyerr.ErrImplementationNotSet
		}
		current, err := c.resolve(cfg.ActiveImplementation)
		if err != nil {
			return err
		}
		next, err := c.resolve(candidate)
		if err != nil {
			return err
		}
		currentDesc := safety.DescriptorOf(cfg.ActiveImplementation, current)
		entries, err := txn.DB().GetStateEntries(currentDesc.StateFields, txn)
		if err != nil {
			return proxyerr.ErrStateReadError.Withf(
				"read state of %s",
				cfg.ActiveImplementation,
			).Wrap(err)
		}
		ret, err = c.validator.AnalyzeUpgradeImpact(
			currentDesc,
			safety.DescriptorOf(candidate, next),
			&safety.Snapshot{
				Entries: entries,
				Fields:  currentDesc.StateFields,
			},
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Coordinator) GetHealthStatus(
	ctx context.Context,
) (*monitoring.HealthCheckResult, error) {
	var ret *monitoring.HealthCheckResult
	err := c.view(ctx, "GetHealthStatus", func(txn *database.Txn) error {
		var err error
		ret, err = c.monitoring.HealthCheck(txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Coordinator) GetUpgradeAnalytics(
	ctx context.Context,
) (*monitoring.AnalyticsSummary, error) {
	var ret *monitoring.AnalyticsSummary
	err := c.view(ctx, "GetUpgradeAnalytics", func(txn *database.Txn) error {
		var err error
		ret, err = c.monitoring.CalculateAnalytics(txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Coordinator) GetTrends(
	ctx context.Context,
) (*monitoring.TrendAnalysis, error) {
	var ret *monitoring.TrendAnalysis
	err := c.view(ctx, "GetTrends", func(txn *database.Txn) error {
		var err error
		ret, err = c.monitoring.AnalyzeTrends(txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Coordinator) GetProposal(
	ctx context.Context,
	id uint64,
) (*ProposalView, error) {
	var ret *ProposalView
	err := c.view(ctx, "GetProposal", func(txn *database.Txn) error {
		proposal, err := getProposal(txn, id)
		if err != nil {
			return err
		}
		approvers, err := txn.DB().GetProposalApprovers(id, txn)
		if err != nil {
			return proxyerr.Storagef(err, "get approvals")
		}
		if !proposal.Status.Terminal() && c.expired(proposal, c.clock.Now()) {
			proposal.Status = models.ProposalStatusExpired
		}
		ret = &ProposalView{
			Proposal:  *proposal,
			Approvals: approvers,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// GetGovernance returns the governance configuration and admin set
func (c *Coordinator) GetGovernance(ctx context.Context) (*GovernanceView, error) {
	var ret *GovernanceView
	err := c.view(ctx, "GetGovernance", func(txn *database.Txn) error {
		cfg, err := c.loadConfig(txn)
		if err != nil {
			return err
		}
		admins, err := txn.DB().GetAdmins(txn)
		if err != nil {
			return proxyerr.Storagef(err, "get admins")
		}
		ret = &GovernanceView{Config: *cfg, Admins: admins}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// GetCurrentImplementation returns the reference of the active
// implementation
func (c *Coordinator) GetCurrentImplementation(ctx context.Context) (string, error) {
	var ret string
	err := c.view(ctx, "GetCurrentImplementation", func(txn *database.Txn) error {
		cfg, err := c.loadConfig(txn)
		if err != nil {
			return err
		}
		if !cfg.HasImplementation() {
			return proxyerr.ErrImplementationNotSet
		}
		ret = cfg.ActiveImplementation
		return nil
	})
	return ret, err
}

// GetVersion returns the history version of the active implementation, 0
// before any activation
func (c *Coordinator) GetVersion(ctx context.Context) (uint64, error) {
	var ret uint64
	err := c.view(ctx, "GetVersion", func(txn *database.Txn) error {
		cfg, err := c.loadConfig(txn)
		if err != nil {
			return err
		}
		ret = cfg.Version
		return nil
	})
	return ret, err
}

// GetHistory returns the implementation history, oldest first
func (c *Coordinator) GetHistory(
	ctx context.Context,
) ([]models.ImplementationRecord, error) {
	var ret []models.ImplementationRecord
	err := c.view(ctx, "GetHistory", func(txn *database.Txn) error {
		var err error
		ret, err = txn.DB().GetImplementationHistory(txn)
		if err != nil {
			return proxyerr.Storagef(err, "get history")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Coordinator) GetMigration(
	ctx context.Context,
	id uint64,
) (*MigrationView, error) {
	var ret *MigrationView
	err := c.view(ctx, "GetMigration", func(txn *database.Txn) error {
		record, err := c.migrations.Get(txn, id)
		if err != nil {
			return err
		}
		db := txn.DB()
		checkpoints, err := db.GetMigrationCheckpoints(id, txn)
		if err != nil {
			return proxyerr.Storagef(err, "get checkpoints")
		}
		pending, err := db.CountLazyMarkers(id, txn)
		if err != nil {
			return proxyerr.Storagef(err, "count lazy markers")
		}
		ret = &MigrationView{
			Record:       *record,
			Checkpoints:  checkpoints,
			PendingItems: pending,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// ListAudit returns up to limit audit entries, newest first. A limit of 0
// returns everything
func (c *Coordinator) ListAudit(
	ctx context.Context,
	limit int,
) ([]models.AuditEntry, error) {
	var ret []models.AuditEntry
	err := c.view(ctx, "ListAudit", func(txn *database.Txn) error {
		var err error
		ret, err = txn.DB().GetAuditEntries(limit, txn)
		if err != nil {
			return proxyerr.Storagef(err, "get audit entries")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}
