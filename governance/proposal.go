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
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/event"
	"github.com/blinklabs-io/proxyguard/proxyerr"
)

// ProposalMetadata carries the optional execution hints of a proposal
type ProposalMetadata struct {
	Strategy   models.MigrationStrategy
	BatchSize  uint64
	TotalItems uint64
	// Flags bit 0 requests a migration
	Flags uint8
}

// ProposeUpgrade opens a proposal to activate candidate
func (c *Coordinator) ProposeUpgrade(
	ctx context.Context,
	proposer string,
	candidate string,
	meta ProposalMetadata,
) (id uint64, err error) {
	_, span := c.startSpan(
		ctx,
		"ProposeUpgrade",
		attribute.String("proposer", proposer),
		attribute.String("candidate", candidate),
	)
	defer func() { endSpan(span, err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	var proposal *models.Proposal
	err = c.update(func(txn *database.Txn) error {
		cfg, err := c.loadConfig(txn)
		if err != nil {
			return err
		}
		if err := c.authorize(txn, proposer); err != nil {
			return err
		}
		if candidate == cfg.ActiveImplementation {
			return proxyerr.ErrInvalidImplementation.Withf(
				"%s is already active",
				candidate,
			)
		}
		impl, err := c.resolve(candidate)
		if err != nil {
			return err
		}
		if impl.SchemaVersion() == 0 {
			return proxyerr.ErrInvalidImplementation.Withf(
				"%s declares schema version 0",
				candidate,
			)
		}
		if meta.Strategy != "" && !meta.Strategy.Valid() {
			return proxyerr.ErrInvalidStrategy.Withf(
				"unknown strategy %q",
				meta.Strategy,
			)
		}
		now := c.clock.Now()
		proposal = &models.Proposal{
			ProposedAt:   now,
			ExecutableAt: now.Add(cfg.Delay),
			Candidate:    candidate,
			Proposer:     proposer,
			Status:       models.ProposalStatusProposed,
			Strategy:     meta.Strategy,
			BatchSize:    meta.BatchSize,
			TotalItems:   meta.TotalItems,
			Flags:        meta.Flags,
		}
		if cfg.ProposalTTL > 0 {
			expiresAt := now.Add(cfg.ProposalTTL)
			proposal.ExpiresAt = &expiresAt
		}
		if err := txn.DB().CreateProposal(proposal, txn); err != nil {
			return proxyerr.Storagef(err, "create proposal")
		}
		return nil
	})
	if err != nil {
		c.denied("propose", proposer, 0, err)
		return 0, err
	}
	c.logger.Info(
		"upgrade proposed",
		"component", "governance",
		"proposal_id", proposal.ID,
		"proposer", proposer,
		"candidate", candidate,
	)
	c.publish(
		event.UpgradeProposedEventType,
		event.ProposalEvent{
			ProposalID: proposal.ID,
			Candidate:  candidate,
			Admin:      proposer,
			Status:     string(proposal.Status),
		},
	)
	return proposal.ID, nil
}

// ApproveUpgrade adds an admin approval. The proposal becomes Approved once
// the threshold is reached
func (c *Coordinator) ApproveUpgrade(
	ctx context.Context,
	id uint64,
	admin string,
) (err error) {
	_, span := c.startSpan(
		ctx,
		"ApproveUpgrade",
		attribute.Int64("proposal_id", int64(id)), //nolint:gosec
		attribute.String("admin", admin),
	)
	defer func() { endSpan(span, err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	var proposal *models.Proposal
	var approvals int
	var expired bool
	err = c.update(func(txn *database.Txn) error {
		cfg, err := c.loadConfig(txn)
		if err != nil {
			return err
		}
		if err := c.authorize(txn, admin); err != nil {
			return err
		}
		proposal, err = getProposal(txn, id)
		if err != nil {
			return err
		}
		if proposal.Status.Terminal() {
			return proxyerr.ErrProposalNotPending.Withf(
				"proposal %d",
				id,
			).WithStatus(string(proposal.Status))
		}
		now := c.clock.Now()
		if c.expired(proposal, now) {
			expired = true
			return proxyerr.ErrProposalExpired.Withf("proposal %d", id)
		}
		db := txn.DB()
		approvers, err := db.GetProposalApprovers(id, txn)
		if err != nil {
			return proxyerr.Storagef(err, "get approvals")
		}
		if slices.Contains(approvers, admin) {
			return proxyerr.ErrDuplicateApproval.Withf(
				"%q on proposal %d",
				admin,
				id,
			)
		}
		approval := &models.ProposalApproval{
			ApprovedAt: now,
			Admin:      admin,
			ProposalID: id,
		}
		if err := db.AddProposalApproval(approval, txn); err != nil {
			return proxyerr.Storagef(err, "add approval")
		}
		approvals = len(approvers) + 1
		if proposal.Status == models.ProposalStatusProposed &&
			approvals >= int(cfg.Threshold) {
			proposal.Status = models.ProposalStatusApproved
			if err := db.UpdateProposal(proposal, txn); err != nil {
				return proxyerr.Storagef(err, "update proposal")
			}
		}
		return nil
	})
	if err != nil {
		if expired {
			c.expire(id)
		}
		c.denied("approve", admin, id, err)
		return err
	}
	c.logger.Info(
		"upgrade approved",
		"component", "governance",
		"proposal_id", id,
		"admin", admin,
		"approvals", approvals,
		"status", string(proposal.Status),
	)
	c.publish(
		event.UpgradeApprovedEventType,
		event.ProposalEvent{
			ProposalID: id,
			Candidate:  proposal.Candidate,
			Admin:      admin,
			Status:     string(proposal.Status),
			Approvals:  approvals,
		},
	)
	return nil
}

// RejectUpgrade closes a pending proposal
func (c *Coordinator) RejectUpgrade(
	ctx context.Context,
	id uint64,
	admin string,
) (err error) {
	_, span := c.startSpan(
		ctx,
		"RejectUpgrade",
		attribute.Int64("proposal_id", int64(id)), //nolint:gosec
		attribute.String("admin", admin),
	)
	defer func() { endSpan(span, err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	var proposal *models.Proposal
	err = c.update(func(txn *database.Txn) error {
		if _, err := c.loadConfig(txn); err != nil {
			return err
		}
		if err := c.authorize(txn, admin); err != nil {
			return err
		}
		proposal, err = getProposal(txn, id)
		if err != nil {
			return err
		}
		if proposal.Status.Terminal() {
			return proxyerr.ErrProposalNotPending.Withf(
				"proposal %d",
				id,
			).WithStatus(string(proposal.Status))
		}
		now := c.clock.Now()
		proposal.Status = models.ProposalStatusRejected
		proposal.DecidedAt = &now
		proposal.Reason = fmt.Sprintf("rejected by %s", admin)
		if err := txn.DB().UpdateProposal(proposal, txn); err != nil {
			return proxyerr.Storagef(err, "update proposal")
		}
		return nil
	})
	if err != nil {
		c.denied("reject", admin, id, err)
		return err
	}
	c.logger.Info(
		"upgrade rejected",
		"component", "governance",
		"proposal_id", id,
		"admin", admin,
	)
	c.publish(
		event.UpgradeRejectedEventType,
		event.ProposalEvent{
			ProposalID: id,
			Candidate:  proposal.Candidate,
			Admin:      admin,
			Status:     string(proposal.Status),
			Reason:     proposal.Reason,
		},
	)
	return nil
}
