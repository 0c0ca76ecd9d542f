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

package database

import (
	"github.com/blinklabs-io/proxyguard/database/models"
)

func (d *Database) CreateProposal(proposal *models.Proposal, txn *Txn) error {
	if txn == nil {
		return d.metadata.CreateProposal(proposal, nil)
	}
	return d.metadata.CreateProposal(proposal, txn.Metadata())
}

// GetProposal returns a proposal by ID
func (d *Database) GetProposal(id uint64, txn *Txn) (*models.Proposal, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	ret, err := d.metadata.GetProposal(id, txn.Metadata())
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, models.ErrProposalNotFound
	}
	return ret, nil
}

// GetProposals returns all proposals, or only those with the given status
// when status is non-empty
func (d *Database) GetProposals(
	status models.ProposalStatus,
	txn *Txn,
) ([]models.Proposal, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	return d.metadata.GetProposals(status, txn.Metadata())
}

func (d *Database) UpdateProposal(proposal *models.Proposal, txn *Txn) error {
	if txn == nil {
		return d.metadata.UpdateProposal(proposal, nil)
	}
	return d.metadata.UpdateProposal(proposal, txn.Metadata())
}

func (d *Database) AddProposalApproval(
	approval *models.ProposalApproval,
	txn *Txn,
) error {
	if txn == nil {
		return d.metadata.AddProposalApproval(approval, nil)
	}
	return d.metadata.AddProposalApproval(approval, txn.Metadata())
}

// GetProposalApprovers returns the identities that approved a proposal, in
// approval order
func (d *Database) GetProposalApprovers(
	proposalID uint64,
	txn *Txn,
) ([]string, error) {
	if txn == nil {
		txn = d.Transaction(false)
		defer txn.Release()
	}
	approvals, err := d.metadata.GetProposalApprovals(
		proposalID,
		txn.Metadata(),
	)
	if err != nil {
		return nil, err
	}
	ret := make([]string, 0, len(approvals))
	for _, approval := range approvals {
		ret = append(ret, approval.Admin)
	}
	return ret, nil
}
