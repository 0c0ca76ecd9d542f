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

package sqlite

import (
	"errors"

	"gorm.io/gorm"

	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/database/types"
)

// CreateProposal inserts a new proposal and assigns its ID
func (d *MetadataStoreSqlite) CreateProposal(
	proposal *models.Proposal,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Create(proposal); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetProposal returns the proposal with the given ID, or nil if it doesn't exist
func (d *MetadataStoreSqlite) GetProposal(
	id uint64,
	txn types.Txn,
) (*models.Proposal, error) {
	var proposal models.Proposal
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("id = ?", id).First(&proposal); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &proposal, nil
}

// GetProposals returns proposals ordered by ID, optionally filtered by status
func (d *MetadataStoreSqlite) GetProposals(
	status models.ProposalStatus,
	txn types.Txn,
) ([]models.Proposal, error) {
	var proposals []models.Proposal
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	query := db.Order("id ASC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if result := query.Find(&proposals); result.Error != nil {
		return nil, result.Error
	}
	return proposals, nil
}

// UpdateProposal writes all fields of an existing proposal
func (d *MetadataStoreSqlite) UpdateProposal(
	proposal *models.Proposal,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Save(proposal); result.Error != nil {
		return result.Error
	}
	return nil
}

// AddProposalApproval records an approval. The unique index on
// (proposal_id, admin) rejects duplicates
func (d *MetadataStoreSqlite) AddProposalApproval(
	approval *models.ProposalApproval,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Create(approval); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetProposalApprovals returns the approvals of a proposal in the order they were given
func (d *MetadataStoreSqlite) GetProposalApprovals(
	proposalID uint64,
	txn types.Txn,
) ([]models.ProposalApproval, error) {
	var approvals []models.ProposalApproval
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("proposal_id = ?", proposalID).Order("id ASC").Find(&approvals); result.Error != nil {
		return nil, result.Error
	}
	return approvals, nil
}
