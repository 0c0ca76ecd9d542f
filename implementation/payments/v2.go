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

package payments

import (
	"context"
	"fmt"

	"github.com/blinklabs-io/gouroboros/cbor"

	"github.com/blinklabs-io/proxyguard/implementation"
)

// V2 charges a fee in basis points on every transfer. Existing v1 transfers
// are rewritten with the fee they would have been charged
type V2 struct {
	feeBasisPoints uint64
}

func NewV2(feeBasisPoints uint64) *V2 {
	return &V2{feeBasisPoints: feeBasisPoints}
}

func (*V2) SchemaVersion() uint32 {
	return 2
}

func (*V2) StateFields() []string {
	return []string{TransferKeyPrefix, MetaKeyPrefix}
}

func (*V2) CompatibilityInfo() implementation.Compatibility {
	return implementation.Compatibility{
		TargetSchemaVersion:  2,
		MinCompatibleVersion: 1,
		DeprecatedFeatures:   []string{"fee-less transfers"},
		AffectedFields:       []string{TransferKeyPrefix},
		RequiresMigration:    true,
	}
}

// MigrationItems returns the number of stored transfers
func (*V2) MigrationItems(
	_ context.Context,
	state implementation.StateStore,
) (uint64, error) {
	return getCount(state)
}

func (v *V2) fee(amount uint64) uint64 {
	return amount * v.feeBasisPoints / 10000
}

// Migrate rewrites the transfers in the item range with the v2 layout. The
// result payload is the CBOR encoding of the rewritten records
func (v *V2) Migrate(
	_ context.Context,
	mctx *implementation.MigrationContext,
) error {
	migrated := make([][]byte, 0, mctx.End-mctx.Start)
	for id := mctx.Start; id < mctx.End; id++ {
		transfer, isV2, err := readTransfer(mctx.State, id)
		if err != nil {
			return err
		}
		if isV2 {
			return fmt.Errorf("%w: %d", ErrAlreadyMigrated, id)
		}
		val, err := cbor.Encode(&transferV2{
			From:   transfer.From,
			To:     transfer.To,
			Amount: transfer.Amount,
			Fee:    v.fee(transfer.Amount),
		})
		if err != nil {
			return err
		}
		if err := mctx.State.Set(TransferKey(id), val); err != nil {
			return err
		}
		migrated = append(migrated, val)
	}
	result, err := cbor.Encode(migrated)
	if err != nil {
		return err
	}
	mctx.Result = result
	return nil
}

// ItemsOf maps reads of a stored transfer to its migration item
func (*V2) ItemsOf(call implementation.Call) []uint64 {
	if call.Function != FunctionGet {
		return nil
	}
	id, err := decodeTransferID(call.Args)
	if err != nil {
		return nil
	}
	return []uint64{id}
}

func (v *V2) Invoke(
	_ context.Context,
	state implementation.StateStore,
	call implementation.Call,
) (any, error) {
	switch call.Function {
	case FunctionTransfer:
		req, err := decodeTransferRequest(call.Args)
		if err != nil {
			return nil, err
		}
		count, err := getCount(state)
		if err != nil {
			return nil, err
		}
		val, err := cbor.Encode(&transferV2{
			From:   req.From,
			To:     req.To,
			Amount: req.Amount,
			Fee:    v.fee(req.Amount),
		})
		if err != nil {
			return nil, err
		}
		if err := state.Set(TransferKey(count), val); err != nil {
			return nil, err
		}
		if err := setCount(state, count+1); err != nil {
			return nil, err
		}
		return count, nil
	case FunctionGet:
		id, err := decodeTransferID(call.Args)
		if err != nil {
			return nil, err
		}
		transfer, _, err := readTransfer(state, id)
		if err != nil {
			return nil, err
		}
		return transfer, nil
	case FunctionCount:
		return getCount(state)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, call.Function)
}
