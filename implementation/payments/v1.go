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

// V1 is the original ledger without fees
type V1 struct{}

func NewV1() *V1 {
	return &V1{}
}

func (*V1) SchemaVersion() uint32 {
	return 1
}

func (*V1) StateFields() []string {
	return []string{TransferKeyPrefix, MetaKeyPrefix}
}

// CompatibilityInfo declares that v1 reads records in both layouts, which is
// what allows rolling back from v2
func (*V1) CompatibilityInfo() implementation.Compatibility {
	return implementation.Compatibility{
		TargetSchemaVersion:  2,
		MinCompatibleVersion: 1,
	}
}

func (*V1) Invoke(
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
		val, err := cbor.Encode(&transferV1{
			From:   req.From,
			To:     req.To,
			Amount: req.Amount,
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
		// Records written by v2 keep their fee after a rollback
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
