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

// Package payments is a transfers ledger used as the proxied implementation.
// Version 1 stores plain transfers. Version 2 adds a fee to every transfer
// and migrates existing records.
package payments

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/gouroboros/cbor"

	"github.com/blinklabs-io/proxyguard/implementation"
)

const (
	RefV1 = "payments-v1"
	RefV2 = "payments-v2"

	TransferKeyPrefix = "transfer/"
	MetaKeyPrefix     = "meta/"
	countKey          = MetaKeyPrefix + "count"

	FunctionTransfer = "transfer"
	FunctionGet      = "get"
	FunctionCount    = "count"

	// DefaultFeeBasisPoints is the v2 fee applied to new and migrated transfers
	DefaultFeeBasisPoints = 25
)

var (
	ErrUnknownFunction  = errors.New("unknown function")
	ErrTransferNotFound = errors.New("transfer not found")
	ErrInvalidTransfer  = errors.New("invalid transfer")
	ErrAlreadyMigrated  = errors.New("transfer already migrated")
)

// TransferRequest is the argument of the transfer function
type TransferRequest struct {
	cbor.StructAsArray
	From   string
	To     string
	Amount uint64
}

// Transfer is the result of the get function
type Transfer struct {
	From   string
	To     string
	ID     uint64
	Amount uint64
	Fee    uint64
}

type transferV1 struct {
	cbor.StructAsArray
	From   string
	To     string
	Amount uint64
}

type transferV2 struct {
	cbor.StructAsArray
	From   string
	To     string
	Amount uint64
	Fee    uint64
}

// TransferKey returns the state key of a transfer. IDs are zero padded so
// that key order matches ID order
func TransferKey(id uint64) string {
	return fmt.Sprintf("%s%016d", TransferKeyPrefix, id)
}

// Register adds both ledger versions to the registry
func Register(reg *implementation.Registry) error {
	if err := reg.Register(RefV1, NewV1()); err != nil {
		return err
	}
	return reg.Register(RefV2, NewV2(DefaultFeeBasisPoints))
}

func getCount(state implementation.StateStore) (uint64, error) {
	val, ok, err := state.Get(countKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var count uint64
	if _, err := cbor.Decode(val, &count); err != nil {
		return 0, fmt.Errorf("decode transfer count: %w", err)
	}
	return count, nil
}

func setCount(state implementation.StateStore, count uint64) error {
	val, err := cbor.Encode(count)
	if err != nil {
		return err
	}
	return state.Set(countKey, val)
}

func decodeTransferRequest(args []byte) (*TransferRequest, error) {
	var req TransferRequest
	if _, err := cbor.Decode(args, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransfer, err)
	}
	if req.From == "" || req.To == "" || req.Amount == 0 {
		return nil, ErrInvalidTransfer
	}
	return &req, nil
}

func decodeTransferID(args []byte) (uint64, error) {
	var id uint64
	if _, err := cbor.Decode(args, &id); err != nil {
		return 0, fmt.Errorf("decode transfer id: %w", err)
	}
	return id, nil
}

// readTransfer decodes a stored transfer in either layout. The second return
// value reports whether the record uses the v2 layout
func readTransfer(
	state implementation.StateStore,
	id uint64,
) (*Transfer, bool, error) {
	val, ok, err := state.Get(TransferKey(id))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("%w: %d", ErrTransferNotFound, id)
	}
	var v2 transferV2
	if _, err := cbor.Decode(val, &v2); err == nil {
		return &Transfer{
			ID:     id,
			From:   v2.From,
			To:     v2.To,
			Amount: v2.Amount,
			Fee:    v2.Fee,
		}, true, nil
	}
	var v1 transferV1
	if _, err := cbor.Decode(val, &v1); err != nil {
		return nil, false, fmt.Errorf("decode transfer %d: %w", id, err)
	}
	return &Transfer{
		ID:     id,
		From:   v1.From,
		To:     v1.To,
		Amount: v1.Amount,
	}, false, nil
}

// EncodeTransferRequest builds the arguments of a transfer call
func EncodeTransferRequest(from, to string, amount uint64) ([]byte, error) {
	return cbor.Encode(&TransferRequest{From: from, To: to, Amount: amount})
}

// EncodeTransferID builds the arguments of a get call
func EncodeTransferID(id uint64) ([]byte, error) {
	return cbor.Encode(id)
}
