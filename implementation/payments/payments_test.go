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

package payments_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/proxyguard/implementation"
	"github.com/blinklabs-io/proxyguard/implementation/payments"
)

// memState is a map-backed StateStore
type memState map[string][]byte

func (m memState) Get(key string) ([]byte, bool, error) {
	val, ok := m[key]
	return val, ok, nil
}

func (m memState) Set(key string, value []byte) error {
	m[key] = value
	return nil
}

func (m memState) Delete(key string) error {
	delete(m, key)
	return nil
}

func (m memState) Keys(prefix string) ([]string, error) {
	var ret []string
	for key := range m {
		if strings.HasPrefix(key, prefix) {
			ret = append(ret, key)
		}
	}
	return ret, nil
}

func transfer(
	t *testing.T,
	impl implementation.Implementation,
	state implementation.StateStore,
	amount uint64,
) uint64 {
	t.Helper()
	args, err := payments.EncodeTransferRequest("alice", "bob", amount)
	require.NoError(t, err)
	ret, err := impl.Invoke(
		context.Background(),
		state,
		implementation.Call{Function: payments.FunctionTransfer, Args: args},
	)
	require.NoError(t, err)
	return ret.(uint64)
}

func get(
	t *testing.T,
	impl implementation.Implementation,
	state implementation.StateStore,
	id uint64,
) *payments.Transfer {
	t.Helper()
	args, err := payments.EncodeTransferID(id)
	require.NoError(t, err)
	ret, err := impl.Invoke(
		context.Background(),
		state,
		implementation.Call{Function: payments.FunctionGet, Args: args},
	)
	require.NoError(t, err)
	return ret.(*payments.Transfer)
}

func TestV1Transfers(t *testing.T) {
	state := memState{}
	v1 := payments.NewV1()

	assert.Equal(t, uint64(0), transfer(t, v1, state, 1000))
	assert.Equal(t, uint64(1), transfer(t, v1, state, 2000))

	ret := get(t, v1, state, 1)
	assert.Equal(t, uint64(2000), ret.Amount)
	assert.Equal(t, uint64(0), ret.Fee)

	count, err := v1.Invoke(
		context.Background(),
		state,
		implementation.Call{Function: payments.FunctionCount},
	)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	_, err = v1.Invoke(
		context.Background(),
		state,
		implementation.Call{Function: "burn"},
	)
	assert.ErrorIs(t, err, payments.ErrUnknownFunction)

	args, err := payments.EncodeTransferRequest("alice", "bob", 0)
	require.NoError(t, err)
	_, err = v1.Invoke(
		context.Background(),
		state,
		implementation.Call{Function: payments.FunctionTransfer, Args: args},
	)
	assert.ErrorIs(t, err, payments.ErrInvalidTransfer)
}

func TestV2MigratesV1Records(t *testing.T) {
	state := memState{}
	v1 := payments.NewV1()
	v2 := payments.NewV2(100)

	for range 5 {
		transfer(t, v1, state, 10000)
	}
	items, err := v2.MigrationItems(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), items)

	mctx := &implementation.MigrationContext{
		State: state,
		Start: 0,
		End:   3,
	}
	require.NoError(t, v2.Migrate(context.Background(), mctx))
	assert.NotEmpty(t, mctx.Result)

	assert.Equal(t, uint64(100), get(t, v2, state, 0).Fee)
	assert.Equal(t, uint64(100), get(t, v2, state, 2).Fee)
	// Not migrated yet
	assert.Equal(t, uint64(0), get(t, v2, state, 3).Fee)

	// Migrating the same item twice is refused
	err = v2.Migrate(
		context.Background(),
		&implementation.MigrationContext{State: state, Start: 2, End: 4},
	)
	assert.ErrorIs(t, err, payments.ErrAlreadyMigrated)

	// v1 still reads migrated records after a rollback
	assert.Equal(t, uint64(10000), get(t, v1, state, 0).Amount)
}

func TestV2Compatibility(t *testing.T) {
	compat := implementation.CompatibilityOf(payments.NewV2(payments.DefaultFeeBasisPoints))
	assert.Equal(t, uint32(1), compat.MinCompatibleVersion)
	assert.Equal(t, uint32(2), compat.TargetSchemaVersion)
	assert.True(t, compat.RequiresMigration)
	assert.Equal(t, []string{payments.TransferKeyPrefix}, compat.AffectedFields)
}

func TestV2ItemsOf(t *testing.T) {
	v2 := payments.NewV2(payments.DefaultFeeBasisPoints)
	args, err := payments.EncodeTransferID(3)
	require.NoError(t, err)
	assert.Equal(
		t,
		[]uint64{3},
		v2.ItemsOf(implementation.Call{Function: payments.FunctionGet, Args: args}),
	)
	assert.Empty(t, v2.ItemsOf(implementation.Call{Function: payments.FunctionCount}))
	assert.Empty(t, v2.ItemsOf(implementation.Call{Function: payments.FunctionGet, Args: []byte{0xff}}))
}

func TestRegister(t *testing.T) {
	reg := implementation.NewRegistry()
	require.NoError(t, payments.Register(reg))
	assert.Equal(t, []string{payments.RefV1, payments.RefV2}, reg.Refs())
	assert.Equal(t, "transfer/0000000000000042", payments.TransferKey(42))
}
