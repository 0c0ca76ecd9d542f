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

package proxyerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/proxyguard/proxyerr"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := proxyerr.ErrDuplicateApproval.Withf("admin %s", "alice")
	wrapped := fmt.Errorf("approve: %w", err)
	assert.ErrorIs(t, wrapped, proxyerr.ErrDuplicateApproval)
	assert.NotErrorIs(t, wrapped, proxyerr.ErrNotAdmin)
	assert.Contains(t, err.Error(), "admin alice")
	// The sentinel itself is not modified
	assert.NotContains(t, proxyerr.ErrDuplicateApproval.Error(), "alice")
}

func TestErrorStatusAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := proxyerr.ErrProposalNotPending.WithStatus("Executed").Wrap(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "status Executed")
	pe, ok := proxyerr.As(fmt.Errorf("outer: %w", err))
	require.True(t, ok)
	assert.Equal(t, "Executed", pe.Status)
	assert.Equal(t, proxyerr.ClassStateConflict, pe.Class)
}

func TestErrorClassification(t *testing.T) {
	testDefs := []struct {
		err       error
		fatal     bool
		retryable bool
	}{
		{err: proxyerr.ErrCriticalRisk, fatal: true, retryable: false},
		{err: proxyerr.ErrSnapshotCorrupt, fatal: true, retryable: false},
		{err: proxyerr.ErrCheckpointCorrupt, fatal: true, retryable: false},
		{err: proxyerr.ErrPolicyViolation, fatal: false, retryable: true},
		{err: proxyerr.ErrMigrationFailed, fatal: false, retryable: true},
		{err: proxyerr.ErrDelayNotElapsed, fatal: false, retryable: true},
		{err: proxyerr.ErrNotAdmin, fatal: false, retryable: false},
		{err: proxyerr.ErrDuplicateApproval, fatal: false, retryable: false},
	}
	for _, testDef := range testDefs {
		assert.Equal(t, testDef.fatal, proxyerr.IsFatal(testDef.err), testDef.err.Error())
		assert.Equal(t, testDef.retryable, proxyerr.IsRetryable(testDef.err), testDef.err.Error())
	}
}

func TestStoragef(t *testing.T) {
	assert.NoError(t, proxyerr.Storagef(nil, "noop"))
	err := proxyerr.Storagef(errors.New("boom"), "load proposal %d", 7)
	assert.ErrorIs(t, err, proxyerr.ErrStorage)
	assert.Equal(t, proxyerr.CodeStorage, proxyerr.CodeOf(err))
	// Typed errors keep their own code
	err = proxyerr.Storagef(proxyerr.ErrNotAdmin, "approve")
	assert.Equal(t, proxyerr.CodeNotAdmin, proxyerr.CodeOf(err))
}
