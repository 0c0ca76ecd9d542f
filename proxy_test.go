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

package proxyguard_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/proxyguard"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/event"
	"github.com/blinklabs-io/proxyguard/governance"
	"github.com/blinklabs-io/proxyguard/implementation"
	"github.com/blinklabs-io/proxyguard/implementation/payments"
	"github.com/blinklabs-io/proxyguard/safety"
)

func TestNewConfigValidation(t *testing.T) {
	testDefs := []struct {
		name    string
		opts    []proxyguard.ConfigOptionFunc
		wantErr bool
	}{
		{name: "defaults"},
		{
			name: "invalid risk level",
			opts: []proxyguard.ConfigOptionFunc{
				proxyguard.WithMaxRiskLevel(safety.RiskCritical + 1),
			},
			wantErr: true,
		},
		{
			name: "negative ttl",
			opts: []proxyguard.ConfigOptionFunc{
				proxyguard.WithProposalTTL(-time.Hour),
			},
			wantErr: true,
		},
		{
			name: "stdout tracing without tracing",
			opts: []proxyguard.ConfigOptionFunc{
				proxyguard.WithTracingStdout(true),
			},
			wantErr: true,
		},
		{
			name: "nil logger",
			opts: []proxyguard.ConfigOptionFunc{
				proxyguard.WithLogger(nil),
			},
			wantErr: true,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			p, err := proxyguard.New(proxyguard.NewConfig(testDef.opts...))
			if testDef.wantErr {
				assert.Error(t, err)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, p.Close())
		})
	}
}

func TestProxyUpgradeLifecycle(t *testing.T) {
	promRegistry := prometheus.NewRegistry()
	p, err := proxyguard.New(
		proxyguard.NewConfig(
			proxyguard.WithPrometheusRegistry(promRegistry),
		),
	)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(
		t,
		[]string{payments.RefV1, payments.RefV2},
		p.Registry().Refs(),
	)

	_, executedCh := p.EventBus().Subscribe(event.UpgradeExecutedEventType)

	ctx := context.Background()
	coord := p.Coordinator()
	require.NoError(t, coord.Init(ctx, governance.InitParams{
		Admins:                []string{"alice"},
		Threshold:             1,
		InitialImplementation: payments.RefV1,
	}))

	args, err := payments.EncodeTransferRequest("alice", "bob", 10000)
	require.NoError(t, err)
	_, err = coord.Forward(
		ctx,
		implementation.Call{Function: payments.FunctionTransfer, Args: args},
	)
	require.NoError(t, err)

	id, err := coord.ProposeUpgrade(
		ctx,
		"alice",
		payments.RefV2,
		governance.ProposalMetadata{Strategy: models.MigrationStrategyDirect},
	)
	require.NoError(t, err)
	require.NoError(t, coord.ApproveUpgrade(ctx, id, "alice"))
	result, err := coord.ExecuteUpgrade(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, result.Migration)
	assert.Equal(t, models.MigrationStatusCompleted, result.Migration.Status)

	select {
	case evt := <-executedCh:
		data, ok := evt.Data.(event.UpgradeExecutedEvent)
		require.True(t, ok)
		assert.Equal(t, payments.RefV2, data.Current)
		assert.Equal(t, payments.RefV1, data.Previous)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for upgrade event")
	}

	idArgs, err := payments.EncodeTransferID(0)
	require.NoError(t, err)
	ret, err := coord.Forward(
		ctx,
		implementation.Call{Function: payments.FunctionGet, Args: idArgs},
	)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), ret.(*payments.Transfer).Fee)

	families, err := promRegistry.Gather()
	require.NoError(t, err)
	var found bool
	for _, family := range families {
		if family.GetName() == "proxyguard_upgrade_attempts_total" {
			found = true
		}
	}
	assert.True(t, found, "upgrade metrics not registered")
}
