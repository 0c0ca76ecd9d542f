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

	"go.opentelemetry.io/otel/attribute"

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/implementation"
	"github.com/blinklabs-io/proxyguard/proxyerr"
)

// Forward delegates a call to the active implementation. Pending items of a
// lazy migration that the call lists, or that the implementation derives
// from it, are transformed first. Errors returned by
// the implementation are passed through unchanged
func (c *Coordinator) Forward(
	ctx context.Context,
	call implementation.Call,
) (result any, err error) {
	ctx, span := c.startSpan(
		ctx,
		"Forward",
		attribute.String("function", call.Function),
		attribute.Int("items", len(call.Items)),
	)
	defer func() { endSpan(span, err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	var touched uint64
	var lazy *models.MigrationRecord
	err = c.update(func(txn *database.Txn) error {
		cfg, err := c.loadConfig(txn)
		if err != nil {
			return err
		}
		if !cfg.HasImplementation() {
			return proxyerr.ErrImplementationNotSet
		}
		impl, err := c.resolve(cfg.ActiveImplementation)
		if err != nil {
			return err
		}
		if items := implementation.ItemsOf(impl, call); len(items) > 0 {
			lazy, touched, err = c.touchItems(ctx, txn, cfg.ActiveImplementation, items)
			if err != nil {
				return err
			}
		}
		result, err = impl.Invoke(ctx, txn.DB().State(txn), call)
		return err
	})
	if err != nil {
		return nil, err
	}
	if touched > 0 {
		c.monitoring.ObserveMigratedItems(touched)
		c.publishProgress(lazy)
	}
	return result, nil
}

// touchItems transforms the pending items of the lazy migration into the
// active implementation, if there is one
func (c *Coordinator) touchItems(
	ctx context.Context,
	txn *database.Txn,
	active string,
	items []uint64,
) (*models.MigrationRecord, uint64, error) {
	record, err := c.migrations.LatestForImplementation(txn, active)
	if err != nil {
		return nil, 0, err
	}
	if record == nil ||
		record.Strategy != models.MigrationStrategyLazy ||
		record.Status != models.MigrationStatusInProgress {
		return nil, 0, nil
	}
	step, err := c.step(txn, record.PrevImplementation, record.NewImplementation)
	if err != nil {
		return nil, 0, err
	}
	var touched uint64
	for _, item := range items {
		ok, err := c.migrations.TouchItem(ctx, txn, record.ID, item, step)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			touched++
		}
	}
	if touched == 0 {
		return record, 0, nil
	}
	record, err = c.migrations.Get(txn, record.ID)
	if err != nil {
		return nil, 0, err
	}
	return record, touched, nil
}
