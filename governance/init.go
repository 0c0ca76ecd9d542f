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
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/proxyerr"
)

type InitParams struct {
	Admins    []string
	Threshold uint32
	Delay     time.Duration
	// InitialImplementation is activated as version 0 when set
	InitialImplementation string
}

func (p InitParams) validate() error {
	if len(p.Admins) == 0 {
		return proxyerr.ErrInvalidAdmins.Withf("empty admin set")
	}
	seen := make(map[string]struct{}, len(p.Admins))
	for _, admin := range p.Admins {
		if admin == "" {
			return proxyerr.ErrInvalidAdmins.Withf("empty admin identity")
		}
		if _, ok := seen[admin]; ok {
			return proxyerr.ErrInvalidAdmins.Withf("duplicate admin %q", admin)
		}
		seen[admin] = struct{}{}
	}
	if p.Threshold == 0 || int(p.Threshold) > len(p.Admins) {
		return proxyerr.ErrInvalidThreshold.Withf(
			"threshold %d with %d admins",
			p.Threshold,
			len(p.Admins),
		)
	}
	if p.Delay < 0 {
		return proxyerr.ErrInvalidDelay.Withf("%s", p.Delay)
	}
	return nil
}

// Init creates the governance configuration. It can only run once
func (c *Coordinator) Init(ctx context.Context, params InitParams) (err error) {
	_, span := c.startSpan(
		ctx,
		"Init",
		attribute.Int("admins", len(params.Admins)),
		attribute.Int("threshold", int(params.Threshold)),
	)
	defer func() { endSpan(span, err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := params.validate(); err != nil {
		return err
	}
	var schemaVersion uint32
	if params.InitialImplementation != "" {
		impl, err := c.resolve(params.InitialImplementation)
		if err != nil {
			return err
		}
		schemaVersion = impl.SchemaVersion()
		if schemaVersion == 0 {
			return proxyerr.ErrInvalidImplementation.Withf(
				"%s declares schema version 0",
				params.InitialImplementation,
			)
		}
	}
	err = c.update(func(txn *database.Txn) error {
		db := txn.DB()
		if _, err := db.GetGovernanceConfig(txn); err == nil {
			return proxyerr.ErrAlreadyInitialized
		} else if !errors.Is(err, models.ErrGovernanceConfigNotFound) {
			return proxyerr.Storagef(err, "load governance config")
		}
		now := c.clock.Now()
		cfg := &models.GovernanceConfig{
			ID:            models.GovernanceConfigRowId,
			InitializedAt: now,
			Delay:         params.Delay,
			ProposalTTL:   c.config.ProposalTTL,
			Threshold:     params.Threshold,
		}
		if params.InitialImplementation != "" {
			cfg.ActiveImplementation = params.InitialImplementation
			genesis := &models.ImplementationRecord{
				ActivatedAt:    now,
				Implementation: params.InitialImplementation,
				Kind:           models.ImplementationKindGenesis,
				SchemaVersion:  schemaVersion,
			}
			if err := db.AddImplementationRecord(genesis, txn); err != nil {
				return proxyerr.Storagef(err, "record genesis implementation")
			}
		}
		if err := db.SetGovernanceConfig(cfg, txn); err != nil {
			return proxyerr.Storagef(err, "store governance config")
		}
		if err := db.AddAdmins(params.Admins, txn); err != nil {
			return proxyerr.Storagef(err, "store admins")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if params.InitialImplementation != "" {
		c.monitoring.SetActiveVersion(0)
	}
	c.logger.Info(
		"governance initialized",
		"component", "governance",
		"admins", len(params.Admins),
		"threshold", params.Threshold,
		"delay", params.Delay.String(),
		"implementation", params.InitialImplementation,
	)
	return nil
}
