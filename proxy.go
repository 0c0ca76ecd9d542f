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

// Package proxyguard wires the upgrade governance of a proxied
// implementation to its storage, event bus and tracing.
package proxyguard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/event"
	"github.com/blinklabs-io/proxyguard/governance"
	"github.com/blinklabs-io/proxyguard/implementation"
	"github.com/blinklabs-io/proxyguard/implementation/payments"
)

type Proxy struct {
	db            *database.Database
	eventBus      *event.EventBus
	coordinator   *governance.Coordinator
	registry      *implementation.Registry
	shutdownFuncs []func(context.Context) error
	config        Config
	closeOnce     sync.Once
}

// New opens the database and builds the governance coordinator
func New(cfg Config) (*Proxy, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	p := &Proxy{
		config:   cfg,
		registry: cfg.registry,
	}
	// Configure tracing
	if cfg.tracing {
		if err := p.setupTracing(); err != nil {
			return nil, err
		}
	}
	// Load database
	db, err := database.New(&database.Config{
		DataDir:      cfg.dataDir,
		Logger:       cfg.logger,
		PromRegistry: cfg.promRegistry,
	})
	if db == nil {
		cfg.logger.Error(
			"failed to create database",
			"error",
			"empty database returned",
		)
		return nil, errors.Join(
			fmt.Errorf("failed to open database: %w", err),
			p.runShutdownFuncs(),
		)
	}
	p.db = db
	if err != nil {
		var dbErr database.CommitTimestampError
		if !errors.As(err, &dbErr) {
			return nil, errors.Join(
				fmt.Errorf("failed to open database: %w", err),
				p.Close(),
			)
		}
		cfg.logger.Warn(
			"database initialization error, needs recovery",
			"error",
			err,
		)
	}
	if p.registry == nil {
		p.registry = implementation.NewRegistry()
		if err := payments.Register(p.registry); err != nil {
			return nil, errors.Join(err, p.Close())
		}
	}
	p.eventBus = event.NewEventBus(cfg.promRegistry, cfg.logger)
	coordinator, err := governance.New(governance.Config{
		Logger:       cfg.logger,
		Clock:        cfg.clock,
		Database:     p.db,
		Registry:     p.registry,
		Signer:       cfg.signer,
		EventBus:     p.eventBus,
		PromRegistry: cfg.promRegistry,
		MaxRiskLevel: cfg.maxRiskLevel,
		ProposalTTL:  cfg.proposalTTL,
		HealthGate:   cfg.healthGate,
	})
	if err != nil {
		return nil, errors.Join(err, p.Close())
	}
	p.coordinator = coordinator
	return p, nil
}

// Coordinator returns the governance coordinator
func (p *Proxy) Coordinator() *governance.Coordinator {
	return p.coordinator
}

// EventBus returns the bus that governance events are published on
func (p *Proxy) EventBus() *event.EventBus {
	return p.eventBus
}

// Registry returns the implementations the proxy dispatches to
func (p *Proxy) Registry() *implementation.Registry {
	return p.registry
}

// Close stops the event bus, closes the database and flushes traces
func (p *Proxy) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.config.logger.Debug("shutting down")
		if p.eventBus != nil {
			p.eventBus.Stop()
		}
		if p.db != nil {
			if closeErr := p.db.Close(); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
			}
		}
		err = errors.Join(err, p.runShutdownFuncs())
	})
	return err
}

func (p *Proxy) runShutdownFuncs() error {
	timeout := p.config.shutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var err error
	for _, fn := range p.shutdownFuncs {
		err = errors.Join(err, fn(ctx))
	}
	p.shutdownFuncs = nil
	return err
}
