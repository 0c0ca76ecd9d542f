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

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/blinklabs-io/proxyguard/safety"
)

type ctxKey string

const configContextKey ctxKey = "proxyguard.config"

const (
	DefaultShutdownTimeout = "30s"
	DefaultProposalTTL     = "720h"
	DefaultMaxRiskLevel    = "high"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type tempConfig struct {
	Config yaml.Node `yaml:"config,omitempty"`
}

type Config struct {
	DatabasePath    string `yaml:"databasePath"    split_words:"true"`
	BindAddr        string `yaml:"bindAddr"        split_words:"true"`
	MaxRiskLevel    string `yaml:"maxRiskLevel"    split_words:"true"`
	ProposalTTL     string `yaml:"proposalTTL"     envconfig:"PROPOSAL_TTL"`
	ShutdownTimeout string `yaml:"shutdownTimeout" split_words:"true"`
	// Identity is the caller identity used by the CLI for governance calls
	Identity string `yaml:"identity"`
	// Signers restricts which identities count as having signed a request.
	// Empty trusts every caller
	Signers       []string `yaml:"signers"`
	ApiPort       uint     `yaml:"apiPort"       split_words:"true"`
	MetricsPort   uint     `yaml:"metricsPort"   split_words:"true"`
	HealthGate    bool     `yaml:"healthGate"    split_words:"true"`
	Tracing       bool     `yaml:"tracing"`
	TracingStdout bool     `yaml:"tracingStdout" split_words:"true"`
}

// Validate checks the values that need parsing
func (c *Config) Validate() error {
	var err error
	if _, parseErr := c.RiskLevel(); parseErr != nil {
		err = errors.Join(err, parseErr)
	}
	if _, parseErr := c.ProposalTTLDuration(); parseErr != nil {
		err = errors.Join(err, parseErr)
	}
	if _, parseErr := c.ShutdownTimeoutDuration(); parseErr != nil {
		err = errors.Join(err, parseErr)
	}
	if c.TracingStdout && !c.Tracing {
		err = errors.Join(err, errors.New("tracingStdout requires tracing"))
	}
	return err
}

// RiskLevel returns the parsed maximum upgrade risk
func (c *Config) RiskLevel() (safety.RiskLevel, error) {
	return safety.ParseRiskLevel(c.MaxRiskLevel)
}

// ProposalTTLDuration returns the parsed proposal TTL. An empty value
// disables expiry
func (c *Config) ProposalTTLDuration() (time.Duration, error) {
	if c.ProposalTTL == "" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(c.ProposalTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid proposalTTL: %w", err)
	}
	if ttl < 0 {
		return 0, fmt.Errorf("invalid proposalTTL: %s", c.ProposalTTL)
	}
	return ttl, nil
}

func (c *Config) ShutdownTimeoutDuration() (time.Duration, error) {
	timeout, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid shutdownTimeout: %w", err)
	}
	return timeout, nil
}

var globalConfig = &Config{
	DatabasePath:    ".proxyguard",
	BindAddr:        "0.0.0.0",
	MaxRiskLevel:    DefaultMaxRiskLevel,
	ProposalTTL:     DefaultProposalTTL,
	ShutdownTimeout: DefaultShutdownTimeout,
	ApiPort:         8080,
	MetricsPort:     12798,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.proxyguard/proxyguard.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".proxyguard", "proxyguard.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/proxyguard/proxyguard.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/proxyguard/proxyguard.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}

		var tempCfg tempConfig
		err = yaml.Unmarshal(buf, &tempCfg)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}

		// If config section exists, use it for main config
		if !tempCfg.Config.IsZero() {
			// Overlay config values onto existing defaults
			err = tempCfg.Config.Decode(globalConfig)
			if err != nil {
				return nil, fmt.Errorf("error parsing config section: %w", err)
			}
		} else {
			err = yaml.Unmarshal(buf, globalConfig)
			if err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}
	}
	// Process environment variables
	err := envconfig.Process("proxyguard", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}
	if err := globalConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
