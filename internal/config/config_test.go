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
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/blinklabs-io/proxyguard/safety"
)

func defaultConfig() *Config {
	return &Config{
		DatabasePath:    ".proxyguard",
		BindAddr:        "0.0.0.0",
		MaxRiskLevel:    DefaultMaxRiskLevel,
		ProposalTTL:     DefaultProposalTTL,
		ShutdownTimeout: DefaultShutdownTimeout,
		ApiPort:         8080,
		MetricsPort:     12798,
	}
}

func resetGlobalConfig() {
	globalConfig = defaultConfig()
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpFile := filepath.Join(t.TempDir(), "test-proxyguard.yaml")
	if err := os.WriteFile(tmpFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return tmpFile
}

func TestLoad_WithoutConfigFile_UsesDefaults(t *testing.T) {
	resetGlobalConfig()

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !reflect.DeepEqual(cfg, defaultConfig()) {
		t.Errorf(
			"config mismatch without file:\nExpected: %+v\nGot:      %+v",
			defaultConfig(),
			cfg,
		)
	}
}

func TestLoad_CompareFullStruct(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfigFile(t, `
databasePath: "/var/lib/proxyguard"
bindAddr: "127.0.0.1"
maxRiskLevel: "medium"
proposalTTL: "48h"
shutdownTimeout: "10s"
identity: "alice"
signers:
  - alice
  - bob
apiPort: 9000
metricsPort: 9001
healthGate: true
tracing: true
tracingStdout: true
`)

	expected := &Config{
		DatabasePath:    "/var/lib/proxyguard",
		BindAddr:        "127.0.0.1",
		MaxRiskLevel:    "medium",
		ProposalTTL:     "48h",
		ShutdownTimeout: "10s",
		Identity:        "alice",
		Signers:         []string{"alice", "bob"},
		ApiPort:         9000,
		MetricsPort:     9001,
		HealthGate:      true,
		Tracing:         true,
		TracingStdout:   true,
	}

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !reflect.DeepEqual(cfg, expected) {
		t.Errorf(
			"config mismatch:\nExpected: %+v\nGot:      %+v",
			expected,
			cfg,
		)
	}
}

func TestLoad_ConfigSectionOverlaysDefaults(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfigFile(t, `
config:
  identity: "carol"
  apiPort: 9999
`)

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Identity != "carol" || cfg.ApiPort != 9999 {
		t.Errorf("config section not applied: %+v", cfg)
	}
	if cfg.DatabasePath != ".proxyguard" || cfg.MetricsPort != 12798 {
		t.Errorf("defaults not preserved: %+v", cfg)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfigFile(t, `
identity: "alice"
maxRiskLevel: "low"
`)
	t.Setenv("PROXYGUARD_IDENTITY", "bob")
	t.Setenv("PROXYGUARD_MAX_RISK_LEVEL", "critical")
	t.Setenv("PROXYGUARD_PROPOSAL_TTL", "1h")

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Identity != "bob" {
		t.Errorf("expected identity bob, got %q", cfg.Identity)
	}
	level, err := cfg.RiskLevel()
	if err != nil || level != safety.RiskCritical {
		t.Errorf("expected critical risk level, got %v (%v)", level, err)
	}
	ttl, err := cfg.ProposalTTLDuration()
	if err != nil || ttl != time.Hour {
		t.Errorf("expected 1h TTL, got %v (%v)", ttl, err)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	testDefs := []struct {
		name    string
		content string
	}{
		{name: "risk level", content: `maxRiskLevel: "extreme"`},
		{name: "proposal ttl", content: `proposalTTL: "soon"`},
		{name: "negative proposal ttl", content: `proposalTTL: "-1h"`},
		{name: "shutdown timeout", content: `shutdownTimeout: "later"`},
		{name: "stdout tracing", content: `tracingStdout: true`},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			resetGlobalConfig()
			if _, err := LoadConfig(writeConfigFile(t, testDef.content)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestProposalTTLEmptyDisablesExpiry(t *testing.T) {
	cfg := defaultConfig()
	cfg.ProposalTTL = ""
	ttl, err := cfg.ProposalTTLDuration()
	if err != nil || ttl != 0 {
		t.Errorf("expected zero TTL, got %v (%v)", ttl, err)
	}
}

func TestContext(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Fatal("expected no config in empty context")
	}
	cfg := defaultConfig()
	if FromContext(WithContext(context.Background(), cfg)) != cfg {
		t.Fatal("expected config from context")
	}
}
