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

package models

import "time"

// GovernanceConfigRowId is the fixed row holding the governance configuration
const GovernanceConfigRowId = 1

// GovernanceConfig is the single configuration record created by init.
// The absence of the row means the proxy is uninitialized
type GovernanceConfig struct {
	InitializedAt        time.Time
	ActiveImplementation string `gorm:"size:128"`
	ID                   uint   `gorm:"primarykey"`
	Delay                time.Duration
	ProposalTTL          time.Duration
	Version              uint64
	Threshold            uint32 `gorm:"not null"`
}

func (GovernanceConfig) TableName() string {
	return "governance_config"
}

// HasImplementation reports whether an implementation has ever been activated
func (c *GovernanceConfig) HasImplementation() bool {
	return c.ActiveImplementation != ""
}

// Admin is one member of the admin set
type Admin struct {
	Identity string `gorm:"size:128;uniqueIndex;not null"`
	ID       uint   `gorm:"primarykey"`
	Position uint32
}

func (Admin) TableName() string {
	return "admin"
}
