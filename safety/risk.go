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

package safety

import (
	"fmt"
	"strings"
)

// RiskLevel is the ordinal risk classification of an upgrade
type RiskLevel uint8

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "Low"
	case RiskMedium:
		return "Medium"
	case RiskHigh:
		return "High"
	case RiskCritical:
		return "Critical"
	}
	return fmt.Sprintf("RiskLevel(%d)", uint8(r))
}

func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RiskLevel) UnmarshalText(data []byte) error {
	level, err := ParseRiskLevel(string(data))
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// ParseRiskLevel accepts a level name (case insensitive) or its ordinal
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "0":
		return RiskLow, nil
	case "medium", "1":
		return RiskMedium, nil
	case "high", "2":
		return RiskHigh, nil
	case "critical", "3":
		return RiskCritical, nil
	}
	return RiskLow, fmt.Errorf("invalid risk level: %q", s)
}

// riskForVersionDelta classifies the size of a schema version jump
func riskForVersionDelta(delta uint32) RiskLevel {
	switch {
	case delta > 10:
		return RiskCritical
	case delta > 5:
		return RiskHigh
	case delta > 1:
		return RiskMedium
	}
	return RiskLow
}
