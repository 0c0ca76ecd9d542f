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

package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForecast(t *testing.T) {
	testDefs := []struct {
		name     string
		series   []float64
		expected uint32
	}{
		{name: "no history", series: nil, expected: 100},
		{name: "single success", series: []float64{1}, expected: 100},
		{name: "single failure", series: []float64{0}, expected: 0},
		{name: "all successes", series: []float64{1, 1, 1, 1}, expected: 100},
		{name: "declining", series: []float64{1, 1, 0, 0}, expected: 0},
		{name: "recovering", series: []float64{0, 0, 1, 1}, expected: 100},
		{
			name:     "late failure",
			series:   []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 0},
			expected: 60,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			assert.Equal(t, testDef.expected, forecast(testDef.series))
		})
	}
}

func TestDirection(t *testing.T) {
	assert.Equal(t, TrendStable, direction(nil, true))
	assert.Equal(t, TrendStable, direction([]float64{1}, true))
	assert.Equal(t, TrendStable, direction([]float64{1, 1, 1}, true))
	assert.Equal(t, TrendImproving, direction([]float64{0, 1}, true))
	assert.Equal(t, TrendDeclining, direction([]float64{0, 1}, false))
	// Odd lengths leave the middle sample out
	assert.Equal(t, TrendDeclining, direction([]float64{5, 100, 1}, true))
}
