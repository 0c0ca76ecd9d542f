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
	"math"
	"slices"

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/proxyerr"
)

// TrendWindow is the number of most recent attempts considered for trends
const TrendWindow = 10

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

type TrendAnalysis struct {
	SuccessTrend  Trend  `json:"successTrend"`
	DurationTrend Trend  `json:"durationTrend"`
	GasTrend      Trend  `json:"gasTrend"`
	Samples       int    `json:"samples"`
	Forecast      uint32 `json:"forecast"`
}

// AnalyzeTrends compares the older and newer halves of the recent window
func (e *Engine) AnalyzeTrends(txn *database.Txn) (*TrendAnalysis, error) {
	window, err := e.window(txn)
	if err != nil {
		return nil, err
	}
	return analyzeTrends(window), nil
}

// ForecastSuccessRate projects the success likelihood of the next attempt as
// a percentage
func (e *Engine) ForecastSuccessRate(txn *database.Txn) (uint32, error) {
	window, err := e.window(txn)
	if err != nil {
		return 0, err
	}
	return forecast(successSeries(window)), nil
}

// window returns the most recent finalized records, oldest first
func (e *Engine) window(txn *database.Txn) ([]models.MetricsRecord, error) {
	records, err := txn.DB().GetFinalizedMetricsRecords(TrendWindow, txn)
	if err != nil {
		return nil, proxyerr.Storagef(err, "list metrics records")
	}
	slices.Reverse(records)
	return records, nil
}

func analyzeTrends(window []models.MetricsRecord) *TrendAnalysis {
	success := successSeries(window)
	durations := make([]float64, len(window))
	gas := make([]float64, len(window))
	for i, record := range window {
		durations[i] = record.Duration().Seconds()
		gas[i] = float64(record.GasUsed)
	}
	return &TrendAnalysis{
		Samples:       len(window),
		SuccessTrend:  direction(success, true),
		DurationTrend: direction(durations, false),
		GasTrend:      direction(gas, false),
		Forecast:      forecast(success),
	}
}

func successSeries(window []models.MetricsRecord) []float64 {
	ret := make([]float64, len(window))
	for i, record := range window {
		if record.Success {
			ret[i] = 1
		}
	}
	return ret
}

// direction compares the mean of the second half of a series to the first.
// higherIsBetter selects which way counts as improving
func direction(series []float64, higherIsBetter bool) Trend {
	if len(series) < 2 {
		return TrendStable
	}
	half := len(series) / 2
	first := mean(series[:half])
	second := mean(series[len(series)-half:])
	const epsilon = 1e-9
	switch {
	case math.Abs(second-first) < epsilon:
		return TrendStable
	case (second > first) == higherIsBetter:
		return TrendImproving
	default:
		return TrendDeclining
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// forecast fits a least-squares line through the success series and
// evaluates it at the next attempt
func forecast(series []float64) uint32 {
	n := len(series)
	if n == 0 {
		return 100
	}
	var projected float64
	if n == 1 {
		projected = series[0]
	} else {
		var sumX, sumY, sumXY, sumXX float64
		for i, y := range series {
			x := float64(i)
			sumX += x
			sumY += y
			sumXY += x * y
			sumXX += x * x
		}
		fn := float64(n)
		slope := (fn*sumXY - sumX*sumY) / (fn*sumXX - sumX*sumX)
		intercept := (sumY - slope*sumX) / fn
		projected = intercept + slope*fn
	}
	percent := math.Round(projected * 100)
	return uint32(min(max(percent, 0), 100))
}
