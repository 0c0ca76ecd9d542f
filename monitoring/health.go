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
	"errors"
	"fmt"
	"time"

	"github.com/blinklabs-io/proxyguard/database"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/proxyerr"
)

type HealthStatus uint8

const (
	HealthHealthy HealthStatus = iota
	HealthDegraded
	HealthCritical
)

func (s HealthStatus) String() string {
	switch s {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthCritical:
		return "Critical"
	}
	return fmt.Sprintf("HealthStatus(%d)", uint8(s))
}

func (s HealthStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *HealthStatus) UnmarshalText(data []byte) error {
	for _, status := range []HealthStatus{HealthHealthy, HealthDegraded, HealthCritical} {
		if status.String() == string(data) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("invalid health status: %q", string(data))
}

type Recommendation string

const (
	RecommendContinue Recommendation = "continue"
	RecommendCaution  Recommendation = "caution"
	RecommendHalt     Recommendation = "halt"
)

const (
	latencySamples = 3

	CriticalFailureStreak = 3
	CriticalForecast      = 50
	CriticalLatency       = 500 * time.Millisecond
	DegradedForecast      = 80
	DegradedLatency       = 100 * time.Millisecond

	// HealthHorizon bounds how far back attempts count toward health
	HealthHorizon = 24 * time.Hour
)

type HealthCheckResult struct {
	CheckedAt      time.Time      `json:"checkedAt"`
	Recommendation Recommendation `json:"recommendation"`
	Reasons        []string       `json:"reasons,omitempty"`
	Latency        time.Duration  `json:"latency"`
	FailureStreak  int            `json:"failureStreak"`
	Forecast       uint32         `json:"forecast"`
	Status         HealthStatus   `json:"status"`
}

// HealthCheck combines the success forecast, the current failure streak and
// sampled storage latency into a status and recommendation
func (e *Engine) HealthCheck(txn *database.Txn) (*HealthCheckResult, error) {
	window, err := e.window(txn)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	window = endedSince(window, now.Add(-HealthHorizon))
	latency, err := e.sampleLatency(txn)
	if err != nil {
		return nil, err
	}
	result := &HealthCheckResult{
		CheckedAt:     now,
		Forecast:      forecast(successSeries(window)),
		FailureStreak: failureStreak(window),
		Latency:       latency,
	}
	classify(result)
	e.observeHealth(result)
	if result.Status != HealthHealthy {
		e.logger.Warn(
			"upgrade health check",
			"component", "monitoring",
			"status", result.Status.String(),
			"reasons", result.Reasons,
		)
	}
	return result, nil
}

func classify(result *HealthCheckResult) {
	var critical, degraded []string
	switch {
	case result.FailureStreak >= CriticalFailureStreak:
		critical = append(critical, fmt.Sprintf("%d consecutive failures", result.FailureStreak))
	case result.FailureStreak >= 1:
		degraded = append(degraded, fmt.Sprintf("%d consecutive failures", result.FailureStreak))
	}
	switch {
	case result.Forecast < CriticalForecast:
		critical = append(critical, fmt.Sprintf("forecast %d%%", result.Forecast))
	case result.Forecast < DegradedForecast:
		degraded = append(degraded, fmt.Sprintf("forecast %d%%", result.Forecast))
	}
	switch {
	case result.Latency > CriticalLatency:
		critical = append(critical, "storage latency "+result.Latency.String())
	case result.Latency > DegradedLatency:
		degraded = append(degraded, "storage latency "+result.Latency.String())
	}
	switch {
	case len(critical) > 0:
		result.Status = HealthCritical
		result.Recommendation = RecommendHalt
		result.Reasons = critical
	case len(degraded) > 0:
		result.Status = HealthDegraded
		result.Recommendation = RecommendCaution
		result.Reasons = degraded
	default:
		result.Status = HealthHealthy
		result.Recommendation = RecommendContinue
	}
}

// endedSince drops the attempts of an oldest-first window that ended before
// since
func endedSince(window []models.MetricsRecord, since time.Time) []models.MetricsRecord {
	for i, record := range window {
		if record.EndedAt != nil && !record.EndedAt.Before(since) {
			return window[i:]
		}
	}
	return nil
}

// failureStreak counts consecutive failures at the end of the window
func failureStreak(window []models.MetricsRecord) int {
	streak := 0
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Success {
			break
		}
		streak++
	}
	return streak
}

// sampleLatency times a few reads of the history head and returns the slowest
func (e *Engine) sampleLatency(txn *database.Txn) (time.Duration, error) {
	db := txn.DB()
	var slowest time.Duration
	for range latencySamples {
		start := e.clock.Now()
		if _, err := db.GetLatestImplementationRecord(txn); err != nil &&
			!errors.Is(err, models.ErrImplementationRecordNotFound) {
			return 0, proxyerr.Storagef(err, "sample storage latency")
		}
		slowest = max(slowest, e.clock.Now().Sub(start))
	}
	return slowest, nil
}
