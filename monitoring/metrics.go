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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamePrefix = "proxyguard_upgrade_"

type upgradeMetrics struct {
	attemptsTotal   *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	migratedItems   prometheus.Counter
	activeVersion   prometheus.Gauge
	healthStatus    prometheus.Gauge
	failureStreak   prometheus.Gauge
	forecastPercent prometheus.Gauge
}

func (e *Engine) registerMetrics(registry prometheus.Registerer) {
	if registry == nil {
		return
	}
	promautoFactory := promauto.With(registry)
	e.metrics = &upgradeMetrics{
		attemptsTotal: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "attempts_total",
				Help: "Total number of finalized upgrade and rollback attempts",
			},
			[]string{"kind", "result"},
		),
		duration: promautoFactory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricNamePrefix + "duration_seconds",
				Help:    "Duration of finalized upgrade and rollback attempts",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"kind"},
		),
		migratedItems: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: metricNamePrefix + "migrated_items_total",
			Help: "Total number of items transformed by migrations",
		}),
		activeVersion: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: metricNamePrefix + "active_version",
			Help: "Version number of the active implementation",
		}),
		healthStatus: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: metricNamePrefix + "health_status",
			Help: "Result of the last health check (0=healthy, 1=degraded, 2=critical)",
		}),
		failureStreak: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: metricNamePrefix + "failure_streak",
			Help: "Number of consecutive failed attempts",
		}),
		forecastPercent: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: metricNamePrefix + "forecast_success_percent",
			Help: "Forecast success likelihood of the next attempt",
		}),
	}
}

// ObserveMigratedItems counts items transformed by a migration step
func (e *Engine) ObserveMigratedItems(count uint64) {
	if e.metrics == nil || count == 0 {
		return
	}
	e.metrics.migratedItems.Add(float64(count))
}

// SetActiveVersion exports the version of the active implementation
func (e *Engine) SetActiveVersion(version uint64) {
	if e.metrics == nil {
		return
	}
	e.metrics.activeVersion.Set(float64(version))
}

func (e *Engine) observeAttempt(kind string, success bool, seconds float64) {
	if e.metrics == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	e.metrics.attemptsTotal.WithLabelValues(kind, result).Inc()
	e.metrics.duration.WithLabelValues(kind).Observe(seconds)
}

func (e *Engine) observeHealth(result *HealthCheckResult) {
	if e.metrics == nil {
		return
	}
	e.metrics.healthStatus.Set(float64(result.Status))
	e.metrics.failureStreak.Set(float64(result.FailureStreak))
	e.metrics.forecastPercent.Set(float64(result.Forecast))
}
