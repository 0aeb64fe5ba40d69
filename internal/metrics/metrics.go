// Package metrics assembles the request engine's result metrics from the
// recorded attempt timings and evaluates them against caller-supplied
// guardrails.
package metrics

import (
	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/stablereq/stablereq/pkg/models"
)

// newHistogram tracks attempt latency at microsecond resolution, from 1us
// to 30s, 3 significant figures.
func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(1, 30_000_000, 3)
}

// Aggregator accumulates per-attempt execution times across one engine
// invocation and derives the final EngineMetrics record.
type Aggregator struct {
	histogram          *hdrhistogram.Histogram
	totalAttempts      int
	successfulAttempts int
	failedAttempts     int
	totalExecutionMs   int64
	fromCache          bool
}

// New constructs an empty aggregator.
func New() *Aggregator {
	return &Aggregator{histogram: newHistogram()}
}

// RecordAttempt folds one attempt's outcome and timing into the aggregator.
func (a *Aggregator) RecordAttempt(ok bool, executionTimeMs int64, fromCache bool) {
	a.totalAttempts++
	a.totalExecutionMs += executionTimeMs
	if ok {
		a.successfulAttempts++
	} else {
		a.failedAttempts++
	}
	if fromCache {
		a.fromCache = true
	}
	// hdrhistogram works in integer counts; record microseconds so
	// sub-millisecond attempts still resolve.
	_ = a.histogram.RecordValue(executionTimeMs * 1000)
}

// Guardrail is a (min, max, expected±tolerance) bound evaluated against a
// named metric.
type Guardrail struct {
	Metric      string
	Min         float64
	Max         float64
	Expected    float64
	Tolerance   float64
	HasMin      bool
	HasMax      bool
	HasExpected bool
}

// Evaluate checks value against the guardrail's bounds, reporting the
// anomaly record and whether the bound was broken.
func (g Guardrail) Evaluate(value float64) (models.GuardrailAnomaly, bool) {
	switch {
	case g.HasMin && value < g.Min:
		return models.GuardrailAnomaly{Metric: g.Metric, Value: value, Min: g.Min, Severity: "major"}, true
	case g.HasMax && value > g.Max:
		return models.GuardrailAnomaly{Metric: g.Metric, Value: value, Max: g.Max, Severity: "major"}, true
	case g.HasExpected && (value < g.Expected-g.Tolerance || value > g.Expected+g.Tolerance):
		return models.GuardrailAnomaly{Metric: g.Metric, Value: value, Expected: g.Expected, Severity: "minor"}, true
	}
	return models.GuardrailAnomaly{}, false
}

// Snapshot builds the final metrics record. breakerState is the empty string
// when no breaker is attached.
func (a *Aggregator) Snapshot(breakerState models.BreakerStateName, guardrails []Guardrail) models.EngineMetrics {
	m := models.EngineMetrics{
		TotalAttempts:        a.totalAttempts,
		SuccessfulAttempts:   a.successfulAttempts,
		FailedAttempts:       a.failedAttempts,
		TotalExecutionTimeMs: a.totalExecutionMs,
		FromCache:            a.fromCache,
		BreakerState:         breakerState,
	}

	if a.histogram.TotalCount() > 0 {
		m.P50Ms = float64(a.histogram.ValueAtQuantile(50)) / 1000
		m.P90Ms = float64(a.histogram.ValueAtQuantile(90)) / 1000
		m.P99Ms = float64(a.histogram.ValueAtQuantile(99)) / 1000
		m.MaxMs = float64(a.histogram.Max()) / 1000
		m.MinMs = float64(a.histogram.Min()) / 1000
	}

	for _, g := range guardrails {
		var value float64
		switch g.Metric {
		case "p50Ms":
			value = m.P50Ms
		case "p90Ms":
			value = m.P90Ms
		case "p99Ms":
			value = m.P99Ms
		case "totalAttempts":
			value = float64(m.TotalAttempts)
		case "failedAttempts":
			value = float64(m.FailedAttempts)
		default:
			continue
		}
		if anomaly, broke := g.Evaluate(value); broke {
			m.Anomalies = append(m.Anomalies, anomaly)
		}
	}

	return m
}
