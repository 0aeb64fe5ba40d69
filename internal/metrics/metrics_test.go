package metrics

import "testing"

func TestSnapshotCountsAndPercentiles(t *testing.T) {
	a := New()
	a.RecordAttempt(false, 10, false)
	a.RecordAttempt(false, 20, false)
	a.RecordAttempt(true, 30, false)

	m := a.Snapshot("", nil)
	if m.TotalAttempts != 3 || m.SuccessfulAttempts != 1 || m.FailedAttempts != 2 {
		t.Fatalf("unexpected counts: %+v", m)
	}
	if m.TotalExecutionTimeMs != 60 {
		t.Fatalf("expected 60ms total execution, got %d", m.TotalExecutionTimeMs)
	}
	if m.MaxMs < m.MinMs {
		t.Fatalf("expected max >= min, got max=%v min=%v", m.MaxMs, m.MinMs)
	}
	if m.P99Ms < m.P50Ms {
		t.Fatalf("expected p99 >= p50, got p99=%v p50=%v", m.P99Ms, m.P50Ms)
	}
}

func TestGuardrailMaxViolation(t *testing.T) {
	a := New()
	for i := 0; i < 5; i++ {
		a.RecordAttempt(false, 100, false)
	}

	m := a.Snapshot("", []Guardrail{
		{Metric: "failedAttempts", Max: 2, HasMax: true},
	})
	if len(m.Anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(m.Anomalies))
	}
	if m.Anomalies[0].Metric != "failedAttempts" {
		t.Fatalf("unexpected anomaly metric %q", m.Anomalies[0].Metric)
	}
}

func TestGuardrailExpectedTolerance(t *testing.T) {
	a := New()
	a.RecordAttempt(true, 10, false)
	a.RecordAttempt(true, 10, false)

	within := a.Snapshot("", []Guardrail{
		{Metric: "totalAttempts", Expected: 3, Tolerance: 1, HasExpected: true},
	})
	if len(within.Anomalies) != 0 {
		t.Fatalf("expected no anomaly inside tolerance, got %+v", within.Anomalies)
	}

	outside := a.Snapshot("", []Guardrail{
		{Metric: "totalAttempts", Expected: 10, Tolerance: 1, HasExpected: true},
	})
	if len(outside.Anomalies) != 1 {
		t.Fatalf("expected 1 anomaly outside tolerance, got %+v", outside.Anomalies)
	}
}

func TestGuardrailUnknownMetricIgnored(t *testing.T) {
	a := New()
	a.RecordAttempt(true, 10, false)

	m := a.Snapshot("", []Guardrail{{Metric: "nope", Max: 0, HasMax: true}})
	if len(m.Anomalies) != 0 {
		t.Fatalf("expected unknown metric to be skipped, got %+v", m.Anomalies)
	}
}
