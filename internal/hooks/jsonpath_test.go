package hooks

import (
	"context"
	"testing"
)

func TestJSONPathAnalyzerAcceptsMatchingAssertions(t *testing.T) {
	analyzer := JSONPathAnalyzer([]JSONPathAssertion{
		{Path: "status", Expected: "ok"},
		{Path: "count", Expected: float64(2)},
	})

	accept, err := analyzer(context.Background(), []byte(`{"status":"ok","count":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accept != true {
		t.Fatalf("expected accept=true, got %v", accept)
	}
}

func TestJSONPathAnalyzerRejectsMismatch(t *testing.T) {
	analyzer := JSONPathAnalyzer([]JSONPathAssertion{
		{Path: "status", Expected: "ok"},
	})

	accept, err := analyzer(context.Background(), []byte(`{"status":"degraded"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accept != false {
		t.Fatalf("expected accept=false, got %v", accept)
	}
}

func TestJSONPathAnalyzerErrorsWithoutBody(t *testing.T) {
	analyzer := JSONPathAnalyzer([]JSONPathAssertion{{Path: "status", Expected: "ok"}})

	if _, err := analyzer(context.Background(), "not a body"); err == nil {
		t.Fatal("expected an error for an input with no extractable body")
	}
}
