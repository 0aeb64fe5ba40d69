package backoff

import (
	"testing"
	"time"

	"github.com/stablereq/stablereq/pkg/models"
)

func TestComputeStrategies(t *testing.T) {
	tests := []struct {
		name     string
		strategy models.RetryStrategy
		attempt  int
		want     time.Duration
	}{
		{"fixed first", models.StrategyFixed, 1, 100 * time.Millisecond},
		{"fixed third", models.StrategyFixed, 3, 100 * time.Millisecond},
		{"linear first", models.StrategyLinear, 1, 100 * time.Millisecond},
		{"linear third", models.StrategyLinear, 3, 300 * time.Millisecond},
		{"exponential first", models.StrategyExponential, 1, 100 * time.Millisecond},
		{"exponential second", models.StrategyExponential, 2, 200 * time.Millisecond},
		{"exponential fourth", models.StrategyExponential, 4, 800 * time.Millisecond},
		{"unknown falls back to fixed", models.RetryStrategy("BOGUS"), 2, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.strategy, tt.attempt, 100, 60000, 0)
			if got != tt.want {
				t.Fatalf("Compute(%s, attempt %d) = %v, want %v", tt.strategy, tt.attempt, got, tt.want)
			}
		})
	}
}

func TestComputeCapsAtMaxAllowedWait(t *testing.T) {
	got := Compute(models.StrategyExponential, 20, 1000, 5000, 0)
	if got != 5*time.Second {
		t.Fatalf("expected cap at 5s, got %v", got)
	}
}

func TestComputeJitterStaysInBounds(t *testing.T) {
	const jitter = 0.5
	for i := 0; i < 200; i++ {
		got := Compute(models.StrategyFixed, 1, 1000, 60000, jitter)
		if got < 500*time.Millisecond || got > 1500*time.Millisecond {
			t.Fatalf("jittered delay %v outside [500ms, 1500ms]", got)
		}
	}
}
