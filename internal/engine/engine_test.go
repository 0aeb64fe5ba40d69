package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stablereq/stablereq/internal/breaker"
	"github.com/stablereq/stablereq/internal/cache"
	"github.com/stablereq/stablereq/internal/hooks"
	"github.com/stablereq/stablereq/internal/metrics"
	"github.com/stablereq/stablereq/internal/persistence"
	"github.com/stablereq/stablereq/internal/transport"
	"github.com/stablereq/stablereq/pkg/models"
)

// fakeDoer replays a fixed script of responses/errors, one per call, holding
// the last entry for any call past the end of the script.
type fakeDoer struct {
	mu     sync.Mutex
	script []fakeCall
	calls  int
}

type fakeCall struct {
	resp transport.Response
	err  error
}

func (f *fakeDoer) Do(ctx context.Context, cfg transport.Config) (transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.calls++
	return f.script[i].resp, f.script[i].err
}

func (f *fakeDoer) invocations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testDescriptor() models.RequestDescriptor {
	return models.RequestDescriptor{Hostname: "example.test", Path: "/widgets"}
}

func httpErr(status int) error {
	return &transport.Error{Status: status}
}

// Two ECONNRESET failures, then a 200 succeeds on the third attempt.
func TestExecuteRetriesThenSucceeds(t *testing.T) {
	doer := &fakeDoer{script: []fakeCall{
		{err: &transport.Error{Code: "ECONNRESET"}},
		{err: &transport.Error{Code: "ECONNRESET"}},
		{resp: transport.Response{Status: 200, Data: []byte(`{"ok":true}`)}},
	}}
	e := New(doer, nil, nil, nil, Hooks{})

	result, err := e.Execute(context.Background(), testDescriptor(), Options{
		Attempts:     3,
		Wait:         1,
		LogAllErrors: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Metrics.TotalAttempts != 3 {
		t.Fatalf("expected 3 total attempts, got %d", result.Metrics.TotalAttempts)
	}
	if result.Metrics.SuccessfulAttempts != 1 {
		t.Fatalf("expected 1 successful attempt, got %d", result.Metrics.SuccessfulAttempts)
	}
	if len(result.ErrorLogs) != 2 {
		t.Fatalf("expected 2 error logs, got %d", len(result.ErrorLogs))
	}
}

// Three consecutive 500s exhaust the attempt budget.
func TestExecuteExhaustsAttemptsOnServerErrors(t *testing.T) {
	doer := &fakeDoer{script: []fakeCall{
		{err: httpErr(500)},
		{err: httpErr(500)},
		{err: httpErr(500)},
	}}
	e := New(doer, nil, nil, nil, Hooks{})

	result, err := e.Execute(context.Background(), testDescriptor(), Options{
		Attempts:     3,
		Wait:         1,
		LogAllErrors: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if len(result.ErrorLogs) != 3 {
		t.Fatalf("expected 3 error logs, got %d", len(result.ErrorLogs))
	}
	for _, entry := range result.ErrorLogs {
		if entry.Type != models.ErrorTypeHTTP {
			t.Errorf("expected HTTP_ERROR, got %s", entry.Type)
		}
		if !entry.IsRetryable {
			t.Errorf("expected 500 to be retryable")
		}
		if entry.StatusCode != 500 {
			t.Errorf("expected statusCode 500, got %d", entry.StatusCode)
		}
	}
}

// The responseAnalyzer rejects "pending" bodies until "done" arrives.
func TestExecuteResponseAnalyzerRejectsUntilDone(t *testing.T) {
	doer := &fakeDoer{script: []fakeCall{
		{resp: transport.Response{Status: 200, Data: []byte(`{"status":"pending"}`)}},
		{resp: transport.Response{Status: 200, Data: []byte(`{"status":"pending"}`)}},
		{resp: transport.Response{Status: 200, Data: []byte(`{"status":"done"}`)}},
	}}
	e := New(doer, nil, nil, nil, Hooks{
		ResponseAnalyzer: func(ctx context.Context, in ResponseAnalyzerInput) (bool, error) {
			return string(in.Data) == `{"status":"done"}`, nil
		},
	})

	result, err := e.Execute(context.Background(), testDescriptor(), Options{
		Attempts:     3,
		Wait:         1,
		LogAllErrors: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if doer.invocations() != 3 {
		t.Fatalf("expected 3 transport calls, got %d", doer.invocations())
	}
	if len(result.ErrorLogs) != 2 {
		t.Fatalf("expected 2 INVALID_CONTENT logs, got %d", len(result.ErrorLogs))
	}
	for _, entry := range result.ErrorLogs {
		if entry.Type != models.ErrorTypeInvalid {
			t.Errorf("expected INVALID_CONTENT, got %s", entry.Type)
		}
	}
}

// A cache hit on the second call never reaches the transport.
func TestExecuteServesFromCacheWithoutTransportCall(t *testing.T) {
	doer := &fakeDoer{script: []fakeCall{
		{resp: transport.Response{Status: 200, Data: []byte(`{"ok":true}`)}},
	}}
	c := cache.New(cache.Config{DefaultTTL: 10 * time.Second}, nil, persistence.Hooks{})
	e := New(doer, c, nil, nil, Hooks{})

	opts := Options{Attempts: 1, Wait: 1}

	first, err := e.Execute(context.Background(), testDescriptor(), opts)
	if err != nil || !first.Success {
		t.Fatalf("expected first call to succeed, got %+v err=%v", first, err)
	}
	second, err := e.Execute(context.Background(), testDescriptor(), opts)
	if err != nil || !second.Success {
		t.Fatalf("expected second call to succeed, got %+v err=%v", second, err)
	}
	if !second.Metrics.FromCache {
		t.Fatalf("expected second call's metrics to report fromCache=true")
	}
	if doer.invocations() != 1 {
		t.Fatalf("expected exactly 1 transport call, got %d", doer.invocations())
	}
}

// Four consecutive request failures trip the breaker; the fifth call is
// denied before the transport is ever invoked.
func TestExecuteCircuitBreakerOpensAndDeniesSubsequentCalls(t *testing.T) {
	doer := &fakeDoer{script: []fakeCall{
		{err: httpErr(500)},
		{err: httpErr(500)},
		{err: httpErr(500)},
		{err: httpErr(500)},
	}}
	b := breaker.New(breaker.Config{
		FailureThresholdPercentage: 50,
		MinimumRequests:            4,
		RecoveryTimeoutMs:          1000,
	}, nil, persistence.Hooks{})
	e := New(doer, nil, b, nil, Hooks{})

	opts := Options{Attempts: 1, Wait: 1}

	for i := 0; i < 4; i++ {
		result, err := e.Execute(context.Background(), testDescriptor(), opts)
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if result.Success {
			t.Fatalf("call %d: expected failure, got %+v", i, result)
		}
	}

	fifth, err := e.Execute(context.Background(), testDescriptor(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fifth.Success {
		t.Fatalf("expected fifth call to be denied, got %+v", fifth)
	}
	if fifth.Error != ErrCircuitBreakerOpen.Error() {
		t.Fatalf("expected circuit breaker open error, got %q", fifth.Error)
	}
	if doer.invocations() != 4 {
		t.Fatalf("expected transport to be called exactly 4 times, got %d", doer.invocations())
	}
}

// A non-retryable transport failure stops the loop immediately, without
// consuming the remaining attempt budget.
func TestExecuteStopsOnNonRetryableError(t *testing.T) {
	doer := &fakeDoer{script: []fakeCall{
		{err: httpErr(401)},
	}}
	e := New(doer, nil, nil, nil, Hooks{})

	result, err := e.Execute(context.Background(), testDescriptor(), Options{
		Attempts:     3,
		Wait:         1,
		LogAllErrors: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if doer.invocations() != 1 {
		t.Fatalf("expected a single transport call for a non-retryable error, got %d", doer.invocations())
	}
	if len(result.ErrorLogs) != 1 || result.ErrorLogs[0].IsRetryable {
		t.Fatalf("expected one non-retryable error log, got %+v", result.ErrorLogs)
	}
}

// With trackIndividualAttempts, the breaker can open mid-call and abort the
// remaining attempts with a breaker denial.
func TestExecuteAttemptTrackingOpensBreakerMidCall(t *testing.T) {
	doer := &fakeDoer{script: []fakeCall{
		{err: httpErr(500)},
	}}
	b := breaker.New(breaker.Config{
		FailureThresholdPercentage: 50,
		MinimumRequests:            2,
		RecoveryTimeoutMs:          60000,
		TrackIndividualAttempts:    true,
	}, nil, persistence.Hooks{})
	e := New(doer, nil, b, nil, Hooks{})

	result, err := e.Execute(context.Background(), testDescriptor(), Options{
		Attempts: 5,
		Wait:     1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.Error != ErrCircuitBreakerOpen.Error() {
		t.Fatalf("expected circuit breaker open error, got %q", result.Error)
	}
	if doer.invocations() >= 5 {
		t.Fatalf("expected the breaker to cut the attempt budget short, got %d calls", doer.invocations())
	}
	if result.Metrics.BreakerState != models.BreakerOpen {
		t.Fatalf("expected metrics to report OPEN, got %s", result.Metrics.BreakerState)
	}
}

// Guardrails configured on the options surface as anomalies on the metrics.
func TestExecuteAttachesGuardrailAnomalies(t *testing.T) {
	doer := &fakeDoer{script: []fakeCall{
		{resp: transport.Response{Status: 200, Data: []byte(`ok`)}},
	}}
	e := New(doer, nil, nil, nil, Hooks{})

	result, err := e.Execute(context.Background(), testDescriptor(), Options{
		Attempts: 1,
		Wait:     1,
		Guardrails: []metrics.Guardrail{
			{Metric: "totalAttempts", Max: 0, HasMax: true},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Metrics.Anomalies) != 1 {
		t.Fatalf("expected 1 guardrail anomaly, got %+v", result.Metrics.Anomalies)
	}
}

// A pre-execution hook returning an override reshapes the active options
// when ApplyPreExecutionConfigOverride is set.
func TestExecuteAppliesPreExecutionOverride(t *testing.T) {
	doer := &fakeDoer{script: []fakeCall{
		{err: httpErr(500)},
	}}
	e := New(doer, nil, nil, nil, Hooks{
		PreExecutionHook: func(ctx context.Context, in PreExecutionInput) (*PreExecutionOverride, error) {
			attempts := 2
			return &PreExecutionOverride{Attempts: &attempts}, nil
		},
	})

	result, err := e.Execute(context.Background(), testDescriptor(), Options{
		Attempts:                        5,
		Wait:                            1,
		ApplyPreExecutionConfigOverride: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Metrics.TotalAttempts != 2 {
		t.Fatalf("expected override to cut attempts to 2, got %d", result.Metrics.TotalAttempts)
	}
}

// A pre-execution hook returning a nil override is a no-op, not a crash.
func TestExecuteToleratesNilPreExecutionOverride(t *testing.T) {
	doer := &fakeDoer{script: []fakeCall{
		{resp: transport.Response{Status: 200}},
	}}
	e := New(doer, nil, nil, nil, Hooks{
		PreExecutionHook: func(ctx context.Context, in PreExecutionInput) (*PreExecutionOverride, error) {
			return nil, nil
		},
	})

	result, err := e.Execute(context.Background(), testDescriptor(), Options{
		Attempts:                        1,
		Wait:                            1,
		ApplyPreExecutionConfigOverride: true,
	})
	if err != nil || !result.Success {
		t.Fatalf("expected success, got %+v err=%v", result, err)
	}
}

// Hook state persistence brackets hook execution with BEFORE_HOOK and
// AFTER_HOOK stages inside the buffer transaction.
func TestExecuteRunsHookStatePersistence(t *testing.T) {
	doer := &fakeDoer{script: []fakeCall{
		{resp: transport.Response{Status: 200, Data: []byte(`ok`)}},
	}}

	var stages []hooks.Stage
	var mu sync.Mutex
	persist := func(ctx context.Context, stage hooks.Stage, snapshot map[string]any, execCtx models.ExecutionContext, params any) (map[string]any, error) {
		mu.Lock()
		stages = append(stages, stage)
		mu.Unlock()
		if stage == hooks.StageBeforeHook {
			return map[string]any{"loaded": true}, nil
		}
		return nil, nil
	}

	sawLoaded := false
	e := New(doer, nil, nil, nil, Hooks{
		ResponseAnalyzer: func(ctx context.Context, in ResponseAnalyzerInput) (bool, error) {
			sawLoaded = in.Ctx.BufferState != nil
			return true, nil
		},
	})

	result, err := e.Execute(context.Background(), testDescriptor(), Options{
		Attempts:          1,
		Wait:              1,
		LoadBeforeHooks:   true,
		StoreAfterHooks:   true,
		HookPersist:       persist,
		HookPersistParams: "params",
	})
	if err != nil || !result.Success {
		t.Fatalf("expected success, got %+v err=%v", result, err)
	}
	if !sawLoaded {
		t.Fatal("expected the analyzer to observe a hook context")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stages) != 2 || stages[0] != hooks.StageBeforeHook || stages[1] != hooks.StageAfterHook {
		t.Fatalf("expected BEFORE_HOOK then AFTER_HOOK, got %v", stages)
	}

	state := e.Buffer.Read()
	if state["loaded"] != true {
		t.Fatalf("expected BEFORE_HOOK merge to land in buffer state, got %v", state)
	}
}

// With performAllAttempts, a failed final attempt must not displace the
// payload of an earlier success.
func TestExecutePerformAllAttemptsKeepsLastSuccessfulPayload(t *testing.T) {
	doer := &fakeDoer{script: []fakeCall{
		{resp: transport.Response{Status: 200, Data: []byte(`good`)}},
		{err: httpErr(500)},
		{err: httpErr(500)},
	}}
	e := New(doer, nil, nil, nil, Hooks{})

	result, err := e.Execute(context.Background(), testDescriptor(), Options{
		Attempts:           3,
		Wait:               1,
		PerformAllAttempts: true,
		ResReq:             true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	data, ok := result.Data.([]byte)
	if !ok || string(data) != "good" {
		t.Fatalf("expected the successful attempt's payload %q, got %v", "good", result.Data)
	}
	if doer.invocations() != 3 {
		t.Fatalf("expected all 3 attempts to run, got %d", doer.invocations())
	}
}

// performAllAttempts runs the full budget even once a call
// succeeds, and returns the data from the final attempt.
func TestExecutePerformAllAttemptsRunsFullBudget(t *testing.T) {
	doer := &fakeDoer{script: []fakeCall{
		{resp: transport.Response{Status: 200, Data: []byte(`one`)}},
		{resp: transport.Response{Status: 200, Data: []byte(`two`)}},
		{resp: transport.Response{Status: 200, Data: []byte(`three`)}},
	}}
	e := New(doer, nil, nil, nil, Hooks{})

	result, err := e.Execute(context.Background(), testDescriptor(), Options{
		Attempts:            3,
		Wait:                1,
		PerformAllAttempts:  true,
		ResReq:              true,
		LogAllSuccessfulAttempts: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(result.SuccessfulAttempts) != 3 {
		t.Fatalf("expected 3 successful attempts logged, got %d", len(result.SuccessfulAttempts))
	}
	data, ok := result.Data.([]byte)
	if !ok || string(data) != "three" {
		t.Fatalf("expected data from final attempt %q, got %v", "three", result.Data)
	}
	if doer.invocations() != 3 {
		t.Fatalf("expected 3 transport calls, got %d", doer.invocations())
	}
}
