package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/lucasjones/reggen"

	"github.com/stablereq/stablereq/internal/backoff"
	"github.com/stablereq/stablereq/internal/breaker"
	"github.com/stablereq/stablereq/internal/buffer"
	"github.com/stablereq/stablereq/internal/cache"
	"github.com/stablereq/stablereq/internal/classify"
	"github.com/stablereq/stablereq/internal/metrics"
	"github.com/stablereq/stablereq/internal/transport"
	"github.com/stablereq/stablereq/pkg/models"
)

// maxRegenLength bounds unbounded repeat operators in a synthesized
// trial-mode body pattern.
const maxRegenLength = 64

// ErrCircuitBreakerOpen is reported via EngineResult.Error when the breaker
// denies admission or opens mid-call. Execute never returns it as an error,
// whatever ThrowOnFailedErrorAnalysis is set to.
var ErrCircuitBreakerOpen = errors.New("circuit breaker open")

// LogTransactionLoader optionally preloads transaction logs before the
// attempt loop starts. Failures are logged by the caller and ignored here.
type LogTransactionLoader func(ctx context.Context, execCtx models.ExecutionContext) ([]models.BufferTransactionLog, error)

// Engine is the top-level request-lifecycle driver. Cache and Breaker are
// optional; a nil value disables that collaborator entirely.
type Engine struct {
	Transport transport.Doer
	Cache     *cache.Cache
	Breaker   *breaker.Breaker
	Buffer    *buffer.Buffer
	Hooks     Hooks
	LoadLogs  LogTransactionLoader
}

// New constructs an engine. A nil Buffer is replaced with a fresh one.
func New(t transport.Doer, c *cache.Cache, b *breaker.Breaker, buf *buffer.Buffer, h Hooks) *Engine {
	if buf == nil {
		buf = buffer.New(nil, nil)
	}
	return &Engine{Transport: t, Cache: c, Breaker: b, Buffer: buf, Hooks: h}
}

// attemptOutcome is the per-attempt bookkeeping the loop accumulates.
type attemptOutcome struct {
	ok              bool
	accept          bool
	statusCode      int
	statusText      string
	data            []byte
	headers         map[string][]string
	errMsg          string
	isRetryable     bool
	executionTimeMs int64
	fromCache       bool
}

// Execute runs the full attempt loop for one logical request. It returns a
// non-nil error in exactly two conditions: an unhandled final error with ThrowOnFailedErrorAnalysis set, and
// a pre-execution hook failure with both ContinueOnPreExecutionHookFailure
// false and ThrowOnFailedErrorAnalysis true. Every other internal failure is
// captured in the returned result instead.
func (e *Engine) Execute(ctx context.Context, desc models.RequestDescriptor, opts Options) (models.EngineResult, error) {
	opts = opts.WithDefaults()
	if opts.ExecutionContext.RequestID == "" {
		opts.ExecutionContext.RequestID = uuid.New().String()
	}
	agg := metrics.New()

	var transactionLogs []models.BufferTransactionLog
	if e.LoadLogs != nil {
		if logs, err := e.LoadLogs(ctx, opts.ExecutionContext); err == nil {
			transactionLogs = logs
		}
	}

	hookCtx := func() HookContext {
		return HookContext{
			BufferState:      e.Buffer.Read(),
			ExecutionContext: opts.ExecutionContext,
			TransactionLogs:  transactionLogs,
		}
	}

	// Step 1: preExecutionHook.
	if e.Hooks.PreExecutionHook != nil {
		override, err := e.runPreExecutionHook(ctx, desc, opts, hookCtx())
		if err != nil {
			if !opts.ContinueOnPreExecutionHookFailure {
				result := models.EngineResult{Success: false, Error: fmt.Sprintf("pre-execution hook failed: %v", err)}
				result.Metrics = agg.Snapshot(e.breakerStateName(), opts.Guardrails)
				if opts.ThrowOnFailedErrorAnalysis {
					return result, fmt.Errorf("pre-execution hook failed: %w", err)
				}
				return result, nil
			}
		} else if override != nil && opts.ApplyPreExecutionConfigOverride {
			opts = opts.applyOverride(*override)
		}
	}

	// Step 2: build transport config.
	cfg, err := buildTransportConfig(desc)
	if err != nil {
		result := models.EngineResult{Success: false, Error: err.Error()}
		result.Metrics = agg.Snapshot(e.breakerStateName(), opts.Guardrails)
		return result, nil
	}
	if opts.TrialMode.Enabled {
		if opts.TrialMode.ReqFailureProbability < 0 || opts.TrialMode.ReqFailureProbability > 1 {
			result := models.EngineResult{Success: false, Error: "trial mode: reqFailureProbability must be in [0,1]"}
			result.Metrics = agg.Snapshot(e.breakerStateName(), opts.Guardrails)
			return result, nil
		}
	}

	var errorLogs []models.ErrorLogEntry
	var successLogs []models.SuccessLogEntry
	var lastOutcome attemptOutcome
	var lastSuccess attemptOutcome
	var breakerDenied bool
	sawSuccess := false

	cacheKey := ""
	cacheable := e.Cache != nil && e.Cache.IsCacheableMethod(cfg.Method)
	if cacheable {
		cacheKey = e.Cache.Key(cfg)
	}

attemptLoop:
	for i := 1; i <= opts.Attempts; i++ {
		// 3a. Breaker admission.
		if e.Breaker != nil && (e.Breaker.TracksIndividualAttempts() || i == 1) {
			if !e.Breaker.CanExecute(ctx) {
				breakerDenied = true
				break attemptLoop
			}
		}

		// 3b. Cache check.
		if cacheable {
			if entry, hit := e.Cache.Get(ctx, cacheKey); hit {
				lastOutcome = attemptOutcome{ok: true, accept: true, statusCode: entry.Status, data: entry.Data, headers: entry.Headers, fromCache: true}
				lastSuccess = lastOutcome
				sawSuccess = true
				agg.RecordAttempt(true, 0, true)
				notifyAttempt(opts.OnAttempt, lastOutcome)
				break attemptLoop
			}
		}

		outcome := e.runAttempt(ctx, cfg, opts, i)
		agg.RecordAttempt(outcome.ok, outcome.executionTimeMs, false)

		trackAttempts := e.Breaker != nil && e.Breaker.TracksIndividualAttempts()

		if !outcome.ok {
			if trackAttempts {
				e.Breaker.RecordAttemptFailure(ctx)
				if e.Breaker.JustOpened() {
					breakerDenied = true
					lastOutcome = outcome
					notifyAttempt(opts.OnAttempt, outcome)
					break attemptLoop
				}
			}
		} else {
			accept, analyzerErr := e.runResponseAnalyzer(ctx, desc, outcome, opts, hookCtx())
			if analyzerErr != nil {
				accept = false // analyzer throw is treated as retry
			}
			outcome.accept = accept
			if !accept {
				// validation rejections stay retryable within the attempt budget
				outcome.isRetryable = true
			}

			if trackAttempts {
				if accept {
					e.Breaker.RecordAttemptSuccess(ctx)
				} else {
					e.Breaker.RecordAttemptFailure(ctx)
				}
				if e.Breaker.JustOpened() {
					breakerDenied = true
					lastOutcome = outcome
					notifyAttempt(opts.OnAttempt, outcome)
					break attemptLoop
				}
			}
		}

		lastOutcome = outcome
		notifyAttempt(opts.OnAttempt, outcome)

		if cacheable && outcome.ok && outcome.accept && outcome.statusCode > 0 {
			e.Cache.Set(ctx, cacheKey, outcome.data, outcome.statusCode, outcome.statusText, outcome.headers)
		}

		if opts.LogAllErrors && (!outcome.ok || !outcome.accept) {
			entry := models.ErrorLogEntry{
				Timestamp:       time.Now(),
				Attempt:         fmt.Sprintf("%d/%d", i, opts.Attempts),
				Error:           outcome.errMsg,
				Type:            errLogType(outcome),
				IsRetryable:     outcome.isRetryable,
				ExecutionTimeMs: outcome.executionTimeMs,
				StatusCode:      outcome.statusCode,
			}
			errorLogs = append(errorLogs, entry)
			e.runHandleErrors(ctx, desc, entry, opts, hookCtx())
		}

		if outcome.ok && outcome.accept {
			lastSuccess = outcome
			sawSuccess = true
			if opts.LogAllSuccessfulAttempts {
				entry := models.SuccessLogEntry{
					Attempt:         fmt.Sprintf("%d/%d", i, opts.Attempts),
					Timestamp:       time.Now(),
					Data:            outcome.data,
					ExecutionTimeMs: outcome.executionTimeMs,
					StatusCode:      outcome.statusCode,
				}
				successLogs = append(successLogs, entry)
				e.runHandleSuccessfulAttemptData(ctx, desc, entry, opts, hookCtx())
			}
		}

		continueLooping := i < opts.Attempts && (outcome.isRetryable || opts.PerformAllAttempts)
		if !continueLooping {
			break attemptLoop
		}

		sleep := backoff.Compute(opts.RetryStrategy, i, opts.Wait, opts.MaxAllowedWait, opts.Jitter)
		if sleep > 0 {
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				lastOutcome = attemptOutcome{ok: false, errMsg: classify.ErrCancelled}
				break attemptLoop
			}
		}
	}

	overallSuccess := (opts.PerformAllAttempts && sawSuccess) || (lastOutcome.ok && lastOutcome.accept)

	// Request-level breaker accounting runs once per call, independent of
	// the attempt-level accounting above. The two triplets track at
	// different granularities.
	if e.Breaker != nil && !breakerDenied {
		if overallSuccess {
			e.Breaker.RecordSuccess(ctx)
		} else {
			e.Breaker.RecordFailure(ctx)
		}
	}

	result := models.EngineResult{}
	if len(errorLogs) > 0 {
		result.ErrorLogs = errorLogs
	}
	if len(successLogs) > 0 {
		result.SuccessfulAttempts = successLogs
	}

	switch {
	case breakerDenied:
		result.Success = false
		result.Error = ErrCircuitBreakerOpen.Error()
		result.Metrics = agg.Snapshot(e.breakerStateName(), opts.Guardrails)
		return result, nil
	case overallSuccess:
		// lastSuccess, not lastOutcome: with performAllAttempts a later
		// failed attempt must not displace the last successful payload.
		result.Success = true
		result.Data = resultData(lastSuccess, opts)
		result.Metrics = agg.Snapshot(e.breakerStateName(), opts.Guardrails)
		return result, nil
	default:
		handled, finalErr := e.runFinalErrorAnalyzer(ctx, desc, lastOutcome.errMsg, opts, hookCtx())
		result.Success = false
		result.Error = finalErr
		result.Metrics = agg.Snapshot(e.breakerStateName(), opts.Guardrails)
		if opts.ThrowOnFailedErrorAnalysis && !handled {
			return result, fmt.Errorf("stablereq: unhandled final error: %s", finalErr)
		}
		return result, nil
	}
}

func notifyAttempt(onAttempt func(models.AttemptResult), o attemptOutcome) {
	if onAttempt == nil {
		return
	}
	onAttempt(models.AttemptResult{
		OK:              o.ok,
		IsRetryable:     o.isRetryable,
		Timestamp:       time.Now(),
		ExecutionTimeMs: o.executionTimeMs,
		StatusCode:      o.statusCode,
		Error:           o.errMsg,
		Data:            o.data,
		Headers:         o.headers,
		FromCache:       o.fromCache,
	})
}

func resultData(o attemptOutcome, opts Options) any {
	if !opts.ResReq {
		return true
	}
	return o.data
}

func errLogType(o attemptOutcome) models.ErrorLogType {
	if !o.ok {
		return models.ErrorTypeHTTP
	}
	return models.ErrorTypeInvalid
}

func (e *Engine) breakerStateName() models.BreakerStateName {
	if e.Breaker == nil {
		return ""
	}
	return e.Breaker.State().State
}

// synthesizeTrialBody turns a trial-mode response pattern into a body.
// An empty pattern falls back to a fixed placeholder; otherwise the pattern
// is treated as a regular expression and a matching string is generated,
// falling back to the literal pattern if it does not compile as a regex.
func synthesizeTrialBody(pattern string) string {
	if pattern == "" {
		return `{"status":"ok"}`
	}
	generated, err := reggen.Generate(pattern, maxRegenLength)
	if err != nil {
		return pattern
	}
	return generated
}

// runAttempt performs the transport call (or a synthesized trial-mode
// outcome) and classifies its retryability.
func (e *Engine) runAttempt(ctx context.Context, cfg models.TransportConfig, opts Options, attemptIndex int) attemptOutcome {
	start := time.Now()

	if opts.TrialMode.Enabled {
		fail := rand.Float64() < opts.TrialMode.ReqFailureProbability
		elapsed := time.Since(start).Milliseconds()
		if fail {
			return attemptOutcome{ok: false, errMsg: "trial mode synthesized failure", isRetryable: true, executionTimeMs: elapsed}
		}
		return attemptOutcome{ok: true, accept: true, statusCode: 200, data: []byte(synthesizeTrialBody(opts.TrialMode.ResponsePattern)), executionTimeMs: elapsed}
	}

	// A caller-supplied cancellation context on the descriptor takes over as
	// the attempt's lifetime; its firing surfaces as a non-retryable
	// cancellation failure.
	callCtx := ctx
	if cfg.Cancel != nil {
		callCtx = cfg.Cancel
	}

	resp, err := e.Transport.Do(callCtx, transport.Config{
		Method:  cfg.Method,
		URL:     cfg.URL,
		BaseURL: cfg.BaseURL,
		Headers: cfg.Headers,
		Params:  cfg.Params,
		Data:    cfg.Data,
		Timeout: cfg.Timeout,
	})
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		var terr *transport.Error
		cancelled := false
		status := 0
		code := ""
		if errors.As(err, &terr) {
			cancelled = terr.Cancelled
			status = terr.Status
			code = terr.Code
		}
		errMsg := err.Error()
		if cancelled {
			errMsg = classify.ErrCancelled
		}
		return attemptOutcome{
			ok:              false,
			errMsg:          errMsg,
			isRetryable:     classify.Classify(cancelled, code, status),
			statusCode:      status,
			executionTimeMs: elapsed,
		}
	}

	return attemptOutcome{
		ok:              true,
		statusCode:      resp.Status,
		statusText:      resp.StatusText,
		data:            resp.Data,
		headers:         resp.Headers,
		executionTimeMs: elapsed,
	}
}
