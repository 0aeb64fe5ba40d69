// Package engine implements the top-level request-lifecycle attempt loop:
// it builds a transport-ready config and, per attempt, consults the circuit
// breaker, the response cache, invokes the transport, runs the response
// validator hook, records the outcome on the breaker, emits observability
// hooks, and sleeps the computed backoff — until the stop condition is met.
package engine

import (
	"context"

	"github.com/stablereq/stablereq/internal/hooks"
	"github.com/stablereq/stablereq/internal/metrics"
	"github.com/stablereq/stablereq/pkg/models"
)

// Options is the full set of per-call knobs layered on top of the request
// descriptor.
type Options struct {
	Attempts                          int
	PerformAllAttempts                bool
	Wait                              int // ms
	MaxAllowedWait                    int // ms
	RetryStrategy                     models.RetryStrategy
	Jitter                            float64
	ResReq                            bool
	LogAllErrors                      bool
	LogAllSuccessfulAttempts          bool
	MaxSerializableChars              int
	ThrowOnFailedErrorAnalysis        bool
	ContinueOnPreExecutionHookFailure bool
	ApplyPreExecutionConfigOverride   bool
	TrialMode                         models.TrialMode
	HookParams                        any
	ExecutionContext                  models.ExecutionContext

	// Hook state persistence: when HookPersist is set, it is called before
	// each hook (stage BEFORE_HOOK, if LoadBeforeHooks) and after it (stage
	// AFTER_HOOK, if StoreAfterHooks), inside the same buffer transaction.
	LoadBeforeHooks   bool
	StoreAfterHooks   bool
	HookPersist       hooks.PersistFunc
	HookPersistParams any

	// Guardrails are evaluated against the final metrics snapshot; anomalies
	// are attached to the result's metrics, never raised.
	Guardrails []metrics.Guardrail

	// OnAttempt, if set, is called synchronously after every attempt (including
	// cache hits) purely for observability — e.g. a live CLI dashboard. It
	// never affects control flow and its panics are not recovered.
	OnAttempt func(models.AttemptResult)
}

// WithDefaults fills in the documented knob defaults.
func (o Options) WithDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = 1
	}
	if o.Wait <= 0 {
		o.Wait = 1000
	}
	if o.MaxAllowedWait <= 0 {
		o.MaxAllowedWait = 60000
	}
	if o.RetryStrategy == "" {
		o.RetryStrategy = models.StrategyFixed
	}
	if o.Jitter < 0 {
		o.Jitter = 0
	}
	if o.Jitter >= 1 {
		o.Jitter = 0.99
	}
	if o.MaxSerializableChars <= 0 {
		o.MaxSerializableChars = 1000
	}
	return o
}

// PreExecutionOverride is what preExecutionHook may return to patch the
// active options before the attempt loop starts.
type PreExecutionOverride struct {
	Attempts       *int
	Wait           *int
	MaxAllowedWait *int
	RetryStrategy  *models.RetryStrategy
}

func (o Options) applyOverride(ov PreExecutionOverride) Options {
	if ov.Attempts != nil {
		o.Attempts = *ov.Attempts
	}
	if ov.Wait != nil {
		o.Wait = *ov.Wait
	}
	if ov.MaxAllowedWait != nil {
		o.MaxAllowedWait = *ov.MaxAllowedWait
	}
	if ov.RetryStrategy != nil {
		o.RetryStrategy = *ov.RetryStrategy
	}
	return o
}

// HookContext is the typed correlation/state object carried alongside every
// hook call, replacing the source's leaky commonBuffer/sharedBuffer/buffer
// option-rewriting idiom (see DESIGN.md's redesign notes).
type HookContext struct {
	BufferState      map[string]any
	ExecutionContext models.ExecutionContext
	TransactionLogs  []models.BufferTransactionLog
}

// PreExecutionInput is the input to preExecutionHook.
type PreExecutionInput struct {
	InputParams          models.RequestDescriptor
	StableRequestOptions Options
	Ctx                  HookContext
}

// ResponseAnalyzerInput is the input to responseAnalyzer.
type ResponseAnalyzerInput struct {
	ReqData            models.RequestDescriptor
	Data               []byte
	TrialMode          models.TrialMode
	Params             any
	PreExecutionResult any
	Ctx                HookContext
}

// ErrorHandlerInput is the input to handleErrors.
type ErrorHandlerInput struct {
	ReqData              models.RequestDescriptor
	ErrorLog             models.ErrorLogEntry
	MaxSerializableChars int
	Params               any
	Ctx                  HookContext
}

// SuccessHandlerInput is the input to handleSuccessfulAttemptData.
type SuccessHandlerInput struct {
	ReqData               models.RequestDescriptor
	SuccessfulAttemptData models.SuccessLogEntry
	Params                any
	Ctx                   HookContext
}

// FinalErrorAnalyzerInput is the input to finalErrorAnalyzer.
type FinalErrorAnalyzerInput struct {
	ReqData   models.RequestDescriptor
	Error     string
	TrialMode models.TrialMode
	Params    any
	Ctx       HookContext
}

// Hooks bundles the five optional lifecycle hooks. Each is nil-able; the
// engine skips a hook call entirely when its slot is nil.
type Hooks struct {
	PreExecutionHook            func(ctx context.Context, in PreExecutionInput) (*PreExecutionOverride, error)
	ResponseAnalyzer            func(ctx context.Context, in ResponseAnalyzerInput) (bool, error)
	HandleErrors                func(ctx context.Context, in ErrorHandlerInput) error
	HandleSuccessfulAttemptData func(ctx context.Context, in SuccessHandlerInput) error
	FinalErrorAnalyzer          func(ctx context.Context, in FinalErrorAnalyzerInput) (bool, error)
}
