package engine

import (
	"context"
	"fmt"

	"github.com/stablereq/stablereq/internal/hooks"
	"github.com/stablereq/stablereq/pkg/models"
)

func (e *Engine) runPreExecutionHook(ctx context.Context, desc models.RequestDescriptor, opts Options, hctx HookContext) (*PreExecutionOverride, error) {
	input := PreExecutionInput{InputParams: desc, StableRequestOptions: opts, Ctx: hctx}

	wrapped := func(ctx context.Context, in any) (any, error) {
		typed := in.(PreExecutionInput)
		return e.Hooks.PreExecutionHook(ctx, typed)
	}

	out, err := hooks.Invoke(ctx, e.Buffer, wrapped, input, hooks.InvokeOptions{
		HookName:         "preExecutionHook",
		Activity:         "hook",
		ExecutionContext: opts.ExecutionContext,
		LoadBeforeHooks:  opts.LoadBeforeHooks,
		StoreAfterHooks:  opts.StoreAfterHooks,
		Persist:          opts.HookPersist,
		PersistParams:    opts.HookPersistParams,
	})
	if err != nil {
		return nil, err
	}
	ov, ok := out.(*PreExecutionOverride)
	if !ok || ov == nil {
		return nil, nil
	}
	return ov, nil
}

func (e *Engine) runResponseAnalyzer(ctx context.Context, desc models.RequestDescriptor, outcome attemptOutcome, opts Options, hctx HookContext) (bool, error) {
	if e.Hooks.ResponseAnalyzer == nil {
		return true, nil
	}

	input := ResponseAnalyzerInput{
		ReqData:   desc,
		Data:      outcome.data,
		TrialMode: opts.TrialMode,
		Params:    opts.HookParams,
		Ctx:       hctx,
	}

	wrapped := func(ctx context.Context, in any) (any, error) {
		typed := in.(ResponseAnalyzerInput)
		return e.Hooks.ResponseAnalyzer(ctx, typed)
	}

	out, err := hooks.Invoke(ctx, e.Buffer, wrapped, input, hooks.InvokeOptions{
		HookName:         "responseAnalyzer",
		Activity:         "hook",
		ExecutionContext: opts.ExecutionContext,
		LoadBeforeHooks:  opts.LoadBeforeHooks,
		StoreAfterHooks:  opts.StoreAfterHooks,
		Persist:          opts.HookPersist,
		PersistParams:    opts.HookPersistParams,
	})
	if err != nil {
		return false, err
	}
	accept, _ := out.(bool)
	return accept, nil
}

func (e *Engine) runHandleErrors(ctx context.Context, desc models.RequestDescriptor, entry models.ErrorLogEntry, opts Options, hctx HookContext) {
	if e.Hooks.HandleErrors == nil {
		return
	}
	input := ErrorHandlerInput{
		ReqData:              desc,
		ErrorLog:             entry,
		MaxSerializableChars: opts.MaxSerializableChars,
		Params:               opts.HookParams,
		Ctx:                  hctx,
	}
	wrapped := func(ctx context.Context, in any) (any, error) {
		typed := in.(ErrorHandlerInput)
		return nil, e.Hooks.HandleErrors(ctx, typed)
	}
	_, _ = hooks.Invoke(ctx, e.Buffer, wrapped, input, hooks.InvokeOptions{
		HookName:         "handleErrors",
		Activity:         "hook",
		ExecutionContext: opts.ExecutionContext,
		LoadBeforeHooks:  opts.LoadBeforeHooks,
		StoreAfterHooks:  opts.StoreAfterHooks,
		Persist:          opts.HookPersist,
		PersistParams:    opts.HookPersistParams,
	})
}

func (e *Engine) runHandleSuccessfulAttemptData(ctx context.Context, desc models.RequestDescriptor, entry models.SuccessLogEntry, opts Options, hctx HookContext) {
	if e.Hooks.HandleSuccessfulAttemptData == nil {
		return
	}
	input := SuccessHandlerInput{
		ReqData:               desc,
		SuccessfulAttemptData: entry,
		Params:                opts.HookParams,
		Ctx:                   hctx,
	}
	wrapped := func(ctx context.Context, in any) (any, error) {
		typed := in.(SuccessHandlerInput)
		return nil, e.Hooks.HandleSuccessfulAttemptData(ctx, typed)
	}
	_, _ = hooks.Invoke(ctx, e.Buffer, wrapped, input, hooks.InvokeOptions{
		HookName:         "handleSuccessfulAttemptData",
		Activity:         "hook",
		ExecutionContext: opts.ExecutionContext,
		LoadBeforeHooks:  opts.LoadBeforeHooks,
		StoreAfterHooks:  opts.StoreAfterHooks,
		Persist:          opts.HookPersist,
		PersistParams:    opts.HookPersistParams,
	})
}

func (e *Engine) runFinalErrorAnalyzer(ctx context.Context, desc models.RequestDescriptor, errMsg string, opts Options, hctx HookContext) (handled bool, finalErr string) {
	if e.Hooks.FinalErrorAnalyzer == nil {
		return false, errMsg
	}
	input := FinalErrorAnalyzerInput{
		ReqData:   desc,
		Error:     errMsg,
		TrialMode: opts.TrialMode,
		Params:    opts.HookParams,
		Ctx:       hctx,
	}
	wrapped := func(ctx context.Context, in any) (any, error) {
		typed := in.(FinalErrorAnalyzerInput)
		return e.Hooks.FinalErrorAnalyzer(ctx, typed)
	}
	out, err := hooks.Invoke(ctx, e.Buffer, wrapped, input, hooks.InvokeOptions{
		HookName:         "finalErrorAnalyzer",
		Activity:         "hook",
		ExecutionContext: opts.ExecutionContext,
		LoadBeforeHooks:  opts.LoadBeforeHooks,
		StoreAfterHooks:  opts.StoreAfterHooks,
		Persist:          opts.HookPersist,
		PersistParams:    opts.HookPersistParams,
	})
	if err != nil {
		// finalErrorAnalyzer's own failures are logged and treated as unhandled.
		return false, fmt.Sprintf("%s (final error analyzer failed: %v)", errMsg, err)
	}
	handled, _ = out.(bool)
	return handled, errMsg
}
