// Package hooks runs the five user-supplied lifecycle hooks inside a buffer
// transaction, with optional state load/store bracketing each call.
package hooks

import (
	"context"
	"fmt"

	"github.com/stablereq/stablereq/internal/buffer"
	"github.com/stablereq/stablereq/pkg/models"
)

// Stage identifies where in a hook invocation a persistence call happens.
type Stage string

const (
	StageBeforeHook Stage = "BEFORE_HOOK"
	StageAfterHook  Stage = "AFTER_HOOK"
)

// PersistFunc loads or stores auxiliary state around a hook call. It
// receives a shallow snapshot of buffer state at the relevant stage and may
// return a partial object to merge into buffer state by property
// assignment.
type PersistFunc func(ctx context.Context, stage Stage, snapshot map[string]any, execCtx models.ExecutionContext, params any) (map[string]any, error)

// Hook is any of the five user lifecycle hooks. Input/Output are opaque to
// the runner; individual call sites (the engine) know the concrete shapes.
type Hook func(ctx context.Context, input any) (any, error)

// Names the engine attaches to a hook for logging/identification when the
// hook itself does not carry one.
const anonymousHookName = "anonymous-hook"

// InvokeOptions configures one Invoke call.
type InvokeOptions struct {
	HookName         string
	Activity         string // defaults to "hook"
	LoadBeforeHooks  bool
	StoreAfterHooks  bool
	Persist          PersistFunc
	PersistParams    any
	ExecutionContext models.ExecutionContext
}

// stateBufferAliases are the property names that, when present in a hook's
// options payload, are rewritten to the live buffer state reference before
// the hook runs.
var stateBufferAliases = []string{"commonBuffer", "sharedBuffer", "buffer"}

// Invoke executes hook inside a buffer transaction. options is the hook's
// own input payload (e.g. a struct or map); if it is a map containing any of
// commonBuffer/sharedBuffer/buffer, those keys are replaced with the buffer's
// live state before the hook is called.
func Invoke(ctx context.Context, buf *buffer.Buffer, hook Hook, options any, opts InvokeOptions) (any, error) {
	activity := opts.Activity
	if activity == "" {
		activity = "hook"
	}
	hookName := opts.HookName
	if hookName == "" {
		hookName = anonymousHookName
	}

	runOpts := buffer.RunOptions{
		Activity:         activity,
		HookName:         hookName,
		HookParams:       options,
		ExecutionContext: opts.ExecutionContext,
	}

	result, err := buf.Run(ctx, func(state buffer.State) (any, error) {
		if opts.LoadBeforeHooks && opts.Persist != nil {
			merged, persistErr := opts.Persist(ctx, StageBeforeHook, shallowSnapshot(state), opts.ExecutionContext, opts.PersistParams)
			if persistErr == nil && merged != nil {
				for k, v := range merged {
					state[k] = v
				}
			}
			// persistence failures at this step are logged by the caller's
			// Persist implementation and swallowed here.
		}

		input := rewriteBufferAliases(options, state)

		out, hookErr := hook(ctx, input)
		if hookErr != nil {
			return nil, hookErr
		}

		if opts.StoreAfterHooks && opts.Persist != nil {
			_, _ = opts.Persist(ctx, StageAfterHook, shallowSnapshot(state), opts.ExecutionContext, opts.PersistParams)
		}

		return out, nil
	}, runOpts)

	if err != nil {
		return nil, fmt.Errorf("hook %q failed: %w", hookName, err)
	}
	return result, nil
}

func shallowSnapshot(state buffer.State) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

// rewriteBufferAliases returns a shallow copy of options with any of the
// reserved alias keys replaced by the live buffer state reference, when
// options is a map. Non-map options are returned unchanged.
func rewriteBufferAliases(options any, state buffer.State) any {
	m, ok := options.(map[string]any)
	if !ok {
		return options
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, alias := range stateBufferAliases {
		if _, present := out[alias]; present {
			out[alias] = state
		}
	}
	return out
}
