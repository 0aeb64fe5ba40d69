// Package persistence wraps breaker and cache persistence hooks in a stable
// buffer transaction and gives them at-most-once execution per operation id
// across crash-retry replays.
package persistence

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/stablereq/stablereq/internal/buffer"
)

// OpType distinguishes a load from a store for the benefit of Transaction
// hooks that want to branch on it.
type OpType string

const (
	OpLoad  OpType = "load"
	OpStore OpType = "store"
)

// Op is handed to a user-supplied Transaction hook.
type Op struct {
	OperationID string
	Type        OpType
	Timestamp   time.Time
	State       any // present for store, nil for load
}

// TransactionResult is what a Transaction hook may return.
type TransactionResult struct {
	State   any
	Skipped bool
}

// Hooks is the persistence contract a caller supplies for one component
// (breaker state or cache state). Load/Store are used when Transaction is
// nil; Transaction, when supplied, takes precedence over both.
type Hooks struct {
	Load        func(ctx context.Context) (any, error)
	Store       func(ctx context.Context, state any) error
	Transaction func(ctx context.Context, op Op) (TransactionResult, error)
}

// Coordinator tags every load/store with a unique operation id and runs it
// inside a buffer transaction, short-circuiting a replayed id.
type Coordinator struct {
	label string
	buf   *buffer.Buffer
	seq   int64
}

// New builds a coordinator. label identifies the owning component in
// generated operation ids (e.g. "breaker" or "cache").
func New(label string, buf *buffer.Buffer) *Coordinator {
	if buf == nil {
		buf = buffer.New(nil, nil)
	}
	return &Coordinator{label: label, buf: buf}
}

const seenOpsKey = "__persistence_seen_ops__"

func (c *Coordinator) nextOpID(opType OpType) string {
	seq := atomic.AddInt64(&c.seq, 1)
	return fmt.Sprintf("%s-%s-%d-%d", c.label, opType, time.Now().UnixMilli(), seq)
}

// NextOpID generates a fresh operation id for the given type. Callers that
// want to retry the same logical operation after a crash should hold onto
// the id they used and pass it back into Load/Store to get the at-most-once
// guarantee instead of calling this again.
func (c *Coordinator) NextOpID(opType OpType) string {
	return c.nextOpID(opType)
}

// Load runs hooks.Load (or hooks.Transaction with OpLoad) inside a buffer
// transaction. Returns (nil, false, nil) when there was no prior state.
// Pass an empty opID to have one generated; replaying the exact same opID
// (e.g. after a crash) is what gives the at-most-once guarantee.
func (c *Coordinator) Load(ctx context.Context, opID string, hooks Hooks) (any, bool, error) {
	if hooks.Load == nil && hooks.Transaction == nil {
		return nil, false, nil
	}
	if opID == "" {
		opID = c.nextOpID(OpLoad)
	}

	result, err := c.buf.Run(ctx, func(s buffer.State) (any, error) {
		if alreadySeen(s, opID) {
			return TransactionResult{Skipped: true}, nil
		}
		markSeen(s, opID)

		if hooks.Transaction != nil {
			return hooks.Transaction(ctx, Op{OperationID: opID, Type: OpLoad, Timestamp: time.Now()})
		}
		state, loadErr := hooks.Load(ctx)
		if loadErr != nil {
			return nil, loadErr
		}
		return TransactionResult{State: state}, nil
	}, buffer.RunOptions{Activity: "persistence-load", HookName: c.label})

	if err != nil {
		return nil, false, fmt.Errorf("persistence load (%s): %w", c.label, err)
	}

	tr, ok := result.(TransactionResult)
	if !ok || tr.Skipped || tr.State == nil {
		return nil, false, nil
	}
	return tr.State, true, nil
}

// Store runs hooks.Store (or hooks.Transaction with OpStore) inside a buffer
// transaction, deduping by operation id. Pass an empty opID to have one
// generated.
func (c *Coordinator) Store(ctx context.Context, opID string, hooks Hooks, state any) error {
	if hooks.Store == nil && hooks.Transaction == nil {
		return nil
	}
	if opID == "" {
		opID = c.nextOpID(OpStore)
	}

	_, err := c.buf.Run(ctx, func(s buffer.State) (any, error) {
		if alreadySeen(s, opID) {
			return TransactionResult{Skipped: true}, nil
		}
		markSeen(s, opID)

		if hooks.Transaction != nil {
			return hooks.Transaction(ctx, Op{OperationID: opID, Type: OpStore, Timestamp: time.Now(), State: state})
		}
		return nil, hooks.Store(ctx, state)
	}, buffer.RunOptions{Activity: "persistence-store", HookName: c.label})

	if err != nil {
		return fmt.Errorf("persistence store (%s): %w", c.label, err)
	}
	return nil
}

func alreadySeen(s buffer.State, opID string) bool {
	seen, _ := s[seenOpsKey].(map[string]bool)
	return seen != nil && seen[opID]
}

func markSeen(s buffer.State, opID string) {
	seen, ok := s[seenOpsKey].(map[string]bool)
	if !ok {
		seen = map[string]bool{}
		s[seenOpsKey] = seen
	}
	seen[opID] = true
}
