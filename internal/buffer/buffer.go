// Package buffer implements the stable buffer: a single-writer serialized
// transaction queue over one mutable state mapping, with logging and
// replay support.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stablereq/stablereq/internal/metrics"
	"github.com/stablereq/stablereq/pkg/models"
)

// State is the live, mutable mapping a transaction body operates on.
type State map[string]any

// Clone is the pluggable deep-copy strategy. The default performs a
// structural copy via JSON round-trip rather than a custom deep-clone
// walker.
type Clone func(State) State

// DefaultClone deep-copies a State via marshal/unmarshal. Values that are not
// JSON-serializable silently become their JSON-compatible shape; callers with
// stricter needs should supply their own Clone.
func DefaultClone(s State) State {
	if s == nil {
		return State{}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		// fall back to a shallow copy rather than losing the transaction
		out := make(State, len(s))
		for k, v := range s {
			out[k] = v
		}
		return out
	}
	out := State{}
	_ = json.Unmarshal(raw, &out)
	return out
}

// TransactionLogger receives one completed transaction's log entry. Errors
// from the logger are swallowed and must never affect the transaction's
// observed outcome.
type TransactionLogger func(models.BufferTransactionLog)

// RunOptions configures one run() call's logging metadata and timeout.
type RunOptions struct {
	Activity           string
	HookName           string
	HookParams         any
	ExecutionContext   models.ExecutionContext
	TransactionTimeout time.Duration
}

// Fn is a transaction body. It receives the live state reference and may
// mutate it directly; the buffer guarantees no other transaction observes
// state concurrently.
type Fn func(state State) (any, error)

// Buffer is a single-writer serialized queue over one State.
type Buffer struct {
	mu         sync.Mutex // guards state and guardrails; ordering comes from queue
	state      State
	clone      Clone
	log        TransactionLogger
	guardrails []metrics.Guardrail

	seq   int64
	queue chan struct{} // one-slot baton passed between queued transactions

	totalTransactions int64
	totalQueueWaitMs  int64
}

// New constructs an empty buffer. Pass a nil Clone to use DefaultClone, and a
// nil TransactionLogger to disable logging.
func New(clone Clone, logger TransactionLogger) *Buffer {
	if clone == nil {
		clone = DefaultClone
	}
	b := &Buffer{
		state: State{},
		clone: clone,
		log:   logger,
		queue: make(chan struct{}, 1),
	}
	b.queue <- struct{}{} // one free baton: the queue starts idle
	return b
}

// Read returns a deep clone of the current state.
func (b *Buffer) Read() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clone(b.state)
}

// GetState returns the live state reference. Callers must not mutate it
// concurrently with a running transaction.
func (b *Buffer) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetState atomically replaces the state reference.
func (b *Buffer) SetState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Buffer) nextTransactionID() string {
	seq := atomic.AddInt64(&b.seq, 1)
	return fmt.Sprintf("stable-buffer-%d-%d", time.Now().UnixMilli(), seq)
}

// Run enqueues fn behind all prior runs, awaits its turn and result, and
// returns what fn returned. Transactions execute strictly in enqueue order;
// a failing transaction does not abort or reorder the queue.
func (b *Buffer) Run(ctx context.Context, fn Fn, opts RunOptions) (any, error) {
	txnID := b.nextTransactionID()
	queuedAt := time.Now()

	// Acquire the baton: this blocks until every transaction enqueued
	// earlier has released it, giving FIFO serialized execution. The baton
	// is released only once fn actually finishes (see below), never on an
	// early return to the caller, so a timed-out transaction still blocks
	// everything queued after it — matching the "body is not aborted"
	// contract.
	<-b.queue

	startedAt := time.Now()
	queueWait := startedAt.Sub(queuedAt)

	var stateBefore State
	if b.log != nil {
		stateBefore = b.clone(b.GetState())
	}

	doneCh := make(chan runOutcome, 1)
	go func() {
		live := b.GetState()
		v, err := fn(live)
		finishedAt := time.Now()

		if b.log != nil {
			entry := models.BufferTransactionLog{
				TransactionID: txnID,
				QueuedAt:      queuedAt,
				StartedAt:     startedAt,
				FinishedAt:    finishedAt,
				DurationMs:    finishedAt.Sub(startedAt).Milliseconds(),
				QueueWaitMs:   queueWait.Milliseconds(),
				Success:       err == nil,
				StateBefore:   map[string]any(stateBefore),
				StateAfter:    map[string]any(b.clone(b.GetState())),
				Activity:      opts.Activity,
				HookName:      opts.HookName,
				HookParams:    opts.HookParams,
				WorkflowID:    opts.ExecutionContext.WorkflowID,
				BranchID:      opts.ExecutionContext.BranchID,
				PhaseID:       opts.ExecutionContext.PhaseID,
				RequestID:     opts.ExecutionContext.RequestID,
			}
			if err != nil {
				entry.ErrorMessage = err.Error()
			}
			func() {
				defer func() { recover() }() // a panicking logger must never break the transaction
				b.log(entry)
			}()
		}

		atomic.AddInt64(&b.totalTransactions, 1)
		atomic.AddInt64(&b.totalQueueWaitMs, queueWait.Milliseconds())

		// Signal the caller only after logging and counters are settled, so a
		// returned Run call always observes its own log entry as delivered.
		doneCh <- runOutcome{v, err}

		b.queue <- struct{}{} // release the baton for the next queued transaction
	}()

	var outcome runOutcome
	var timedOut bool
	if opts.TransactionTimeout > 0 {
		select {
		case outcome = <-doneCh:
		case <-time.After(opts.TransactionTimeout):
			timedOut = true
		case <-ctx.Done():
			outcome = runOutcome{err: ctx.Err()}
		}
	} else {
		select {
		case outcome = <-doneCh:
		case <-ctx.Done():
			outcome = runOutcome{err: ctx.Err()}
		}
	}

	if timedOut {
		return nil, fmt.Errorf("stable buffer transaction %s: timed out after %s", txnID, opts.TransactionTimeout)
	}

	return outcome.value, outcome.err
}

type runOutcome struct {
	value any
	err   error
}

// Update runs fn and discards its result, returning only the error.
func (b *Buffer) Update(ctx context.Context, fn Fn, opts RunOptions) error {
	_, err := b.Run(ctx, fn, opts)
	return err
}

// Transaction is an alias for Run kept for readability at call sites that
// want to emphasize the transactional framing.
func (b *Buffer) Transaction(ctx context.Context, fn Fn, opts RunOptions) (any, error) {
	return b.Run(ctx, fn, opts)
}

// Metrics is the buffer's own observable snapshot.
type Metrics struct {
	TotalTransactions  int64                     `json:"totalTransactions"`
	AverageQueueWaitMs float64                   `json:"averageQueueWaitMs"`
	Anomalies          []models.GuardrailAnomaly `json:"anomalies,omitempty"`
}

// SetGuardrails configures the bounds evaluated against every subsequent
// Snapshot. Recognized metric names are "totalTransactions" and
// "averageQueueWaitMs"; others are skipped.
func (b *Buffer) SetGuardrails(rails []metrics.Guardrail) {
	b.mu.Lock()
	b.guardrails = rails
	b.mu.Unlock()
}

// Snapshot returns the buffer's aggregate metrics, with any configured
// guardrails evaluated and their anomalies attached.
func (b *Buffer) Snapshot() Metrics {
	total := atomic.LoadInt64(&b.totalTransactions)
	sum := atomic.LoadInt64(&b.totalQueueWaitMs)
	m := Metrics{TotalTransactions: total}
	if total > 0 {
		m.AverageQueueWaitMs = float64(sum) / float64(total)
	}

	b.mu.Lock()
	rails := b.guardrails
	b.mu.Unlock()
	for _, g := range rails {
		var value float64
		switch g.Metric {
		case "totalTransactions":
			value = float64(m.TotalTransactions)
		case "averageQueueWaitMs":
			value = m.AverageQueueWaitMs
		default:
			continue
		}
		if anomaly, broke := g.Evaluate(value); broke {
			m.Anomalies = append(m.Anomalies, anomaly)
		}
	}
	return m
}
