// Package breaker implements the circuit breaker state machine: CLOSED,
// OPEN and HALF_OPEN, with independent request-level and attempt-level
// failure accounting and durable state.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/stablereq/stablereq/internal/persistence"
	"github.com/stablereq/stablereq/pkg/models"
)

// OpenError is raised by Execute, and returned by the engine, when the
// breaker denies admission.
type OpenError struct {
	Reason string
}

func (e *OpenError) Error() string { return "circuit breaker open: " + e.Reason }

// Config controls the breaker's thresholds. Zero-value fields are defaulted
// and clamped by New.
type Config struct {
	FailureThresholdPercentage float64
	MinimumRequests            int
	RecoveryTimeoutMs          int
	SuccessThresholdPercentage float64
	HalfOpenMaxRequests        int
	TrackIndividualAttempts    bool
}

func (c Config) clamp() Config {
	if c.FailureThresholdPercentage < 0 {
		c.FailureThresholdPercentage = 0
	}
	if c.FailureThresholdPercentage > 100 {
		c.FailureThresholdPercentage = 100
	}
	if c.MinimumRequests < 1 {
		c.MinimumRequests = 1
	}
	if c.RecoveryTimeoutMs < 100 {
		c.RecoveryTimeoutMs = 100
	}
	if c.SuccessThresholdPercentage <= 0 {
		c.SuccessThresholdPercentage = 50
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = 5
	}
	return c
}

// Breaker is safe for concurrent use; all counter mutation is serialized
// under a single mutex and readers see a consistent snapshot.
type Breaker struct {
	mu    sync.Mutex
	cfg   Config
	coord *persistence.Coordinator
	hooks persistence.Hooks

	state models.BreakerState
}

// New constructs a breaker in the CLOSED state. coord/hooks may be zero-value
// to disable persistence.
func New(cfg Config, coord *persistence.Coordinator, hooks persistence.Hooks) *Breaker {
	b := &Breaker{
		cfg:   cfg.clamp(),
		coord: coord,
		hooks: hooks,
		state: models.BreakerState{State: models.BreakerClosed},
	}
	return b
}

// Initialize loads persisted state, if any, and restores it.
func (b *Breaker) Initialize(ctx context.Context) error {
	if b.coord == nil {
		return nil
	}
	state, ok, err := b.coord.Load(ctx, "", b.hooks)
	if err != nil {
		return nil // persistence failures are swallowed here; nothing is logged
	}
	if !ok {
		return nil
	}
	if restored, ok := state.(models.BreakerState); ok {
		b.mu.Lock()
		b.state = restored
		b.mu.Unlock()
	}
	return nil
}

func (b *Breaker) persist(ctx context.Context) {
	if b.coord == nil {
		return
	}
	b.mu.Lock()
	snapshot := b.state
	b.mu.Unlock()
	_ = b.coord.Store(ctx, "", b.hooks, snapshot)
}

// TracksIndividualAttempts reports whether this breaker was configured to
// account failures/successes at attempt granularity rather than only at the
// request level.
func (b *Breaker) TracksIndividualAttempts() bool {
	return b.cfg.TrackIndividualAttempts
}

// State returns a copy of the breaker's current persistence shape.
func (b *Breaker) State() models.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CanExecute reports whether a call may proceed, transitioning OPEN->HALF_OPEN
// when the recovery timeout has elapsed.
func (b *Breaker) CanExecute(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canExecuteLocked(ctx)
}

func (b *Breaker) canExecuteLocked(ctx context.Context) bool {
	switch b.state.State {
	case models.BreakerClosed:
		return true
	case models.BreakerOpen:
		now := time.Now().UnixMilli()
		if now-b.state.LastFailureTime >= int64(b.cfg.RecoveryTimeoutMs) {
			b.transitionToHalfOpenLocked()
			return true
		}
		return false
	case models.BreakerHalfOpen:
		return b.state.HalfOpen.Total < int64(b.cfg.HalfOpenMaxRequests)
	}
	return false
}

func (b *Breaker) transitionToHalfOpenLocked() {
	now := time.Now().UnixMilli()
	b.state.StateChange.TotalOpenDuration += now - b.state.StateChange.LastOpenTime
	b.state.State = models.BreakerHalfOpen
	b.state.HalfOpen = models.HalfOpenTriplet{}
	b.state.StateChange.Transitions++
	b.state.StateChange.HalfOpenCount++
	b.state.StateChange.LastStateChangeTime = now
	b.state.Recovery.RecoveryAttempts++
}

func (b *Breaker) openLocked() {
	now := time.Now().UnixMilli()
	b.state.State = models.BreakerOpen
	b.state.HalfOpen = models.HalfOpenTriplet{}
	b.state.StateChange.Transitions++
	b.state.StateChange.OpenCount++
	b.state.StateChange.LastStateChangeTime = now
	b.state.StateChange.LastOpenTime = now
}

func (b *Breaker) closeLocked() {
	now := time.Now().UnixMilli()
	b.state.State = models.BreakerClosed
	b.state.HalfOpen = models.HalfOpenTriplet{}
	b.state.StateChange.Transitions++
	b.state.StateChange.LastStateChangeTime = now
	b.state.Request = models.Triplet{}
	b.state.Attempt = models.Triplet{}
}

// RecordSuccess records a request-level success. In half-open, when the
// breaker is not tracking individual attempts, this is what consumes a probe
// slot and drives the re-close/re-open evaluation.
func (b *Breaker) RecordSuccess(ctx context.Context) {
	b.mu.Lock()
	b.state.Request.Total++
	b.state.Request.Succeeded++
	if b.state.State == models.BreakerHalfOpen && !b.cfg.TrackIndividualAttempts {
		b.state.HalfOpen.Total++
		b.state.HalfOpen.Succeeded++
		b.evaluateHalfOpenLocked()
	} else {
		b.evaluateClosedThresholdLocked(&b.state.Request)
	}
	b.maybeResetCountersLocked(&b.state.Request)
	b.mu.Unlock()
	b.persist(ctx)
}

// RecordFailure records a request-level failure.
func (b *Breaker) RecordFailure(ctx context.Context) {
	b.mu.Lock()
	now := time.Now().UnixMilli()
	b.state.Request.Total++
	b.state.Request.Failed++
	b.state.LastFailureTime = now
	if b.state.State == models.BreakerHalfOpen && !b.cfg.TrackIndividualAttempts {
		b.state.HalfOpen.Total++
		b.state.HalfOpen.Failed++
		b.evaluateHalfOpenLocked()
	} else {
		b.evaluateClosedThresholdLocked(&b.state.Request)
	}
	b.maybeResetCountersLocked(&b.state.Request)
	b.mu.Unlock()
	b.persist(ctx)
}

// RecordAttemptSuccess records an attempt-level success and, if the breaker
// is in half-open, evaluates the probe window.
func (b *Breaker) RecordAttemptSuccess(ctx context.Context) {
	b.mu.Lock()
	b.state.Attempt.Total++
	b.state.Attempt.Succeeded++
	if b.state.State == models.BreakerHalfOpen {
		b.state.HalfOpen.Total++
		b.state.HalfOpen.Succeeded++
		b.evaluateHalfOpenLocked()
	} else if b.cfg.TrackIndividualAttempts {
		b.evaluateClosedThresholdLocked(&b.state.Attempt)
	}
	b.maybeResetCountersLocked(&b.state.Attempt)
	b.mu.Unlock()
	b.persist(ctx)
}

// RecordAttemptFailure records an attempt-level failure and, if the breaker
// is in half-open, evaluates the probe window.
func (b *Breaker) RecordAttemptFailure(ctx context.Context) {
	b.mu.Lock()
	now := time.Now().UnixMilli()
	b.state.Attempt.Total++
	b.state.Attempt.Failed++
	b.state.LastFailureTime = now
	if b.state.State == models.BreakerHalfOpen {
		b.state.HalfOpen.Total++
		b.state.HalfOpen.Failed++
		b.evaluateHalfOpenLocked()
	} else if b.cfg.TrackIndividualAttempts {
		b.evaluateClosedThresholdLocked(&b.state.Attempt)
	}
	b.maybeResetCountersLocked(&b.state.Attempt)
	b.mu.Unlock()
	b.persist(ctx)
}

// JustOpened reports whether the breaker's current state is OPEN — callers
// use this right after a Record* call to decide whether to raise OpenError.
func (b *Breaker) JustOpened() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.State == models.BreakerOpen
}

func (b *Breaker) evaluateClosedThresholdLocked(t *models.Triplet) {
	if b.state.State != models.BreakerClosed {
		return
	}
	if t.Total < int64(b.cfg.MinimumRequests) {
		return
	}
	pct := float64(t.Failed) / float64(t.Total) * 100
	if pct >= b.cfg.FailureThresholdPercentage {
		b.openLocked()
	}
}

func (b *Breaker) evaluateHalfOpenLocked() {
	if b.state.HalfOpen.Total < int64(b.cfg.HalfOpenMaxRequests) {
		return
	}
	pct := float64(b.state.HalfOpen.Succeeded) / float64(b.state.HalfOpen.Total) * 100
	if pct >= b.cfg.SuccessThresholdPercentage {
		b.closeLocked()
		b.state.Recovery.Successful++
	} else {
		b.openLocked()
		b.state.Recovery.Failed++
	}
}

func (b *Breaker) maybeResetCountersLocked(t *models.Triplet) {
	if b.state.State != models.BreakerClosed {
		return
	}
	if t.Total >= int64(10*b.cfg.MinimumRequests) {
		b.state.Request = models.Triplet{}
		b.state.Attempt = models.Triplet{}
	}
}

// Execute checks admission, runs fn, records the outcome at request level,
// and returns the underlying error.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if !b.CanExecute(ctx) {
		return &OpenError{Reason: "admission denied"}
	}
	err := fn()
	if err != nil {
		b.RecordFailure(ctx)
		return err
	}
	b.RecordSuccess(ctx)
	return nil
}

// Metrics is the breaker's derived read-only statistics.
type Metrics struct {
	AverageOpenDurationMs float64
	RecoverySuccessRate   float64
	OpenUntil             int64 // unix millis, 0 if not currently open
}

// Snapshot returns the breaker's derived metrics alongside its raw state.
func (b *Breaker) Snapshot() (models.BreakerState, Metrics) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := Metrics{}
	if b.state.StateChange.OpenCount > 0 {
		m.AverageOpenDurationMs = float64(b.state.StateChange.TotalOpenDuration) / float64(b.state.StateChange.OpenCount)
	}
	totalRecoveries := b.state.Recovery.Successful + b.state.Recovery.Failed
	if totalRecoveries > 0 {
		m.RecoverySuccessRate = float64(b.state.Recovery.Successful) / float64(totalRecoveries) * 100
	}
	if b.state.State == models.BreakerOpen {
		m.OpenUntil = b.state.LastFailureTime + int64(b.cfg.RecoveryTimeoutMs)
	}
	return b.state, m
}
