// Package models defines the data shapes shared across stablereq's
// components: the request descriptor, attempt/result records, log entries,
// cache and breaker persistence shapes, and the final engine result.
package models

import (
	"context"
	"time"
)

// Method is an HTTP method accepted by a RequestDescriptor.
type Method string

const (
	MethodGET    Method = "GET"
	MethodPOST   Method = "POST"
	MethodPUT    Method = "PUT"
	MethodPATCH  Method = "PATCH"
	MethodDELETE Method = "DELETE"
)

// Protocol is the scheme used to reach the target host.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// RequestDescriptor is the caller-facing description of a single logical
// request. Defaults are applied by the engine when it builds a
// TransportConfig from one of these.
type RequestDescriptor struct {
	Hostname  string            `yaml:"hostname" json:"hostname"`
	Protocol  Protocol          `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	Method    Method            `yaml:"method,omitempty" json:"method,omitempty"`
	Path      string            `yaml:"path,omitempty" json:"path,omitempty"`
	Port      int               `yaml:"port,omitempty" json:"port,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Query     map[string]string `yaml:"query,omitempty" json:"query,omitempty"`
	Body      []byte            `yaml:"-" json:"-"`
	TimeoutMs int               `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	Cancel    context.Context   `yaml:"-" json:"-"`
}

// TransportConfig is the normalized, default-applied request ready to be
// handed to the transport adapter.
type TransportConfig struct {
	Method  string
	URL     string
	BaseURL string
	Headers map[string]string
	Params  map[string]string
	Data    []byte
	Timeout time.Duration
	Cancel  context.Context
}

// AttemptResult is the outcome of a single transport call.
type AttemptResult struct {
	OK              bool      `json:"ok"`
	IsRetryable     bool      `json:"isRetryable"`
	Timestamp       time.Time `json:"timestamp"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	StatusCode      int       `json:"statusCode"`
	Error           string    `json:"error,omitempty"`
	Data            []byte    `json:"data,omitempty"`
	Headers         map[string][]string `json:"headers,omitempty"`
	FromCache       bool      `json:"fromCache"`
}

// ErrorLogType classifies why an attempt was logged as an error.
type ErrorLogType string

const (
	ErrorTypeHTTP    ErrorLogType = "HTTP_ERROR"
	ErrorTypeInvalid ErrorLogType = "INVALID_CONTENT"
)

// ErrorLogEntry records one failed or rejected attempt.
type ErrorLogEntry struct {
	Timestamp       time.Time    `json:"timestamp"`
	Attempt         string       `json:"attempt"` // "i/N"
	Error           string       `json:"error"`
	Type            ErrorLogType `json:"type"`
	IsRetryable     bool         `json:"isRetryable"`
	ExecutionTimeMs int64        `json:"executionTimeMs"`
	StatusCode      int          `json:"statusCode"`
}

// SuccessLogEntry records one accepted attempt.
type SuccessLogEntry struct {
	Attempt         string    `json:"attempt"`
	Timestamp       time.Time `json:"timestamp"`
	Data            []byte    `json:"data,omitempty"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	StatusCode      int       `json:"statusCode"`
}

// CacheEntry is one stored response in the response cache.
type CacheEntry struct {
	Data       []byte              `json:"data"`
	Status     int                 `json:"status"`
	StatusText string              `json:"statusText"`
	Headers    map[string][]string `json:"headers"`
	Timestamp  int64               `json:"timestamp"` // unix millis
	ExpiresAt  int64               `json:"expiresAt"` // unix millis
}

// CacheCounters is the observable counter set exposed by the response cache.
type CacheCounters struct {
	Hits            int64 `json:"hits"`
	Misses          int64 `json:"misses"`
	Sets            int64 `json:"sets"`
	Evictions       int64 `json:"evictions"`
	Expirations     int64 `json:"expirations"`
	TotalGetTimeMs  int64 `json:"totalGetTimeMs"`
	TotalSetTimeMs  int64 `json:"totalSetTimeMs"`
}

// CacheState is the full persistence shape for the response cache.
type CacheState struct {
	Entries     map[string]CacheEntry `json:"entries"`
	AccessOrder []string              `json:"accessOrder"`
	Counters    CacheCounters         `json:"counters"`
}

// BreakerStateName enumerates the circuit breaker's three states.
type BreakerStateName string

const (
	BreakerClosed   BreakerStateName = "CLOSED"
	BreakerOpen     BreakerStateName = "OPEN"
	BreakerHalfOpen BreakerStateName = "HALF_OPEN"
)

// Triplet is a total/failed/succeeded counter group.
type Triplet struct {
	Total     int64 `json:"total"`
	Failed    int64 `json:"failed"`
	Succeeded int64 `json:"succeeded"`
}

// HalfOpenTriplet mirrors Triplet with the field order the half-open
// persistence shape uses.
type HalfOpenTriplet struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// StateChangeStats tracks breaker transition bookkeeping.
type StateChangeStats struct {
	Transitions         int64 `json:"transitions"`
	LastStateChangeTime int64 `json:"lastStateChangeTime"`
	OpenCount           int64 `json:"openCount"`
	HalfOpenCount       int64 `json:"halfOpenCount"`
	TotalOpenDuration   int64 `json:"totalOpenDuration"`
	LastOpenTime        int64 `json:"lastOpenTime"`
}

// RecoveryStats tracks half-open recovery outcomes.
type RecoveryStats struct {
	RecoveryAttempts int64 `json:"recoveryAttempts"`
	Successful       int64 `json:"successful"`
	Failed           int64 `json:"failed"`
}

// BreakerState is the full persistence shape for the circuit breaker.
type BreakerState struct {
	State           BreakerStateName `json:"state"`
	Request         Triplet          `json:"request"`
	Attempt         Triplet          `json:"attempt"`
	HalfOpen        HalfOpenTriplet  `json:"halfOpen"`
	LastFailureTime int64            `json:"lastFailureTime"`
	StateChange     StateChangeStats `json:"stateChange"`
	Recovery        RecoveryStats    `json:"recovery"`
}

// BufferTransactionLog is one logged stable-buffer transaction.
type BufferTransactionLog struct {
	TransactionID string         `json:"transactionId"`
	QueuedAt      time.Time      `json:"queuedAt"`
	StartedAt     time.Time      `json:"startedAt"`
	FinishedAt    time.Time      `json:"finishedAt"`
	DurationMs    int64          `json:"durationMs"`
	QueueWaitMs   int64          `json:"queueWaitMs"`
	Success       bool           `json:"success"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	StateBefore   map[string]any `json:"stateBefore"`
	StateAfter    map[string]any `json:"stateAfter"`
	Activity      string         `json:"activity,omitempty"`
	HookName      string         `json:"hookName,omitempty"`
	HookParams    any            `json:"hookParams,omitempty"`
	WorkflowID    string         `json:"workflowId,omitempty"`
	BranchID      string         `json:"branchId,omitempty"`
	PhaseID       string         `json:"phaseId,omitempty"`
	RequestID     string         `json:"requestId,omitempty"`
}

// ExecutionContext is the optional correlation tuple carried through hooks
// and logs. It never affects engine behavior.
type ExecutionContext struct {
	WorkflowID string `json:"workflowId,omitempty"`
	BranchID   string `json:"branchId,omitempty"`
	PhaseID    string `json:"phaseId,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
}

// RetryStrategy selects the backoff shape between attempts.
type RetryStrategy string

const (
	StrategyFixed       RetryStrategy = "FIXED"
	StrategyLinear      RetryStrategy = "LINEAR"
	StrategyExponential RetryStrategy = "EXPONENTIAL"
)

// TrialMode synthesizes outcomes instead of calling the transport, used for
// dry runs and demos.
type TrialMode struct {
	Enabled               bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	ReqFailureProbability float64 `yaml:"req_failure_probability,omitempty" json:"reqFailureProbability,omitempty"`
	ResponsePattern       string  `yaml:"response_pattern,omitempty" json:"responsePattern,omitempty"`
}

// GuardrailAnomaly is one metric that fell outside its configured guardrail.
type GuardrailAnomaly struct {
	Metric   string  `json:"metric"`
	Value    float64 `json:"value"`
	Min      float64 `json:"min,omitempty"`
	Max      float64 `json:"max,omitempty"`
	Expected float64 `json:"expected,omitempty"`
	Severity string  `json:"severity"` // "minor" | "major"
}

// EngineMetrics is the metrics record always attached to an EngineResult.
type EngineMetrics struct {
	TotalAttempts       int              `json:"totalAttempts"`
	SuccessfulAttempts  int              `json:"successfulAttempts"`
	FailedAttempts      int              `json:"failedAttempts"`
	TotalExecutionTimeMs int64           `json:"totalExecutionTimeMs"`
	P50Ms               float64          `json:"p50Ms"`
	P90Ms               float64          `json:"p90Ms"`
	P99Ms               float64          `json:"p99Ms"`
	MaxMs               float64          `json:"maxMs"`
	MinMs               float64          `json:"minMs"`
	FromCache           bool             `json:"fromCache"`
	BreakerState        BreakerStateName `json:"breakerState,omitempty"`
	Anomalies           []GuardrailAnomaly `json:"anomalies,omitempty"`
}

// EngineResult is the top-level return value of the request engine.
type EngineResult struct {
	Success            bool              `json:"success"`
	Data               any               `json:"data,omitempty"`
	Error              string            `json:"error,omitempty"`
	ErrorLogs          []ErrorLogEntry   `json:"errorLogs,omitempty"`
	SuccessfulAttempts []SuccessLogEntry `json:"successfulAttempts,omitempty"`
	Metrics            EngineMetrics     `json:"metrics"`
}
