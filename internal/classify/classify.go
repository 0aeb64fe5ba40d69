// Package classify maps transport errors and HTTP status codes to a
// retryable/non-retryable verdict.
package classify

import "strings"

// retryableCodes mirrors the network error codes a transport adapter is
// expected to surface on the error it returns (see internal/transport).
var retryableCodes = map[string]bool{
	"ECONNRESET":  true,
	"ETIMEDOUT":   true,
	"ECONNREFUSED": true,
	"ENOTFOUND":   true,
	"EAI_AGAIN":   true,
}

// ErrCancelled is the sentinel error string used for caller-issued
// cancellation, which is always non-retryable.
const ErrCancelled = "request cancelled"

// IsRetryableCode reports whether a transport error code is retryable.
func IsRetryableCode(code string) bool {
	if code == "" {
		return false
	}
	return retryableCodes[strings.ToUpper(code)]
}

// IsRetryableStatus reports whether an HTTP status code is retryable:
// 408, 409, 429, or any 5xx.
func IsRetryableStatus(status int) bool {
	switch status {
	case 408, 409, 429:
		return true
	}
	return status >= 500 && status < 600
}

// Classify decides retryability for a completed (but failed/errored)
// attempt. cancelled takes precedence over everything else.
func Classify(cancelled bool, code string, status int) bool {
	if cancelled {
		return false
	}
	if code != "" && IsRetryableCode(code) {
		return true
	}
	if status > 0 && IsRetryableStatus(status) {
		return true
	}
	return false
}
