package config

import (
	"fmt"
	"strings"

	"github.com/stablereq/stablereq/pkg/models"
)

// ValidationError is a single profile validation failure, with enough
// context to point a caller straight at the fix.
type ValidationError struct {
	Field      string
	Value      string
	Message    string
	Expected   string
	Hint       string
	DidYouMean string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s: %s", e.Field, e.Message))
	if e.Value != "" {
		sb.WriteString(fmt.Sprintf(" (got %q)", e.Value))
	}
	if e.Expected != "" {
		sb.WriteString(fmt.Sprintf(", expected %s", e.Expected))
	}
	if e.DidYouMean != "" {
		sb.WriteString(fmt.Sprintf(", did you mean %q?", e.DidYouMean))
	}
	if e.Hint != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", e.Hint))
	}
	return sb.String()
}

// ValidationResult accumulates every error found across a profile instead of
// failing on the first one, so a caller fixes the file in one pass.
type ValidationResult struct {
	Errors []ValidationError
}

func (v *ValidationResult) Add(err ValidationError) { v.Errors = append(v.Errors, err) }

func (v *ValidationResult) HasErrors() bool { return len(v.Errors) > 0 }

func (v *ValidationResult) FormatErrors() string {
	var sb strings.Builder
	sb.WriteString("profile validation failed:\n")
	for i, err := range v.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

var validHTTPMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE"}
var validRetryStrategies = []string{"fixed", "linear", "exponential"}

var fieldHints = map[string]string{
	"target.hostname": "the bare hostname to connect to, e.g. \"api.example.com\" (no scheme or path)",
	"retry.wait":       "a Go duration string, e.g. \"250ms\" or \"1s\"",
	"breaker.minimum_requests": "how many requests must be observed before the failure percentage is evaluated",
}

// GetHint returns a helpful suggestion for a known field, or "".
func GetHint(field string) string {
	return fieldHints[field]
}

// levenshteinDistance is the classic edit-distance metric, used to suggest
// corrections for near-miss field values (method names, strategy names).
func levenshteinDistance(a, b string) int {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			matrix[i][j] = minInt(
				matrix[i-1][j]+1,
				matrix[i][j-1]+1,
				matrix[i-1][j-1]+cost,
			)
		}
	}
	return matrix[len(a)][len(b)]
}

// FindClosestMatch returns the nearest valid option to input, or "" if
// nothing is close enough to be a plausible typo.
func FindClosestMatch(input string, validOptions []string) string {
	if input == "" {
		return ""
	}
	bestMatch := ""
	bestDistance := 100
	for _, option := range validOptions {
		distance := levenshteinDistance(input, option)
		if distance < bestDistance && distance <= len(option)/2+1 {
			bestDistance = distance
			bestMatch = option
		}
	}
	if strings.EqualFold(input, bestMatch) {
		return ""
	}
	return bestMatch
}

// ValidateHTTPMethod reports whether method is one stablereq supports, and
// suggests the closest valid method on a near-miss.
func ValidateHTTPMethod(method string) (bool, string) {
	upper := strings.ToUpper(method)
	for _, valid := range validHTTPMethods {
		if upper == valid {
			return true, ""
		}
	}
	return false, FindClosestMatch(method, validHTTPMethods)
}

// ValidateRetryStrategy resolves a YAML strategy name to its typed constant,
// returning "" alongside a suggestion when the name is unrecognized.
func ValidateRetryStrategy(name string) (strategy models.RetryStrategy, suggestion string) {
	lower := strings.ToLower(name)
	switch lower {
	case "fixed":
		return models.StrategyFixed, ""
	case "linear":
		return models.StrategyLinear, ""
	case "exponential":
		return models.StrategyExponential, ""
	}
	return "", FindClosestMatch(lower, validRetryStrategies)
}

func minInt(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}
