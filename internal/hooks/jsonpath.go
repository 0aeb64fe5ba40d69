package hooks

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
)

// JSONPathAssertion names one gjson path and the value it must equal for a
// response to be accepted.
type JSONPathAssertion struct {
	Path     string
	Expected any
}

// JSONPathAnalyzer builds a responseAnalyzer hook that accepts a response
// iff every assertion's gjson path resolves to its expected value. gjson
// operates directly on the raw body bytes without a full unmarshal, which is
// why it is used here rather than encoding/json plus manual traversal.
func JSONPathAnalyzer(assertions []JSONPathAssertion) Hook {
	return func(ctx context.Context, input any) (any, error) {
		body, ok := bodyFromInput(input)
		if !ok {
			return false, fmt.Errorf("jsonpath analyzer: input carried no response body")
		}
		for _, a := range assertions {
			result := gjson.GetBytes(body, a.Path)
			if !result.Exists() {
				return false, nil
			}
			if !matches(result, a.Expected) {
				return false, nil
			}
		}
		return true, nil
	}
}

func bodyFromInput(input any) ([]byte, bool) {
	switch v := input.(type) {
	case []byte:
		return v, true
	case map[string]any:
		if raw, ok := v["data"].([]byte); ok {
			return raw, true
		}
	}
	return nil, false
}

func matches(result gjson.Result, expected any) bool {
	switch e := expected.(type) {
	case string:
		return result.String() == e
	case float64:
		return result.Num == e
	case int:
		return result.Num == float64(e)
	case bool:
		return result.Bool() == e
	default:
		return false
	}
}
