package cachekey

import (
	"testing"

	"github.com/stablereq/stablereq/pkg/models"
)

func baseConfig() models.TransportConfig {
	return models.TransportConfig{
		Method:  "get",
		URL:     "/widgets",
		BaseURL: "https://api.example.test:443",
		Params:  map[string]string{"page": "1"},
		Headers: map[string]string{"Accept": "application/json"},
	}
}

func TestDefaultIsStable(t *testing.T) {
	a := Default(baseConfig())
	b := Default(baseConfig())
	if a != b {
		t.Fatalf("expected identical configs to fingerprint identically: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected a hex-encoded SHA-256 digest (64 chars), got %d chars", len(a))
	}
}

func TestDefaultMethodCaseInsensitive(t *testing.T) {
	lower := baseConfig()
	upper := baseConfig()
	upper.Method = "GET"
	if Default(lower) != Default(upper) {
		t.Fatal("expected method case to not affect the fingerprint")
	}
}

func TestDefaultDistinguishesParams(t *testing.T) {
	a := baseConfig()
	b := baseConfig()
	b.Params = map[string]string{"page": "2"}
	if Default(a) == Default(b) {
		t.Fatal("expected differing params to produce differing fingerprints")
	}
}

func TestDefaultOnlyFoldsHeaderSubset(t *testing.T) {
	a := baseConfig()
	b := baseConfig()
	b.Headers = map[string]string{"Accept": "application/json", "X-Request-Id": "abc123"}
	if Default(a) != Default(b) {
		t.Fatal("expected headers outside the subset to not affect the fingerprint")
	}

	c := baseConfig()
	c.Headers = map[string]string{"Accept": "application/json", "Authorization": "Bearer tok"}
	if Default(a) == Default(c) {
		t.Fatal("expected authorization header to affect the fingerprint")
	}
}

func TestDefaultFNVShape(t *testing.T) {
	key := DefaultFNV(baseConfig())
	if len(key) != 8 {
		t.Fatalf("expected an 8-hex-digit FNV key, got %q", key)
	}
	if key != DefaultFNV(baseConfig()) {
		t.Fatal("expected the FNV fallback to be deterministic")
	}
}
