// Package cachekey computes a stable fingerprint for a transport config, used
// by the response cache to key its LRU map.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/stablereq/stablereq/pkg/models"
)

// headerSubset is the exact set of headers folded into the fingerprint,
// lower-cased, pipe-separated as "name:value".
var headerSubset = []string{"accept", "accept-encoding", "accept-language", "authorization"}

// Generator produces a cache key for a transport config. Callers may supply
// their own to override the default fingerprinting scheme.
type Generator func(cfg models.TransportConfig) string

// Default builds the canonical fingerprint:
// UPPER(method) + ":" + url + ":" + json(params) + ":" + join(sorted header subset)
// hashed with SHA-256 and hex-encoded (64 characters). Default never falls
// back; the deterministic 32-bit FNV variant (8 hex digits) is a separate
// generator, DefaultFNV.
func Default(cfg models.TransportConfig) string {
	return hashRaw(raw(cfg))
}

// DefaultFNV is the non-cryptographic fallback, kept available for
// environments that want to avoid SHA-256 (e.g. to match a prior
// fingerprint scheme during a migration).
func DefaultFNV(cfg models.TransportConfig) string {
	h := fnv.New32a()
	h.Write([]byte(raw(cfg)))
	return fmt.Sprintf("%08x", h.Sum32())
}

func raw(cfg models.TransportConfig) string {
	paramsJSON, _ := json.Marshal(sortedMap(cfg.Params))

	headerParts := make([]string, 0, len(headerSubset))
	for _, name := range headerSubset {
		if v := lookupHeader(cfg.Headers, name); v != "" {
			headerParts = append(headerParts, name+":"+strings.ToLower(v))
		}
	}
	sort.Strings(headerParts)

	return strings.ToUpper(cfg.Method) + ":" + cfg.URL + ":" + string(paramsJSON) + ":" + strings.Join(headerParts, "|")
}

func hashRaw(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func lookupHeader(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// sortedMap returns a map with lower-cased keys, suitable for deterministic
// JSON marshaling (Go's encoding/json already sorts map keys, but lowercasing
// avoids key-case producing distinct fingerprints for the same query).
func sortedMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}
