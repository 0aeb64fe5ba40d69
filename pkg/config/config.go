// Package config loads a stablereq profile from YAML and builds the typed
// request descriptor, engine options, cache config and breaker config it
// describes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stablereq/stablereq/internal/breaker"
	"github.com/stablereq/stablereq/internal/cache"
	"github.com/stablereq/stablereq/internal/engine"
	"github.com/stablereq/stablereq/internal/metrics"
	"github.com/stablereq/stablereq/pkg/models"
)

// YAMLProfile is the on-disk shape of a stablereq profile file.
type YAMLProfile struct {
	Target struct {
		Hostname string            `yaml:"hostname"`
		Protocol string            `yaml:"protocol,omitempty"`
		Method   string            `yaml:"method,omitempty"`
		Path     string            `yaml:"path,omitempty"`
		Port     int               `yaml:"port,omitempty"`
		Headers  map[string]string `yaml:"headers,omitempty"`
		Query    map[string]string `yaml:"query,omitempty"`
		Body     string            `yaml:"body,omitempty"`
		BodyFile string            `yaml:"body_file,omitempty"`
		BodyJSON any               `yaml:"body_json,omitempty"`
		Timeout  string            `yaml:"timeout,omitempty"`
	} `yaml:"target"`

	Retry struct {
		Attempts           int     `yaml:"attempts,omitempty"`
		PerformAllAttempts bool    `yaml:"perform_all_attempts,omitempty"`
		Wait               string  `yaml:"wait,omitempty"`
		MaxAllowedWait     string  `yaml:"max_allowed_wait,omitempty"`
		Strategy           string  `yaml:"strategy,omitempty"` // fixed, linear, exponential
		Jitter             float64 `yaml:"jitter,omitempty"`
	} `yaml:"retry"`

	Cache struct {
		Enabled             bool   `yaml:"enabled,omitempty"`
		MaxSize             int    `yaml:"max_size,omitempty"`
		DefaultTTL          string `yaml:"default_ttl,omitempty"`
		RespectCacheControl bool   `yaml:"respect_cache_control,omitempty"`
	} `yaml:"cache"`

	Breaker struct {
		Enabled                    bool    `yaml:"enabled,omitempty"`
		FailureThresholdPercentage float64 `yaml:"failure_threshold_percentage,omitempty"`
		MinimumRequests            int     `yaml:"minimum_requests,omitempty"`
		RecoveryTimeout            string  `yaml:"recovery_timeout,omitempty"`
		SuccessThresholdPercentage float64 `yaml:"success_threshold_percentage,omitempty"`
		HalfOpenMaxRequests        int     `yaml:"half_open_max_requests,omitempty"`
		TrackIndividualAttempts    bool    `yaml:"track_individual_attempts,omitempty"`
	} `yaml:"breaker"`

	Observability struct {
		LogAllErrors               bool `yaml:"log_all_errors,omitempty"`
		LogAllSuccessfulAttempts   bool `yaml:"log_all_successful_attempts,omitempty"`
		MaxSerializableChars       int  `yaml:"max_serializable_chars,omitempty"`
		ThrowOnFailedErrorAnalysis bool `yaml:"throw_on_failed_error_analysis,omitempty"`
	} `yaml:"observability"`

	TrialMode struct {
		Enabled               bool    `yaml:"enabled,omitempty"`
		ReqFailureProbability float64 `yaml:"req_failure_probability,omitempty"`
		ResponsePattern       string  `yaml:"response_pattern,omitempty"`
	} `yaml:"trial_mode"`

	Guardrails []YAMLGuardrail `yaml:"guardrails,omitempty"`
}

// YAMLGuardrail is one metric bound in a profile file. Pointer fields
// distinguish "not set" from an explicit zero.
type YAMLGuardrail struct {
	Metric    string   `yaml:"metric"`
	Min       *float64 `yaml:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty"`
	Expected  *float64 `yaml:"expected,omitempty"`
	Tolerance float64  `yaml:"tolerance,omitempty"`
}

// Profile is the resolved, typed form of a YAML profile, ready to drive an
// engine.Execute call and to construct the cache/breaker collaborators.
type Profile struct {
	Descriptor models.RequestDescriptor
	Options    engine.Options
	Cache      *cache.Config   // nil when the profile disables caching
	Breaker    *breaker.Config // nil when the profile disables the breaker
}

// Load reads a YAML profile file and resolves it into a Profile.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return Parse(data)
}

// Parse resolves a YAML profile already read into memory.
func Parse(data []byte) (*Profile, error) {
	var y YAMLProfile
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}

	desc := models.RequestDescriptor{
		Hostname: y.Target.Hostname,
		Protocol: models.Protocol(y.Target.Protocol),
		Method:   models.Method(y.Target.Method),
		Path:     y.Target.Path,
		Port:     y.Target.Port,
		Headers:  y.Target.Headers,
		Query:    y.Target.Query,
	}

	if y.Target.BodyFile != "" {
		b, err := os.ReadFile(y.Target.BodyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read body_file %q: %w", y.Target.BodyFile, err)
		}
		desc.Body = b
	} else if y.Target.Body != "" {
		desc.Body = []byte(y.Target.Body)
	} else if y.Target.BodyJSON != nil {
		b, err := json.Marshal(y.Target.BodyJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body_json: %w", err)
		}
		desc.Body = b
	}

	if y.Target.Timeout != "" {
		d, err := time.ParseDuration(y.Target.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid target.timeout: %w", err)
		}
		desc.TimeoutMs = int(d.Milliseconds())
	}

	opts := engine.Options{
		Attempts:                   y.Retry.Attempts,
		PerformAllAttempts:         y.Retry.PerformAllAttempts,
		Jitter:                     y.Retry.Jitter,
		LogAllErrors:               y.Observability.LogAllErrors,
		LogAllSuccessfulAttempts:   y.Observability.LogAllSuccessfulAttempts,
		MaxSerializableChars:       y.Observability.MaxSerializableChars,
		ThrowOnFailedErrorAnalysis: y.Observability.ThrowOnFailedErrorAnalysis,
		TrialMode: models.TrialMode{
			Enabled:               y.TrialMode.Enabled,
			ReqFailureProbability: y.TrialMode.ReqFailureProbability,
			ResponsePattern:       y.TrialMode.ResponsePattern,
		},
	}

	if y.Retry.Wait != "" {
		d, err := time.ParseDuration(y.Retry.Wait)
		if err != nil {
			return nil, fmt.Errorf("invalid retry.wait: %w", err)
		}
		opts.Wait = int(d.Milliseconds())
	}
	if y.Retry.MaxAllowedWait != "" {
		d, err := time.ParseDuration(y.Retry.MaxAllowedWait)
		if err != nil {
			return nil, fmt.Errorf("invalid retry.max_allowed_wait: %w", err)
		}
		opts.MaxAllowedWait = int(d.Milliseconds())
	}
	if y.Retry.Strategy != "" {
		strategy, suggestion := ValidateRetryStrategy(y.Retry.Strategy)
		if strategy == "" {
			err := &ValidationError{Field: "retry.strategy", Value: y.Retry.Strategy, Message: "invalid retry strategy", Expected: "fixed, linear, or exponential"}
			if suggestion != "" {
				err.DidYouMean = suggestion
			}
			return nil, err
		}
		opts.RetryStrategy = strategy
	}

	for _, g := range y.Guardrails {
		rail := metrics.Guardrail{Metric: g.Metric, Tolerance: g.Tolerance}
		if g.Min != nil {
			rail.Min, rail.HasMin = *g.Min, true
		}
		if g.Max != nil {
			rail.Max, rail.HasMax = *g.Max, true
		}
		if g.Expected != nil {
			rail.Expected, rail.HasExpected = *g.Expected, true
		}
		opts.Guardrails = append(opts.Guardrails, rail)
	}

	p := &Profile{Descriptor: desc, Options: opts}

	if y.Cache.Enabled {
		ttl := 300 * time.Second
		if y.Cache.DefaultTTL != "" {
			d, err := time.ParseDuration(y.Cache.DefaultTTL)
			if err != nil {
				return nil, fmt.Errorf("invalid cache.default_ttl: %w", err)
			}
			ttl = d
		}
		p.Cache = &cache.Config{
			MaxSize:             y.Cache.MaxSize,
			DefaultTTL:          ttl,
			RespectCacheControl: y.Cache.RespectCacheControl,
		}
	}

	if y.Breaker.Enabled {
		recovery := 30 * time.Second
		if y.Breaker.RecoveryTimeout != "" {
			d, err := time.ParseDuration(y.Breaker.RecoveryTimeout)
			if err != nil {
				return nil, fmt.Errorf("invalid breaker.recovery_timeout: %w", err)
			}
			recovery = d
		}
		p.Breaker = &breaker.Config{
			FailureThresholdPercentage: y.Breaker.FailureThresholdPercentage,
			MinimumRequests:            y.Breaker.MinimumRequests,
			RecoveryTimeoutMs:          int(recovery.Milliseconds()),
			SuccessThresholdPercentage: y.Breaker.SuccessThresholdPercentage,
			HalfOpenMaxRequests:        y.Breaker.HalfOpenMaxRequests,
			TrackIndividualAttempts:    y.Breaker.TrackIndividualAttempts,
		}
	}

	if err := Validate(p); err != nil {
		return nil, err
	}

	return p, nil
}

// Validate checks a resolved Profile for the errors that would otherwise
// only surface once the engine starts running.
func Validate(p *Profile) error {
	result := &ValidationResult{}

	if p.Descriptor.Hostname == "" {
		result.Add(ValidationError{Field: "target.hostname", Message: "missing required field", Hint: GetHint("target.hostname")})
	}

	if p.Descriptor.Method != "" {
		if valid, suggestion := ValidateHTTPMethod(string(p.Descriptor.Method)); !valid {
			err := ValidationError{Field: "target.method", Value: string(p.Descriptor.Method), Message: "invalid HTTP method", Expected: "GET, POST, PUT, PATCH, or DELETE"}
			if suggestion != "" {
				err.DidYouMean = suggestion
			}
			result.Add(err)
		}
	}

	if p.Descriptor.Path != "" && p.Descriptor.Path[0] != '/' {
		result.Add(ValidationError{Field: "target.path", Value: p.Descriptor.Path, Message: "path must begin with \"/\"", Hint: "e.g. \"/v1/widgets\""})
	}

	if result.HasErrors() {
		return fmt.Errorf("%s", result.FormatErrors())
	}
	return nil
}
