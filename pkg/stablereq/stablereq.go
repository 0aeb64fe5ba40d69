// Package stablereq is the public library surface: construct a Client from a
// Profile (or build one up by hand) and call Do to run one resilient,
// optionally cached and circuit-broken HTTP request.
package stablereq

import (
	"context"

	"github.com/stablereq/stablereq/internal/breaker"
	"github.com/stablereq/stablereq/internal/buffer"
	"github.com/stablereq/stablereq/internal/cache"
	"github.com/stablereq/stablereq/internal/engine"
	"github.com/stablereq/stablereq/internal/persistence"
	"github.com/stablereq/stablereq/internal/registry"
	"github.com/stablereq/stablereq/internal/transport"
	"github.com/stablereq/stablereq/pkg/config"
	"github.com/stablereq/stablereq/pkg/models"
)

// Client wraps a configured engine along with the default options applied to
// every Do call whose caller doesn't override them.
type Client struct {
	eng            *engine.Engine
	defaultOptions engine.Options
}

// ClientConfig controls how a Client's collaborators are built.
type ClientConfig struct {
	// RegistryKey, if set, acquires the breaker/cache from the shared
	// process-wide registry under this key instead of building private
	// instances — use the same key across Clients that should share breaker
	// and cache state.
	RegistryKey string

	MaxConnsPerHost int
	H2C             bool
	Insecure        bool

	Cache   *cache.Config
	Breaker *breaker.Config

	Hooks engine.Hooks

	DefaultOptions engine.Options
}

// New builds a Client from an explicit configuration.
func New(cfg ClientConfig) *Client {
	t := transport.New(cfg.MaxConnsPerHost, cfg.H2C, cfg.Insecure)
	buf := buffer.New(nil, nil)

	var c *cache.Cache
	if cfg.Cache != nil {
		coord := persistence.New("cache", buf)
		build := func() *cache.Cache { return cache.New(*cfg.Cache, coord, persistence.Hooks{}) }
		if cfg.RegistryKey != "" {
			c = registry.Default().AcquireCache(cfg.RegistryKey, build)
		} else {
			c = build()
		}
	}

	var b *breaker.Breaker
	if cfg.Breaker != nil {
		coord := persistence.New("breaker", buf)
		build := func() *breaker.Breaker { return breaker.New(*cfg.Breaker, coord, persistence.Hooks{}) }
		if cfg.RegistryKey != "" {
			b = registry.Default().AcquireBreaker(cfg.RegistryKey, build)
		} else {
			b = build()
		}
	}

	eng := engine.New(t, c, b, buf, cfg.Hooks)
	return &Client{eng: eng, defaultOptions: cfg.DefaultOptions}
}

// FromProfile builds a Client from a resolved config.Profile. The profile's
// own Options become the Client's defaults; a caller may still override them
// per call via Do's opts parameter.
func FromProfile(p *config.Profile, hooks engine.Hooks) *Client {
	return New(ClientConfig{
		Cache:          p.Cache,
		Breaker:        p.Breaker,
		Hooks:          hooks,
		DefaultOptions: p.Options,
	})
}

// Do executes one logical request described by desc, using opts verbatim if
// given, or the Client's default options otherwise.
func (c *Client) Do(ctx context.Context, desc models.RequestDescriptor, opts *engine.Options) (models.EngineResult, error) {
	o := c.defaultOptions
	if opts != nil {
		o = *opts
	}
	return c.eng.Execute(ctx, desc, o)
}

// Engine exposes the underlying engine for advanced callers (e.g. the CLI's
// live dashboard) that need the lower-level Execute signature directly.
func (c *Client) Engine() *engine.Engine { return c.eng }
