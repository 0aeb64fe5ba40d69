// Package cache implements the response cache: a bounded LRU of cache
// entries keyed by a canonicalized request fingerprint, honoring HTTP
// cache-control semantics.
package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stablereq/stablereq/internal/cachekey"
	"github.com/stablereq/stablereq/internal/persistence"
	"github.com/stablereq/stablereq/pkg/models"
)

var defaultExcludeMethods = map[string]bool{
	"POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

var defaultCacheableStatusCodes = map[int]bool{
	200: true, 203: true, 204: true, 206: true, 300: true,
	301: true, 404: true, 405: true, 410: true, 414: true, 501: true,
}

// Config controls cache sizing and policy.
type Config struct {
	MaxSize              int
	DefaultTTL           time.Duration
	RespectCacheControl  bool
	ExcludeMethods       map[string]bool
	CacheableStatusCodes map[int]bool
	KeyGenerator         cachekey.Generator
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 500
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 300 * time.Second
	}
	if c.ExcludeMethods == nil {
		c.ExcludeMethods = defaultExcludeMethods
	}
	if c.CacheableStatusCodes == nil {
		c.CacheableStatusCodes = defaultCacheableStatusCodes
	}
	if c.KeyGenerator == nil {
		c.KeyGenerator = cachekey.Default
	}
	return c
}

// Cache is a bounded LRU keyed by request fingerprint.
type Cache struct {
	mu          sync.Mutex
	cfg         Config
	coord       *persistence.Coordinator
	hooks       persistence.Hooks
	entries     map[string]models.CacheEntry
	accessOrder []string
	counters    models.CacheCounters
}

// New constructs an empty cache.
func New(cfg Config, coord *persistence.Coordinator, hooks persistence.Hooks) *Cache {
	return &Cache{
		cfg:         cfg.withDefaults(),
		coord:       coord,
		hooks:       hooks,
		entries:     map[string]models.CacheEntry{},
		accessOrder: []string{},
	}
}

// Initialize loads persisted cache state, if any.
func (c *Cache) Initialize(ctx context.Context) error {
	if c.coord == nil {
		return nil
	}
	state, ok, err := c.coord.Load(ctx, "", c.hooks)
	if err != nil || !ok {
		return nil
	}
	restored, ok := state.(models.CacheState)
	if !ok {
		return nil
	}
	c.mu.Lock()
	if restored.Entries != nil {
		c.entries = restored.Entries
	}
	if restored.AccessOrder != nil {
		c.accessOrder = restored.AccessOrder
	}
	c.counters = restored.Counters
	c.mu.Unlock()
	return nil
}

func (c *Cache) persist(ctx context.Context) {
	if c.coord == nil {
		return
	}
	c.mu.Lock()
	snapshot := models.CacheState{
		Entries:     c.entries,
		AccessOrder: c.accessOrder,
		Counters:    c.counters,
	}
	c.mu.Unlock()
	_ = c.coord.Store(ctx, "", c.hooks, snapshot)
}

// IsCacheableMethod reports whether method may read/write the cache.
func (c *Cache) IsCacheableMethod(method string) bool {
	return !c.cfg.ExcludeMethods[strings.ToUpper(method)]
}

func (c *Cache) isCacheableStatus(status int) bool {
	return c.cfg.CacheableStatusCodes[status]
}

// Key computes the fingerprint for a transport config.
func (c *Cache) Key(cfg models.TransportConfig) string {
	return c.cfg.KeyGenerator(cfg)
}

// Get looks up key, evicting and counting an expired entry as a miss.
func (c *Cache) Get(ctx context.Context, key string) (models.CacheEntry, bool) {
	start := time.Now()
	defer func() {
		c.mu.Lock()
		c.counters.TotalGetTimeMs += time.Since(start).Milliseconds()
		c.mu.Unlock()
	}()

	c.mu.Lock()
	entry, found := c.entries[key]
	now := time.Now().UnixMilli()
	if found && entry.ExpiresAt <= now {
		delete(c.entries, key)
		c.removeFromAccessOrderLocked(key)
		c.counters.Misses++
		c.counters.Expirations++
		c.mu.Unlock()
		c.persist(ctx)
		return models.CacheEntry{}, false
	}
	if !found {
		c.counters.Misses++
		c.mu.Unlock()
		return models.CacheEntry{}, false
	}
	c.moveToTailLocked(key)
	c.counters.Hits++
	c.mu.Unlock()
	return entry, true
}

// Set stores a response under key if the status is cacheable, resolving TTL
// from cache-control headers when RespectCacheControl is set.
func (c *Cache) Set(ctx context.Context, key string, data []byte, status int, statusText string, headers map[string][]string) {
	if !c.isCacheableStatus(status) {
		return
	}

	start := time.Now()
	ttl, ok := c.resolveTTL(headers)
	if !ok || ttl <= 0 {
		return
	}

	now := time.Now()
	entry := models.CacheEntry{
		Data:       data,
		Status:     status,
		StatusText: statusText,
		Headers:    headers,
		Timestamp:  now.UnixMilli(),
		ExpiresAt:  now.Add(ttl).UnixMilli(),
	}

	c.mu.Lock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = entry
	c.moveToTailLocked(key)
	c.counters.Sets++
	c.counters.TotalSetTimeMs += time.Since(start).Milliseconds()
	c.mu.Unlock()

	c.persist(ctx)
}

func (c *Cache) resolveTTL(headers map[string][]string) (time.Duration, bool) {
	if !c.cfg.RespectCacheControl {
		return c.cfg.DefaultTTL, true
	}

	cacheControl := headerValue(headers, "Cache-Control")
	if cacheControl != "" {
		directives := strings.Split(cacheControl, ",")
		for _, d := range directives {
			d = strings.TrimSpace(strings.ToLower(d))
			if d == "no-cache" || d == "no-store" {
				return 0, false
			}
		}
		for _, d := range directives {
			d = strings.TrimSpace(strings.ToLower(d))
			if strings.HasPrefix(d, "max-age=") {
				secs, err := strconv.Atoi(strings.TrimPrefix(d, "max-age="))
				if err == nil {
					return time.Duration(secs) * time.Second, true
				}
			}
		}
	}

	if expires := headerValue(headers, "Expires"); expires != "" {
		if t, err := time.Parse(time.RFC1123, expires); err == nil {
			ttl := time.Until(t)
			if ttl <= 0 {
				return 0, false
			}
			return ttl, true
		}
	}

	return c.cfg.DefaultTTL, true
}

func headerValue(headers map[string][]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// locking: all of the following assume c.mu is held.

func (c *Cache) moveToTailLocked(key string) {
	c.removeFromAccessOrderLocked(key)
	c.accessOrder = append(c.accessOrder, key)
}

func (c *Cache) removeFromAccessOrderLocked(key string) {
	for i, k := range c.accessOrder {
		if k == key {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			return
		}
	}
}

func (c *Cache) evictOldestLocked() {
	if len(c.accessOrder) == 0 {
		return
	}
	oldest := c.accessOrder[0]
	c.accessOrder = c.accessOrder[1:]
	delete(c.entries, oldest)
	c.counters.Evictions++
}

// Counters is the observable counter set plus its derived statistics.
type Counters struct {
	models.CacheCounters
	HitRate              float64
	MissRate             float64
	UtilizationPercentage float64
	AverageCacheAgeMs    float64
	OldestEntryAgeMs     float64
	NewestEntryAgeMs     float64
}

// Snapshot returns the cache's counters and derived statistics.
func (c *Cache) Snapshot() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Counters{CacheCounters: c.counters}
	total := c.counters.Hits + c.counters.Misses
	if total > 0 {
		out.HitRate = float64(c.counters.Hits) / float64(total) * 100
		out.MissRate = float64(c.counters.Misses) / float64(total) * 100
	}
	out.UtilizationPercentage = float64(len(c.entries)) / float64(c.cfg.MaxSize) * 100

	now := time.Now().UnixMilli()
	var sumAge, oldest, newest int64
	first := true
	for _, e := range c.entries {
		age := now - e.Timestamp
		sumAge += age
		if first || age > oldest {
			oldest = age
		}
		if first || age < newest {
			newest = age
		}
		first = false
	}
	if len(c.entries) > 0 {
		out.AverageCacheAgeMs = float64(sumAge) / float64(len(c.entries))
		out.OldestEntryAgeMs = float64(oldest)
		out.NewestEntryAgeMs = float64(newest)
	}
	return out
}
