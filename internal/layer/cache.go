package layer

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plgd-dev/go-coap/v3/message/codes"

	"coap-gateway/internal/metrics"
	"coap-gateway/internal/model"
)

// DefaultCacheTTL is the freshness of a cached response that carried no Max-Age.
const DefaultCacheTTL = 60 * time.Second

// CacheConfig configures the caching layer.
type CacheConfig struct {
	Enabled bool
	// TTL applies to replies without a Max-Age option.
	TTL time.Duration
	// MaxEntries bounds the cache size (0 = unlimited).
	MaxEntries int
	// SweepInterval is how often expired entries are removed. Defaults to TTL/2.
	SweepInterval time.Duration
}

// Cache answers retrieval requests from previously stored responses. Entries
// are keyed by CoAP method and target URI, expire after their TTL and are
// evicted least recently used first when the cache is full.
type Cache struct {
	resolver   *Resolver
	enabled    bool
	ttl        time.Duration
	maxEntries int
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List

	hits   atomic.Uint64
	misses atomic.Uint64

	stopCh    chan struct{}
	closeOnce sync.Once
}

type cacheEntry struct {
	key       string
	resp      *model.Response
	expiresAt time.Time
}

// NewCache creates the caching stage and starts its sweeper when enabled.
// The metrics parameter is optional; pass nil to disable cache metrics.
func NewCache(cfg CacheConfig, resolver *Resolver, logger *slog.Logger, m *metrics.Metrics) *Cache {
	return newCache(cfg, resolver, logger, m, time.Now)
}

func newCache(cfg CacheConfig, resolver *Resolver, logger *slog.Logger, m *metrics.Metrics, now func() time.Time) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{
		resolver:   resolver,
		enabled:    cfg.Enabled,
		ttl:        ttl,
		maxEntries: cfg.MaxEntries,
		logger:     logger.With("component", "cache"),
		metrics:    m,
		now:        now,
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		stopCh:     make(chan struct{}),
	}

	if c.enabled {
		interval := cfg.SweepInterval
		if interval <= 0 {
			interval = max(ttl/2, time.Second)
		}
		go c.sweep(interval)
	}
	return c
}

func (c *Cache) Name() string { return "cache" }

// Attempt returns a copy of the stored response for msg, bound to msg.
func (c *Cache) Attempt(_ context.Context, msg *model.ProxyMessage) (*model.Response, error) {
	key, ok := c.key(msg)
	if !ok {
		return nil, nil
	}

	if resp := c.get(key); resp != nil {
		c.hits.Add(1)
		c.count("hit")
		c.logger.Debug("cache hit", "key", key)
		return resp.WithRequest(msg, model.SourceCache), nil
	}

	c.misses.Add(1)
	c.count("miss")
	return nil, nil
}

// Complete stores successful responses produced above the cache. A reply
// carrying Max-Age 0 is not stored.
func (c *Cache) Complete(_ context.Context, msg *model.ProxyMessage, resp *model.Response, err error) {
	if err != nil || resp == nil || resp.IsError() {
		return
	}
	key, ok := c.key(msg)
	if !ok {
		return
	}

	ttl := c.ttl
	if resp.HasMaxAge {
		if resp.MaxAge <= 0 {
			c.logger.Debug("not caching reply with zero max-age", "key", key)
			return
		}
		ttl = resp.MaxAge
	}
	c.set(key, resp.WithRequest(nil, model.SourceCache), ttl)
}

// key reports false for requests the cache does not handle.
func (c *Cache) key(msg *model.ProxyMessage) (string, bool) {
	if !c.enabled {
		return "", false
	}
	key, method, err := c.resolver.Key(msg)
	if err != nil || method != codes.GET {
		return "", false
	}
	return key, true
}

func (c *Cache) get(key string) *model.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil
	}
	entry := el.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		c.removeElement(el, "expired")
		return nil
	}
	c.lru.MoveToFront(el)
	return entry.resp
}

func (c *Cache) set(key string, resp *model.Response, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.resp = resp
		entry.expiresAt = expiresAt
		c.lru.MoveToFront(el)
		return
	}

	if c.maxEntries > 0 && c.lru.Len() >= c.maxEntries {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest, "capacity")
		}
	}

	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, resp: resp, expiresAt: expiresAt})
	c.setGauge()
}

// removeElement must be called with mu held.
func (c *Cache) removeElement(el *list.Element, reason string) {
	entry := c.lru.Remove(el).(*cacheEntry)
	delete(c.entries, entry.key)
	if c.metrics != nil {
		c.metrics.CacheEvictions.WithLabelValues(reason).Inc()
	}
	c.setGauge()
}

func (c *Cache) setGauge() {
	if c.metrics != nil {
		c.metrics.CacheEntries.Set(float64(c.lru.Len()))
	}
}

func (c *Cache) count(result string) {
	if c.metrics != nil {
		c.metrics.CacheRequests.WithLabelValues(result).Inc()
	}
}

func (c *Cache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.removeExpired(); n > 0 {
				c.logger.Debug("expired cache entries removed", "count", n)
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) removeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*cacheEntry).expiresAt) {
			c.removeElement(el, "expired")
			removed++
		}
		el = prev
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns the number of cache hits and misses since start.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Enabled reports whether the cache stores and serves responses.
func (c *Cache) Enabled() bool { return c.enabled }

// Close stops the background sweeper. It is safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.stopCh) })
}
