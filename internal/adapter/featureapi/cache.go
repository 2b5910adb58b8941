package featureapi

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
	"github.com/couchcryptid/hotspot-sync-service/internal/observability"
)

// PageCache stores decoded pages by key. Implementations expire entries on their own.
type PageCache interface {
	Get(ctx context.Context, key string) (domain.Page, bool, error)
	Set(ctx context.Context, key string, page domain.Page) error
}

// CachedFetcher wraps a PageFetcher with a page cache keyed by page URL.
type CachedFetcher struct {
	inner   domain.PageFetcher
	cache   PageCache
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewCachedFetcher creates a cache decorator around a fetcher.
func NewCachedFetcher(inner domain.PageFetcher, cache PageCache, metrics *observability.Metrics, logger *slog.Logger) *CachedFetcher {
	return &CachedFetcher{
		inner:   inner,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

func (c *CachedFetcher) FirstPageURL(q domain.Query) (string, error) {
	return c.inner.FirstPageURL(q)
}

// FetchPage serves pageURL from the cache when possible. Cached pages never
// hold the API key; the next link gets the caller's key back on the way out.
func (c *CachedFetcher) FetchPage(ctx context.Context, pageURL string) (domain.Page, error) {
	key := redact(pageURL)
	page, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		// A broken cache degrades to direct fetches.
		c.logger.Warn("page cache read failed", "url", key, "error", err)
	}
	if ok {
		c.metrics.PageCache.WithLabelValues("hit").Inc()
		page.Next = withAPIKey(page.Next, pageURL)
		return page, nil
	}
	c.metrics.PageCache.WithLabelValues("miss").Inc()

	page, err = c.inner.FetchPage(ctx, pageURL)
	if err != nil {
		return page, err
	}
	stored := page
	stored.Next = redact(page.Next)
	if err := c.cache.Set(ctx, key, stored); err != nil {
		c.logger.Warn("page cache write failed", "url", key, "error", err)
	}
	page.Next = withAPIKey(page.Next, pageURL)
	return page, nil
}

// LRUCache is a thread-safe in-memory PageCache with per-entry expiry.
type LRUCache struct {
	maxEntries int
	ttl        time.Duration
	clock      clockwork.Clock

	mu      sync.Mutex
	entries map[string]*entry
	head    *entry // most recently used
	tail    *entry // least recently used
}

type entry struct {
	key     string
	value   domain.Page
	expires time.Time
	prev    *entry
	next    *entry
}

// NewLRUCache creates an LRU page cache. A nil clock uses real time.
func NewLRUCache(maxEntries int, ttl time.Duration, clock clockwork.Clock) *LRUCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LRUCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      clock,
		entries:    make(map[string]*entry),
	}
}

func (c *LRUCache) Get(_ context.Context, key string) (domain.Page, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.Page{}, false, nil
	}
	if !c.clock.Now().Before(e.expires) {
		delete(c.entries, key)
		c.remove(e)
		return domain.Page{}, false, nil
	}
	c.moveToFront(e)
	return e.value, true, nil
}

func (c *LRUCache) Set(_ context.Context, key string, page domain.Page) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.clock.Now().Add(c.ttl)
	if e, ok := c.entries[key]; ok {
		e.value = page
		e.expires = expires
		c.moveToFront(e)
		return nil
	}

	e := &entry{key: key, value: page, expires: expires}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
	return nil
}

// Len reports the number of cached pages, expired ones included.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *LRUCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *LRUCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *LRUCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *LRUCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
