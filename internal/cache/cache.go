// Package cache provides the render cache: a content-addressable store of
// rendered artifacts with at most one render in flight per key.
//
// Entries are tagged with the content generation they were rendered for.
// Advance moves the cache to a new generation and evicts everything older;
// an older entry is never returned as a hit. Optional LRU size and TTL bounds
// sit on top of the generation rule and are off by default.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/helpdeck/internal/fingerprint"
	"github.com/conneroisu/helpdeck/internal/logging"
)

// Artifact is a rendered view. Data is shared between every caller that
// receives the artifact and must not be modified.
type Artifact struct {
	Key         fingerprint.Key
	Data        []byte
	ContentType string
	Generation  uint64
	Digest      fingerprint.Digest
	CreatedAt   time.Time
	Size        int64
}

// Options configures a RenderCache. The zero value is usable: no size
// bound, no TTL, no render timeout.
type Options struct {
	// MaxBytes bounds the total size of ready artifacts. Zero disables it.
	MaxBytes int64
	// TTL expires ready artifacts this long after they were stored. Zero
	// disables it.
	TTL time.Duration
	// RenderTimeout bounds a single producer call. Zero disables it.
	RenderTimeout time.Duration
	Logger        logging.Logger
}

// RenderCache caches artifacts per key and deduplicates concurrent renders.
type RenderCache struct {
	mu         sync.Mutex
	entries    map[fingerprint.Key]*entry
	inflight   map[fingerprint.Key]*call
	// stale holds renders for generations older than the current one.
	// Their results are shared by stale readers but never stored.
	stale      map[staleKey]*call
	generation uint64
	size       int64

	// LRU list with dummy head and tail, most recent first.
	head *entry
	tail *entry

	maxBytes      int64
	ttl           time.Duration
	renderTimeout time.Duration
	logger        logging.Logger
	now           func() time.Time

	hits          int64
	misses        int64
	joins         int64
	renders       int64
	failures      int64
	evictions     int64
	invalidations int64
	staleRenders  int64
}

type staleKey struct {
	gen uint64
	key fingerprint.Key
}

type entry struct {
	artifact   *Artifact
	storedAt   time.Time
	accessedAt time.Time
	prev       *entry
	next       *entry
}

// New creates a render cache.
func New(opts Options) *RenderCache {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	c := &RenderCache{
		entries:       make(map[fingerprint.Key]*entry),
		inflight:      make(map[fingerprint.Key]*call),
		stale:         make(map[staleKey]*call),
		maxBytes:      opts.MaxBytes,
		ttl:           opts.TTL,
		renderTimeout: opts.RenderTimeout,
		logger:        logger.WithComponent("cache"),
		now:           time.Now,
	}

	c.head = &entry{}
	c.tail = &entry{}
	c.head.next = c.tail
	c.tail.prev = c.head

	return c
}

// Generation returns the generation the cache currently serves.
func (c *RenderCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Advance moves the cache to generation gen. Ready entries from older
// generations are evicted and older in-flight renders are detached: their
// waiters still get the result, but it is not stored. Advance never moves
// backwards; it returns the number of evicted entries.
func (c *RenderCache) Advance(gen uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advanceLocked(gen)
}

func (c *RenderCache) advanceLocked(gen uint64) int {
	if gen <= c.generation {
		return 0
	}
	c.generation = gen

	evicted := 0
	for key, e := range c.entries {
		if e.artifact.Generation < gen {
			c.removeLocked(key, e)
			evicted++
		}
	}
	for key, cl := range c.inflight {
		if cl.generation < gen {
			delete(c.inflight, key)
			c.stale[staleKey{gen: cl.generation, key: key}] = cl
		}
	}

	atomic.AddInt64(&c.invalidations, int64(evicted))
	return evicted
}

// Get returns the ready artifact for key if it belongs to the current
// generation. It never triggers a render.
func (c *RenderCache) Get(key fingerprint.Key) (*Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookupLocked(key, c.generation)
	if !ok {
		return nil, false
	}
	return e.artifact, true
}

// lookupLocked returns a live entry for key and gen, dropping it if it is
// stale or expired.
func (c *RenderCache) lookupLocked(key fingerprint.Key, gen uint64) (*entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if e.artifact.Generation != gen {
		c.removeLocked(key, e)
		atomic.AddInt64(&c.invalidations, 1)
		return nil, false
	}

	if c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl {
		c.removeLocked(key, e)
		atomic.AddInt64(&c.evictions, 1)
		return nil, false
	}

	c.moveToFront(e)
	e.accessedAt = c.now()
	return e, true
}

// storeLocked inserts a ready artifact, evicting least recently used entries
// if the size bound requires it. Artifacts larger than the whole bound are
// not stored.
func (c *RenderCache) storeLocked(a *Artifact) {
	if c.maxBytes > 0 && a.Size > c.maxBytes {
		c.logger.Debug(context.Background(), "Artifact larger than cache, not stored",
			"key", a.Key.Short(), "size", a.Size, "max_bytes", c.maxBytes)
		return
	}

	if old, ok := c.entries[a.Key]; ok {
		c.removeLocked(a.Key, old)
	}

	c.evictIfNeeded(a.Size)

	now := c.now()
	e := &entry{artifact: a, storedAt: now, accessedAt: now}
	c.entries[a.Key] = e
	c.size += a.Size
	c.addToFront(e)
}

// evictIfNeeded evicts entries if the cache would exceed its size bound.
func (c *RenderCache) evictIfNeeded(newSize int64) {
	if c.maxBytes <= 0 || c.size+newSize <= c.maxBytes {
		return
	}

	for c.size+newSize > c.maxBytes && c.tail.prev != c.head {
		lru := c.tail.prev
		c.removeLocked(lru.artifact.Key, lru)
		atomic.AddInt64(&c.evictions, 1)
	}
}

func (c *RenderCache) removeLocked(key fingerprint.Key, e *entry) {
	c.removeFromList(e)
	delete(c.entries, key)
	c.size -= e.artifact.Size
}

// LRU doubly-linked list operations
func (c *RenderCache) addToFront(e *entry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *RenderCache) removeFromList(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

func (c *RenderCache) moveToFront(e *entry) {
	c.removeFromList(e)
	c.addToFront(e)
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits          int64  `json:"hits"`
	Misses        int64  `json:"misses"`
	Joins         int64  `json:"joins"`
	Renders       int64  `json:"renders"`
	Failures      int64  `json:"failures"`
	Evictions     int64  `json:"evictions"`
	Invalidations int64  `json:"invalidations"`
	StaleRenders  int64  `json:"stale_renders"`
	Entries       int    `json:"entries"`
	InFlight      int    `json:"in_flight"`
	Bytes         int64  `json:"bytes"`
	MaxBytes      int64  `json:"max_bytes"`
	Generation    uint64 `json:"generation"`
}

// HitRate returns hits over lookups, between 0 and 1.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses + s.Joins
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// GetStats returns cache statistics.
func (c *RenderCache) GetStats() Stats {
	c.mu.Lock()
	entries, inflight, size, gen := len(c.entries), len(c.inflight), c.size, c.generation
	c.mu.Unlock()

	return Stats{
		Hits:          atomic.LoadInt64(&c.hits),
		Misses:        atomic.LoadInt64(&c.misses),
		Joins:         atomic.LoadInt64(&c.joins),
		Renders:       atomic.LoadInt64(&c.renders),
		Failures:      atomic.LoadInt64(&c.failures),
		Evictions:     atomic.LoadInt64(&c.evictions),
		Invalidations: atomic.LoadInt64(&c.invalidations),
		StaleRenders:  atomic.LoadInt64(&c.staleRenders),
		Entries:       entries,
		InFlight:      inflight,
		Bytes:         size,
		MaxBytes:      c.maxBytes,
		Generation:    gen,
	}
}
