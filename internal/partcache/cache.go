// Package partcache caches fetched include bodies under a byte budget so
// that repeated template refreshes do not refetch unchanged parts.
package partcache

import (
	"sort"
	"sync"
	"time"
)

// Config defines cache limits
type Config struct {
	MaxBytes int64         // Total byte budget for cached bodies
	TTL      time.Duration // How long a cached body stays fresh
}

// DefaultConfig returns the default cache limits
func DefaultConfig() *Config {
	return &Config{
		MaxBytes: 4 * 1024 * 1024, // 4MB of part bodies
		TTL:      time.Minute,
	}
}

type entry struct {
	body    string
	size    int64
	fetched time.Time
	hits    int64
}

// Cache stores include bodies keyed by their reference. Entries expire
// after the configured TTL and the oldest entries are evicted when a store
// would exceed the byte budget.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	usage   int64
	hits    int64
	misses  int64
	config  *Config
	now     func() time.Time
}

// New creates a cache with the given limits. A nil config uses defaults.
func New(config *Config) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	return &Cache{
		entries: make(map[string]*entry),
		config:  config,
		now:     time.Now,
	}
}

// Get returns the cached body for ref. Expired entries are dropped and
// reported as misses.
func (c *Cache) Get(ref string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[ref]
	if !ok {
		c.misses++
		return "", false
	}
	if c.config.TTL > 0 && c.now().Sub(e.fetched) > c.config.TTL {
		c.usage -= e.size
		delete(c.entries, ref)
		c.misses++
		return "", false
	}
	e.hits++
	c.hits++
	return e.body, true
}

// Put stores a body for ref, evicting the oldest entries as needed. It
// reports false when the body alone exceeds the byte budget.
func (c *Cache) Put(ref, body string) bool {
	if c == nil {
		return false
	}
	size := int64(len(body))
	if size > c.config.MaxBytes {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[ref]; ok {
		c.usage -= old.size
		delete(c.entries, ref)
	}
	for c.usage+size > c.config.MaxBytes {
		c.evictOldestLocked()
	}
	c.entries[ref] = &entry{body: body, size: size, fetched: c.now()}
	c.usage += size
	return true
}

// evictOldestLocked removes the entry with the oldest fetch time.
func (c *Cache) evictOldestLocked() {
	var oldestRef string
	var oldestAt time.Time
	for ref, e := range c.entries {
		if oldestRef == "" || e.fetched.Before(oldestAt) {
			oldestRef = ref
			oldestAt = e.fetched
		}
	}
	if oldestRef == "" {
		return
	}
	c.usage -= c.entries[oldestRef].size
	delete(c.entries, oldestRef)
}

// Invalidate drops the cached body for ref if present.
func (c *Cache) Invalidate(ref string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[ref]; ok {
		c.usage -= e.size
		delete(c.entries, ref)
	}
}

// Reset clears all cached bodies and counters.
func (c *Cache) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.usage = 0
	c.hits = 0
	c.misses = 0
}

// Status contains cache usage information
type Status struct {
	Entries    int     `json:"entries"`
	UsageBytes int64   `json:"usage_bytes"`
	MaxBytes   int64   `json:"max_bytes"`
	UsagePct   float64 `json:"usage_percentage"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
}

// GetStatus returns current cache usage
func (c *Cache) GetStatus() Status {
	if c == nil {
		return Status{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Entries:    len(c.entries),
		UsageBytes: c.usage,
		MaxBytes:   c.config.MaxBytes,
		Hits:       c.hits,
		Misses:     c.misses,
	}
	if c.config.MaxBytes > 0 {
		s.UsagePct = float64(c.usage) / float64(c.config.MaxBytes) * 100
	}
	return s
}

// PartInfo describes one cached entry
type PartInfo struct {
	Ref  string `json:"ref"`
	Size int64  `json:"size"`
	Hits int64  `json:"hits"`
}

// TopParts returns up to limit cached entries sorted by hit count.
func (c *Cache) TopParts(limit int) []PartInfo {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	parts := make([]PartInfo, 0, len(c.entries))
	for ref, e := range c.entries {
		parts = append(parts, PartInfo{Ref: ref, Size: e.size, Hits: e.hits})
	}
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].Hits != parts[j].Hits {
			return parts[i].Hits > parts[j].Hits
		}
		return parts[i].Ref < parts[j].Ref
	})
	if limit < len(parts) {
		parts = parts[:limit]
	}
	return parts
}
