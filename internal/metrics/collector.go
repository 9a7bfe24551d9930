// Package metrics collects the templating engine's built-in counters.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// EngineMetrics is a point-in-time snapshot of the engine counters.
type EngineMetrics struct {
	WatchesRegistered      int64 `json:"watches_registered"`
	NotificationsScheduled int64 `json:"notifications_scheduled"`
	NotificationsFired     int64 `json:"notifications_fired"`
	RefreshCycles          int64 `json:"refresh_cycles"`
	LoopsRendered          int64 `json:"loops_rendered"`
	ConditionalsResolved   int64 `json:"conditionals_resolved"`
	IncludesFetched        int64 `json:"includes_fetched"`
	EvalErrors             int64 `json:"eval_errors"`
	AuthoringErrors        int64 `json:"authoring_errors"`

	Custom map[string]int64 `json:"custom,omitempty"`

	StartTime time.Time     `json:"start_time"`
	Uptime    time.Duration `json:"uptime"`
}

// Collector accumulates engine counters. Known counters are plain atomics;
// anything else lands in the custom map.
type Collector struct {
	known     map[string]*int64
	mu        sync.RWMutex
	custom    map[string]*int64
	startTime time.Time

	watchesRegistered      int64
	notificationsScheduled int64
	notificationsFired     int64
	refreshCycles          int64
	loopsRendered          int64
	conditionalsResolved   int64
	includesFetched        int64
	evalErrors             int64
	authoringErrors        int64
}

// NewCollector creates a collector with zeroed counters.
func NewCollector() *Collector {
	c := &Collector{
		custom:    make(map[string]*int64),
		startTime: time.Now(),
	}
	c.known = map[string]*int64{
		"watches_registered":      &c.watchesRegistered,
		"notifications_scheduled": &c.notificationsScheduled,
		"notifications_fired":     &c.notificationsFired,
		"refresh_cycles":          &c.refreshCycles,
		"loops_rendered":          &c.loopsRendered,
		"conditionals_resolved":   &c.conditionalsResolved,
		"includes_fetched":        &c.includesFetched,
		"eval_errors":             &c.evalErrors,
		"authoring_errors":        &c.authoringErrors,
	}
	return c
}

// Add increments the named counter by delta.
func (c *Collector) Add(name string, delta int64) {
	if c == nil {
		return
	}
	if p, ok := c.known[name]; ok {
		atomic.AddInt64(p, delta)
		return
	}
	c.mu.RLock()
	p, ok := c.custom[name]
	c.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, delta)
		return
	}
	c.mu.Lock()
	if p, ok = c.custom[name]; !ok {
		p = new(int64)
		c.custom[name] = p
	}
	c.mu.Unlock()
	atomic.AddInt64(p, delta)
}

// Get returns the current value of the named counter.
func (c *Collector) Get(name string) int64 {
	if c == nil {
		return 0
	}
	if p, ok := c.known[name]; ok {
		return atomic.LoadInt64(p)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.custom[name]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

// Snapshot returns a consistent copy of all counters.
func (c *Collector) Snapshot() EngineMetrics {
	m := EngineMetrics{
		WatchesRegistered:      atomic.LoadInt64(&c.watchesRegistered),
		NotificationsScheduled: atomic.LoadInt64(&c.notificationsScheduled),
		NotificationsFired:     atomic.LoadInt64(&c.notificationsFired),
		RefreshCycles:          atomic.LoadInt64(&c.refreshCycles),
		LoopsRendered:          atomic.LoadInt64(&c.loopsRendered),
		ConditionalsResolved:   atomic.LoadInt64(&c.conditionalsResolved),
		IncludesFetched:        atomic.LoadInt64(&c.includesFetched),
		EvalErrors:             atomic.LoadInt64(&c.evalErrors),
		AuthoringErrors:        atomic.LoadInt64(&c.authoringErrors),
		StartTime:              c.startTime,
		Uptime:                 time.Since(c.startTime),
	}
	c.mu.RLock()
	if len(c.custom) > 0 {
		m.Custom = make(map[string]int64, len(c.custom))
		for name, p := range c.custom {
			m.Custom[name] = atomic.LoadInt64(p)
		}
	}
	c.mu.RUnlock()
	return m
}

// CounterNames lists the known counter names in sorted order.
func (c *Collector) CounterNames() []string {
	names := make([]string, 0, len(c.known))
	for name := range c.known {
		names = append(names, name)
	}
	c.mu.RLock()
	for name := range c.custom {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}
