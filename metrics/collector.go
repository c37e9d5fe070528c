// Package metrics provides a small in-process metrics collector for the
// settlement engine: tagged counter and gauge entries with a latest-value
// index, queried by operators and tests.
package metrics

import (
	"sync"
	"time"
)

// Entry is a single recorded data point.
type Entry struct {
	Name      string            // dot-separated metric name (e.g. "batch.opened")
	Value     float64           // observed value
	Tags      map[string]string // key-value labels (market, phase, ...)
	Timestamp int64             // unix timestamp of recording
	Type      string            // "gauge" or "counter"
}

// Collector aggregates engine metrics. All methods are safe for concurrent
// use. A nil *Collector is a valid no-op sink.
type Collector struct {
	mu         sync.RWMutex
	maxEntries int
	entries    []Entry
	latest     map[string]*Entry
	counters   map[string]float64
}

// NewCollector creates a collector retaining at most maxEntries data points.
// If maxEntries <= 0, defaults to 4096.
func NewCollector(maxEntries int) *Collector {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &Collector{
		maxEntries: maxEntries,
		latest:     make(map[string]*Entry),
		counters:   make(map[string]float64),
	}
}

// SetGauge stores a gauge value with optional tags. Tags may be nil.
func (c *Collector) SetGauge(name string, value float64, tags map[string]string) {
	if c == nil {
		return
	}
	c.record(Entry{
		Name:      name,
		Value:     value,
		Tags:      copyTags(tags),
		Timestamp: time.Now().Unix(),
		Type:      "gauge",
	})
}

// Inc increments a monotonic counter and records the new total.
func (c *Collector) Inc(name string, tags map[string]string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters[name]++
	total := c.counters[name]
	c.mu.Unlock()

	c.record(Entry{
		Name:      name,
		Value:     total,
		Tags:      copyTags(tags),
		Timestamp: time.Now().Unix(),
		Type:      "counter",
	})
}

// Counter returns the current total of a counter.
func (c *Collector) Counter(name string) float64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// Latest returns the most recent entry for the named metric, or nil.
func (c *Collector) Latest(name string) *Entry {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.latest[name]
	if !ok {
		return nil
	}
	cp := *e
	cp.Tags = copyTags(e.Tags)
	return &cp
}

// All returns a copy of every retained entry.
func (c *Collector) All() []Entry {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = e
		out[i].Tags = copyTags(e.Tags)
	}
	return out
}

func (c *Collector) record(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) < c.maxEntries {
		c.entries = append(c.entries, e)
	}
	cp := e
	c.latest[e.Name] = &cp
}

func copyTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		cp[k] = v
	}
	return cp
}
