// Package cache holds short-lived per-session values such as the current
// login QR code. Each supervisor owns its own Cache and stops it on exit.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const sweepInterval = time.Minute

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_session_cache_hits_total",
		Help: "Total number of session cache hits",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_session_cache_misses_total",
		Help: "Total number of session cache misses",
	})
	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wa_session_cache_entries",
		Help: "Current number of entries across session caches",
	})
)

// entry is one cached value; a zero expires never expires
type entry struct {
	key     string
	value   string
	expires time.Time
}

// Cache is a small LRU of string values with per-entry expiry
type Cache struct {
	mutex    sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front is most recently used
	capacity int
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewCache creates a cache holding at most capacity entries and starts its
// expiry sweep
func NewCache(capacity int) *Cache {
	c := &Cache{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go c.sweep()
	return c
}

func (c *Cache) Get(key string) (string, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	el, ok := c.entries[key]
	if !ok {
		cacheMisses.Inc()
		return "", false
	}
	e := el.Value.(*entry)
	if c.expired(e) {
		c.remove(el)
		cacheMisses.Inc()
		return "", false
	}
	c.order.MoveToFront(el)
	cacheHits.Inc()
	return e.value, true
}

// Set stores value under key. A zero ttl never expires.
func (c *Cache) Set(key, value string, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.value, e.expires = value, expires
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&entry{key: key, value: value, expires: expires})
	cacheEntries.Inc()
	for c.order.Len() > c.capacity {
		c.remove(c.order.Back())
	}
}

func (c *Cache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
}

// Clear drops every entry
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	cacheEntries.Sub(float64(c.order.Len()))
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Stop ends the expiry sweep and drops every entry. It is safe to call twice.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.Clear()
}

func (c *Cache) Size() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.order.Len()
}

// caller holds mutex
func (c *Cache) expired(e *entry) bool {
	return !e.expires.IsZero() && c.now().After(e.expires)
}

// caller holds mutex
func (c *Cache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*entry).key)
	cacheEntries.Dec()
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) cleanupExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, el := range c.entries {
		if c.expired(el.Value.(*entry)) {
			c.remove(el)
		}
	}
}
