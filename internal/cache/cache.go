// Package cache is a small in-process cache with per-type expiry and
// eviction, used for intent decisions and other auxiliary lookups.
package cache

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

var ErrMiss = errors.New("cache: miss")

type Strategy int

const (
	// TTL expires entries and evicts the oldest insert on overflow.
	TTL Strategy = iota
	// LRU evicts the least recently read entry on overflow.
	LRU
	// TTLLRU combines both.
	TTLLRU
	// FixedSize never expires and evicts the oldest insert on overflow.
	FixedSize
)

type Type string

const (
	TypeIntent       Type = "intent"
	TypeWeather      Type = "weather"
	TypeLocation     Type = "location"
	TypeIPInfo       Type = "ip_info"
	TypeConfig       Type = "config"
	TypeDevicePrompt Type = "device_prompt"
)

// Config of one cache type. A zero TTL never expires; a zero MaxSize is unbounded.
type Config struct {
	Strategy Strategy
	TTL      time.Duration
	MaxSize  int
}

// ConfigFor returns the built-in settings for t.
func ConfigFor(t Type) Config {
	switch t {
	case TypeIntent:
		return Config{Strategy: TTLLRU, TTL: 10 * time.Minute, MaxSize: 1000}
	case TypeWeather:
		return Config{Strategy: TTL, TTL: 8 * time.Hour, MaxSize: 1000}
	case TypeIPInfo:
		return Config{Strategy: TTL, TTL: 24 * time.Hour, MaxSize: 1000}
	case TypeLocation, TypeDevicePrompt:
		return Config{Strategy: TTL, MaxSize: 1000}
	case TypeConfig:
		return Config{Strategy: FixedSize, MaxSize: 20}
	}
	return Config{Strategy: TTL, TTL: 5 * time.Minute, MaxSize: 1000}
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

type entry struct {
	key     string
	value   any
	stored  time.Time
	ttl     time.Duration
	hits    uint64
	lastHit time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	order *list.List
	items map[string]*list.Element
	stats Stats
}

func New(cfg Config) *Cache {
	return &Cache{cfg: cfg, now: time.Now, order: list.New(), items: map[string]*list.Element{}}
}

// WithClock replaces the time source.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) Set(key string, value any) { c.SetTTL(key, value, c.cfg.TTL) }

func (c *Cache) SetTTL(key string, value any, ttl time.Duration) {
	if c.cfg.Strategy == FixedSize {
		ttl = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value, e.stored, e.ttl = value, now, ttl
		c.order.MoveToBack(el)
		return
	}
	c.items[key] = c.order.PushBack(&entry{key: key, value: value, stored: now, ttl: ttl})
	for c.cfg.MaxSize > 0 && c.order.Len() > c.cfg.MaxSize {
		c.evictLocked(now)
	}
}

// evictLocked drops an expired entry if there is one, otherwise the front.
func (c *Cache) evictLocked(now time.Time) {
	for el := c.order.Front(); el != nil; el = el.Next() {
		if c.expired(el.Value.(*entry), now) {
			c.removeLocked(el)
			c.stats.Evictions++
			return
		}
	}
	c.removeLocked(c.order.Front())
	c.stats.Evictions++
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	return e.ttl > 0 && !now.Before(e.stored.Add(e.ttl))
}

func (c *Cache) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

func (c *Cache) Get(key string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, ErrMiss
	}
	e := el.Value.(*entry)
	if c.expired(e, now) {
		c.removeLocked(el)
		c.stats.Misses++
		return nil, ErrMiss
	}
	e.hits++
	e.lastHit = now
	if c.cfg.Strategy == LRU || c.cfg.Strategy == TTLLRU {
		c.order.MoveToBack(el)
	}
	c.stats.Hits++
	return e.value, nil
}

func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if ok {
		c.removeLocked(el)
	}
	return ok
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = map[string]*list.Element{}
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if c.expired(el.Value.(*entry), now) {
			c.removeLocked(el)
			n++
		}
		el = next
	}
	return n
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.order.Len()
	return s
}

// Manager hands out one Cache per Type.
type Manager struct {
	mu     sync.Mutex
	now    func() time.Time
	caches map[Type]*Cache
	over   map[Type]Config
}

func NewManager() *Manager {
	return &Manager{now: time.Now, caches: map[Type]*Cache{}, over: map[Type]Config{}}
}

// Configure overrides the built-in config of t; it only affects caches
// created afterwards.
func (m *Manager) Configure(t Type, cfg Config) {
	m.mu.Lock()
	m.over[t] = cfg
	m.mu.Unlock()
}

func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) For(t Type) *Cache {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.caches[t]; ok {
		return c
	}
	cfg, ok := m.over[t]
	if !ok {
		cfg = ConfigFor(t)
	}
	c := New(cfg).WithClock(m.now)
	m.caches[t] = c
	return c
}

func (m *Manager) Stats() map[Type]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Type]Stats, len(m.caches))
	for t, c := range m.caches {
		out[t] = c.Stats()
	}
	return out
}
