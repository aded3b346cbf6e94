package resultstore

import (
	"container/list"
	"sync"
	"time"
)

type Entry struct {
	Key         string
	Data        []byte
	ContentType string
	Name        string
	Size        int64
	CreatedAt   time.Time

	// source content hash and quality the bytes were produced from, empty
	// when the caller supplied no hash
	Hash    string
	Quality int
}

type Stats struct {
	Items    int   `json:"items"`
	Bytes    int64 `json:"bytes"`
	MaxItems int   `json:"max_items"`
	MaxBytes int64 `json:"max_bytes"`
}

// memoryCache keeps entries in insertion order: the front of order is the
// oldest entry and the first eviction candidate.
type memoryCache struct {
	maxBytes int64
	maxItems int
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	order *list.List
	items map[string]*list.Element
	bytes int64
}

type Option func(*memoryCache)

func WithClock(now func() time.Time) Option {
	return func(c *memoryCache) { c.now = now }
}

func NewMemoryCache(maxBytes int64, maxItems int, ttl time.Duration, opts ...Option) *memoryCache {
	c := &memoryCache{
		maxBytes: maxBytes,
		maxItems: maxItems,
		ttl:      ttl,
		now:      time.Now,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Admit stores e under e.Key. It reports false, leaving the cache untouched,
// when e alone exceeds the byte budget.
func (c *memoryCache) Admit(e Entry) bool {
	e.Size = int64(len(e.Data))
	if e.Size > c.maxBytes {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e.CreatedAt = now

	if el, ok := c.items[e.Key]; ok {
		c.removeElement(el)
	}

	if !c.fits(e.Size) {
		c.evictExpired(now)
	}
	for !c.fits(e.Size) {
		front := c.order.Front()
		if front == nil {
			break
		}
		c.removeElement(front)
	}

	c.items[e.Key] = c.order.PushBack(&e)
	c.bytes += e.Size
	return true
}

func (c *memoryCache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}
	e := el.Value.(*Entry)
	if c.expired(e, c.now()) {
		c.removeElement(el)
		return Entry{}, false
	}
	return *e, true
}

func (c *memoryCache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Sweep drops every expired entry and returns how many were removed.
func (c *memoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.evictExpired(c.now())
}

func (c *memoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Items:    len(c.items),
		Bytes:    c.bytes,
		MaxItems: c.maxItems,
		MaxBytes: c.maxBytes,
	}
}

func (c *memoryCache) fits(size int64) bool {
	return c.bytes+size <= c.maxBytes && len(c.items)+1 <= c.maxItems
}

// Entries are pushed with a monotonic CreatedAt, so the expired ones always
// form a prefix of order.
func (c *memoryCache) evictExpired(now time.Time) int {
	removed := 0
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		if !c.expired(el.Value.(*Entry), now) {
			break
		}
		c.removeElement(el)
		removed++
	}
	return removed
}

func (c *memoryCache) expired(e *Entry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.CreatedAt) >= c.ttl
}

func (c *memoryCache) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*Entry)
	delete(c.items, e.Key)
	c.bytes -= e.Size
}
