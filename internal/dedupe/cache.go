// ABOUTME: Thread-safe TTL cache that remembers client message ids per sender.
// ABOUTME: Lets the session router drop a retried "new message" instead of storing it twice.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Key identifies one client-submitted message
type Key struct {
	Sender   string
	ClientID string
}

type cacheEntry struct {
	markedAt time.Time
	element  *list.Element
}

// Cache remembers keys for a TTL, bounded by maxSize. When full, the oldest
// key is evicted first. The zero value is not usable; construct with New.
type Cache struct {
	mu      sync.Mutex
	seen    map[Key]*cacheEntry
	order   *list.List // Keys in mark order, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts a goroutine that sweeps expired keys
// every sweepEvery. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	return newCache(ttl, maxSize, time.Now, time.Minute)
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time, sweepEvery time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		seen:    make(map[Key]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweepEvery)
	return c
}

// Seen reports whether key was marked within the TTL without marking it
func (c *Cache) Seen(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.seen[key]
	return ok && c.now().Sub(entry.markedAt) < c.ttl
}

// CheckAndMark atomically reports whether key is a duplicate and, if it is
// not, records it. A key with an empty ClientID is never a duplicate.
func (c *Cache) CheckAndMark(key Key) bool {
	if key.ClientID == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.seen[key]; ok {
		if now.Sub(entry.markedAt) < c.ttl {
			return true
		}
		// expired: refresh in place
		entry.markedAt = now
		c.order.MoveToBack(entry.element)
		return false
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}
	c.seen[key] = &cacheEntry{markedAt: now, element: c.order.PushBack(key)}
	return false
}

// Forget removes key so a later CheckAndMark accepts it again. The router
// calls this when storing a message fails, so the client's retry goes through.
func (c *Cache) Forget(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of remembered keys, expired ones included until swept
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evictOldest must be called with mu held
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(Key)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired keys. Mark order is time order, so it stops at the
// first live key.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for e := c.order.Front(); e != nil; {
		key, _ := e.Value.(Key)
		entry := c.seen[key]
		if entry == nil || now.Sub(entry.markedAt) < c.ttl {
			break
		}
		next := e.Next()
		c.order.Remove(e)
		delete(c.seen, key)
		e = next
	}
}

// Close stops the sweep goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
