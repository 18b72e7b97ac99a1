// ABOUTME: Thread-safe TTL cache for deduplicating client message sends.
// ABOUTME: Lets clients retry a failed send without double-inserting the message.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the timestamp and list element for a cached nonce.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Cache tracks recently seen client send nonces. When a delivery failure is
// reported to a client, the client retries with the same nonce; the router
// consults this cache so the retry cannot create a second message. Entries
// expire after the TTL and the cache is size-bounded with FIFO eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // nonces in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a dedupe cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// CheckAndMark atomically checks whether a nonce has been seen and marks it
// if not. Returns true if the nonce was already seen (duplicate send), false
// if it is new and now marked. The single critical section avoids the TOCTOU
// race a separate check/mark pair would have.
func (c *Cache) CheckAndMark(nonce string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[nonce]
	if ok && time.Since(entry.timestamp) < c.ttl {
		return true
	}

	if ok {
		// Expired entry for the same nonce: refresh in place
		c.order.Remove(entry.element)
		delete(c.seen, nonce)
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		if oldest != nil {
			delete(c.seen, oldest.Value.(string))
			c.order.Remove(oldest)
		}
	}

	c.seen[nonce] = &cacheEntry{
		timestamp: time.Now(),
		element:   c.order.PushBack(nonce),
	}
	return false
}

// Forget drops a nonce so a later send with it reads as new. Used when the
// marked send ultimately failed to persist; the client's retry must not be
// swallowed as a duplicate.
func (c *Cache) Forget(nonce string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[nonce]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, nonce)
	}
}

// Len returns the number of tracked nonces, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Close stops the background cleanup goroutine.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// cleanup periodically removes expired entries so the map doesn't grow
// unbounded between evictions.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		nonce := e.Value.(string)
		if entry, ok := c.seen[nonce]; ok && now.Sub(entry.timestamp) >= c.ttl {
			delete(c.seen, nonce)
			c.order.Remove(e)
		} else {
			// Insertion order means everything after this is younger
			break
		}
		e = next
	}
}
