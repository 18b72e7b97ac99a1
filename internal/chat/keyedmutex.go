// ABOUTME: Reference-counted per-key mutex used to serialize work by user or session
// ABOUTME: Locks are created on demand and dropped when the last holder releases

package chat

import "sync"

// keyedMutex hands out one mutex per key. Session and user state is
// partitioned by key; serializing each partition is what makes races like
// double start_session deterministic without a global lock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key, creating it if needed
func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
}

// Unlock releases the mutex for key, removing it when no one else waits
func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	l.Unlock()
}
