package artifact

import (
	"sort"
	"sync"
)

// keyedMutex provides per-key mutual exclusion. Each key gets its own mutex,
// so writers of different keys proceed concurrently while writers of the
// same key queue behind each other. A key's entry lives only while someone
// holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex           // Guards the locks map itself
	locks map[string]*keyLock // Per-key mutexes
}

type keyLock struct {
	mu   sync.Mutex
	refs int // Holders plus waiters, guarded by keyedMutex.mu
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*keyLock),
	}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	l, exists := k.locks[key]
	if !exists {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	// Acquire outside the map lock to avoid contention between keys
	l.mu.Lock()
}

// Unlock releases the mutex for key and forgets the key once nobody else
// holds or waits for it.
func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, exists := k.locks[key]
	if !exists {
		return
	}
	l.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (k *keyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// LockAll acquires every key in lexicographic order so two callers locking
// overlapping sets cannot deadlock.
func (k *keyedMutex) LockAll(keys []string) {
	for _, key := range sortedCopy(keys) {
		k.Lock(key)
	}
}

// UnlockAll releases every key in reverse order.
func (k *keyedMutex) UnlockAll(keys []string) {
	sorted := sortedCopy(keys)
	for i := len(sorted) - 1; i >= 0; i-- {
		k.Unlock(sorted[i])
	}
}

func sortedCopy(keys []string) []string {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)
	return sorted
}
