// Package keylock serializes work per entity key.
package keylock

import (
	"slices"
	"sync"
)

// Map holds one mutex per key. Entries are reference counted and dropped
// once nobody holds or waits on them.
type Map struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func New() *Map {
	return &Map{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free and returns its unlock func.
func (k *Map) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// LockAll takes several keys in sorted order so overlapping sets cannot deadlock.
func (k *Map) LockAll(keys []string) func() {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for _, key := range sorted {
		unlocks = append(unlocks, k.Lock(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func (k *Map) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
