package app

import (
	"sort"
	"sync"
)

// accountLocker hands out per-account-number mutexes. Locks for several
// accounts are always taken in ascending order so two transfers over the
// same pair cannot deadlock. Entries are dropped once nobody holds them.
type accountLocker struct {
	mu    sync.Mutex
	locks map[int64]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func newAccountLocker() *accountLocker {
	return &accountLocker{locks: make(map[int64]*accountLock)}
}

// Lock blocks until every named account is held and returns the release func.
func (l *accountLocker) Lock(accountNumbers ...int64) func() {
	ordered := make([]int64, 0, len(accountNumbers))
	seen := make(map[int64]bool, len(accountNumbers))
	for _, n := range accountNumbers {
		if !seen[n] {
			seen[n] = true
			ordered = append(ordered, n)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	held := make([]*accountLock, 0, len(ordered))
	for _, n := range ordered {
		lock := l.acquire(n)
		lock.mu.Lock()
		held = append(held, lock)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(ordered[i])
		}
	}
}

func (l *accountLocker) acquire(n int64) *accountLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[n]
	if !ok {
		lock = &accountLock{}
		l.locks[n] = lock
	}
	lock.refs++
	return lock
}

func (l *accountLocker) release(n int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[n]
	if !ok {
		return
	}
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, n)
	}
}

func (l *accountLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
