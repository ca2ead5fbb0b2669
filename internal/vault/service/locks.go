package service

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockStripes = 256

// keyLocks is a fixed set of RWMutexes; a key maps to one stripe by hash.
// Multi-key callers lock stripes in index order.
type keyLocks struct {
	stripes [lockStripes]sync.RWMutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{}
}

func stripeIndex(key string) int {
	return int(xxhash.Sum64String(key) % lockStripes)
}

func (l *keyLocks) forKey(key string) *sync.RWMutex {
	return &l.stripes[stripeIndex(key)]
}

// lockPair write-locks the stripes of both keys and returns the unlock func.
func (l *keyLocks) lockPair(a, b string) func() {
	i, j := stripeIndex(a), stripeIndex(b)
	if i == j {
		l.stripes[i].Lock()
		return l.stripes[i].Unlock
	}
	if i > j {
		i, j = j, i
	}
	l.stripes[i].Lock()
	l.stripes[j].Lock()
	return func() {
		l.stripes[j].Unlock()
		l.stripes[i].Unlock()
	}
}

func (l *keyLocks) lockAll() {
	for i := range l.stripes {
		l.stripes[i].Lock()
	}
}

func (l *keyLocks) unlockAll() {
	for i := len(l.stripes) - 1; i >= 0; i-- {
		l.stripes[i].Unlock()
	}
}
