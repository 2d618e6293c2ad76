package session

import "sync"

// pairLocks serializes mutating operations per (account, shop) key. The
// store performs read-then-write sequences that are not atomic on their
// own; routing every such sequence for a key through one mutex makes the
// single-live-session invariant structural.
type pairLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPairLocks() *pairLocks {
	return &pairLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for the pair and returns its unlock func. Lock
// entries are kept for the process lifetime; the key space is bounded by
// the number of (account, shop) pairs the operator works.
func (p *pairLocks) lock(accountID, shopName string) func() {
	key := accountID + "\x00" + shopName

	p.mu.Lock()
	m, ok := p.locks[key]
	if !ok {
		m = &sync.Mutex{}
		p.locks[key] = m
	}
	p.mu.Unlock()

	m.Lock()
	return m.Unlock
}
