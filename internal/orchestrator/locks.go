package orchestrator

import "sync"

// orderLocks serializes provisioning work per order id. Webhook
// redeliveries and the background checker may race on the same order;
// the store's compare-and-swap updates keep the data safe, but holding a
// per-order lock avoids burning registrar calls on doomed attempts.
type orderLocks struct {
	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

func newOrderLocks() *orderLocks {
	return &orderLocks{locks: make(map[int]*sync.Mutex)}
}

func (l *orderLocks) lock(id int) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
