package service

import "sync"

// QueueRegistry serializes mutations per queue. Every state-changing
// operation on one queue runs under that queue's mutex; operations on
// different queues proceed in parallel. The registry is constructed in
// main and injected, never held as a package-level singleton.
type QueueRegistry struct {
	mu    sync.Mutex
	locks map[queueKey]*sync.Mutex
}

type queueKey struct {
	tenantID string
	queueID  string
}

// NewQueueRegistry constructs an empty registry.
func NewQueueRegistry() *QueueRegistry {
	return &QueueRegistry{locks: make(map[queueKey]*sync.Mutex)}
}

// Lock acquires the mutex for the given queue and returns its release
// function.
func (r *QueueRegistry) Lock(tenantID, queueID string) func() {
	key := queueKey{tenantID: tenantID, queueID: queueID}

	r.mu.Lock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
