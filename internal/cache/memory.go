package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the payload in process memory with the same TTL rules
// as FileStore.
type MemoryStore struct {
	mu      sync.RWMutex
	payload string
	written time.Time
	set     bool
	ttl     time.Duration
	now     Clock
	writes  int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(ttl time.Duration, now Clock) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{ttl: ttl, now: now}
}

// Read returns the payload if it is still fresh, else "".
func (m *MemoryStore) Read(_ context.Context) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.set || !fresh(m.now(), m.written, m.ttl) {
		return ""
	}
	return m.payload
}

// Write replaces the payload and stamps it with the current clock time.
func (m *MemoryStore) Write(_ context.Context, payload string) {
	m.mu.Lock()
	m.payload = payload
	m.written = m.now()
	m.set = true
	m.writes++
	m.mu.Unlock()
}

// Writes reports how many times Write has been called.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

var _ Store = (*MemoryStore)(nil)
