package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"collabcanvas/api/internal/util"
)

// MemoryManager keeps leases in process. It is the default when no Redis
// is configured and serves a single server instance.
type MemoryManager struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	leases map[string]Lease
}

func NewMemoryManager(ttl time.Duration, now func() time.Time) *MemoryManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryManager{ttl: ttl, now: now, leases: make(map[string]Lease)}
}

func (m *MemoryManager) Acquire(_ context.Context, id string) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if held, ok := m.leases[id]; ok && now.Before(held.ExpiresAt) {
		return Lease{}, fmt.Errorf("%w: %s", ErrHeld, id)
	}
	l := Lease{ID: id, Token: util.NewID("lease"), ExpiresAt: now.Add(m.ttl)}
	m.leases[id] = l
	return l, nil
}

func (m *MemoryManager) Release(_ context.Context, l Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.leases[l.ID]; ok && held.Token == l.Token {
		delete(m.leases, l.ID)
	}
	return nil
}

// Held reports whether id currently has an unexpired lease.
func (m *MemoryManager) Held(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	held, ok := m.leases[id]
	return ok && m.now().Before(held.ExpiresAt)
}
