package notify

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Scheduler is the platform notification collaborator. Delivery is
// fire-and-forget from the core's point of view; Cancel must be idempotent
// (cancelling an unknown id is not an error).
type Scheduler interface {
	Schedule(ctx context.Context, id string, fireAt time.Time, payload map[string]string) error
	Cancel(ctx context.Context, ids []string) error
}

// Pending is one scheduled notification as held by the MemoryScheduler.
type Pending struct {
	ID      string            `json:"id"`
	FireAt  time.Time         `json:"fire_at"`
	Payload map[string]string `json:"payload,omitempty"`
}

// MemoryScheduler is an in-process Scheduler. The server uses it as the
// default backend and exposes its pending set for introspection; tests use it
// to assert on the scheduled-identifier universe.
type MemoryScheduler struct {
	mu      sync.Mutex
	pending map[string]Pending
}

func NewMemoryScheduler() *MemoryScheduler {
	return &MemoryScheduler{pending: make(map[string]Pending)}
}

func (m *MemoryScheduler) Schedule(ctx context.Context, id string, fireAt time.Time, payload map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[id] = Pending{ID: id, FireAt: fireAt, Payload: payload}
	return nil
}

func (m *MemoryScheduler) Cancel(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.pending, id)
	}
	return nil
}

// Pending returns the scheduled set ordered by fire time.
func (m *MemoryScheduler) Pending() []Pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Pending, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

var _ Scheduler = (*MemoryScheduler)(nil)
