// Package outbox keeps frames for users who were offline when a direct
// message was routed to them, until they next authenticate.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/nzlov/relay/internal/identity"
)

// Outbox stores encoded frames per user. Drain returns and removes them,
// oldest first.
type Outbox interface {
	Push(ctx context.Context, id identity.UserID, frame []byte) error
	Drain(ctx context.Context, id identity.UserID) ([][]byte, error)
	Close() error
}

type entry struct {
	frame []byte
	at    time.Time
}

// Memory is a bounded in-process outbox. Each user keeps at most capacity
// frames; older frames are dropped first and anything older than ttl is
// discarded on drain.
type Memory struct {
	mu       sync.Mutex
	pending  map[identity.UserID][]entry
	capacity int
	ttl      time.Duration
}

func NewMemory(capacity int, ttl time.Duration) *Memory {
	if capacity <= 0 {
		capacity = 100
	}
	return &Memory{
		pending:  make(map[identity.UserID][]entry),
		capacity: capacity,
		ttl:      ttl,
	}
}

func (m *Memory) Push(ctx context.Context, id identity.UserID, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := append(m.pending[id], entry{frame: frame, at: time.Now()})
	if len(q) > m.capacity {
		q = q[len(q)-m.capacity:]
	}
	m.pending[id] = q
	return nil
}

func (m *Memory) Drain(ctx context.Context, id identity.UserID) ([][]byte, error) {
	m.mu.Lock()
	q := m.pending[id]
	delete(m.pending, id)
	m.mu.Unlock()

	out := make([][]byte, 0, len(q))
	for _, e := range q {
		if m.ttl > 0 && time.Since(e.at) > m.ttl {
			continue
		}
		out = append(out, e.frame)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

// Nop drops everything. It stands in when the outbox is disabled.
type Nop struct{}

func (Nop) Push(context.Context, identity.UserID, []byte) error { return nil }

func (Nop) Drain(context.Context, identity.UserID) ([][]byte, error) { return nil, nil }

func (Nop) Close() error { return nil }
