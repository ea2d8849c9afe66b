// Package registry is the process-wide table of live connections, one per
// user.
package registry

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/internal/metrics"
	"github.com/nzlov/relay/protocol"
)

var ErrReserved = errors.New("registry: reserved identity")

// Conn is a live, authenticated socket as the registry sees it.
type Conn interface {
	UserID() identity.UserID
	Role() identity.Role
	// Send enqueues frames as one ordered unit. It must not block.
	Send(frames ...protocol.Outbound) error
	// Close starts shutting the connection down. It must not block and may be
	// called more than once.
	Close()
}

type Registry struct {
	mu    sync.RWMutex
	conns map[identity.UserID]Conn
}

func New() *Registry {
	return &Registry{conns: make(map[identity.UserID]Conn)}
}

// Register makes c the user's only connection. A previous connection is
// closed and removed under the same lock, so no reader ever sees two.
func (r *Registry) Register(c Conn) error {
	id := c.UserID()
	if id == "" || id.IsSentinel() {
		return ErrReserved
	}

	r.mu.Lock()
	old, ok := r.conns[id]
	if ok && old != c {
		old.Close()
	}
	r.conns[id] = c
	n := len(r.conns)
	r.mu.Unlock()

	if ok && old != c {
		zap.S().With("method", "Register", "user", id).Info("evicted previous connection")
		metrics.Evictions.Inc()
	}
	metrics.Connections.Set(float64(n))
	return nil
}

func (r *Registry) Lookup(id identity.UserID) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Remove drops whatever connection the user has and closes it.
func (r *Registry) Remove(id identity.UserID) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		c.Close()
	}
	n := len(r.conns)
	r.mu.Unlock()
	metrics.Connections.Set(float64(n))
}

// Unregister removes c only if it is still the user's current connection.
// Connections call it on teardown so an evicted socket cannot remove its
// replacement.
func (r *Registry) Unregister(c Conn) bool {
	r.mu.Lock()
	cur, ok := r.conns[c.UserID()]
	removed := ok && cur == c
	if removed {
		delete(r.conns, c.UserID())
	}
	n := len(r.conns)
	r.mu.Unlock()
	metrics.Connections.Set(float64(n))
	return removed
}

// ForEachStaff calls fn for every connection whose role satisfies pred. fn
// runs on a snapshot taken under the read lock and may block.
func (r *Registry) ForEachStaff(pred func(identity.Role) bool, fn func(Conn)) {
	r.mu.RLock()
	snap := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		if pred(c.Role()) {
			snap = append(snap, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range snap {
		fn(c)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
