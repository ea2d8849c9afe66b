package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/protocol"
)

type fakeConn struct {
	id   identity.UserID
	role identity.Role

	mu     sync.Mutex
	sent   []protocol.Outbound
	closed bool
}

func (f *fakeConn) UserID() identity.UserID { return f.id }
func (f *fakeConn) Role() identity.Role     { return f.role }

func (f *fakeConn) Send(frames ...protocol.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frames...)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegisterEvictsPrevious(t *testing.T) {
	r := New()
	first := &fakeConn{id: "alice", role: identity.RoleClient}
	second := &fakeConn{id: "alice", role: identity.RoleClient}

	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))

	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())
	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Len())

	// The evicted connection tearing down must not remove its replacement.
	assert.False(t, r.Unregister(first))
	got, ok = r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.True(t, r.Unregister(second))
	_, ok = r.Lookup("alice")
	assert.False(t, ok)
}

func TestRegisterRejectsSentinels(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.Register(&fakeConn{id: identity.Support}), ErrReserved)
	assert.ErrorIs(t, r.Register(&fakeConn{id: identity.Broadcast}), ErrReserved)
	assert.ErrorIs(t, r.Register(&fakeConn{}), ErrReserved)
	assert.Equal(t, 0, r.Len())
}

func TestRemoveCloses(t *testing.T) {
	r := New()
	c := &fakeConn{id: "bob"}
	require.NoError(t, r.Register(c))

	r.Remove("bob")
	assert.True(t, c.isClosed())
	_, ok := r.Lookup("bob")
	assert.False(t, ok)

	r.Remove("nobody")
}

func TestForEachStaff(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeConn{id: "admin-1", role: identity.RoleAdmin}))
	require.NoError(t, r.Register(&fakeConn{id: "admin-2", role: identity.RoleSupport}))
	require.NoError(t, r.Register(&fakeConn{id: "alice", role: identity.RoleClient}))

	var seen []identity.UserID
	r.ForEachStaff(identity.Role.IsStaff, func(c Conn) {
		// fn may touch the registry without deadlocking.
		_, _ = r.Lookup(c.UserID())
		seen = append(seen, c.UserID())
	})
	assert.ElementsMatch(t, []identity.UserID{"admin-1", "admin-2"}, seen)
}

func TestConcurrentRegisterKeepsOnePerUser(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	conns := make([]*fakeConn, 0, 200)
	for i := 0; i < 200; i++ {
		conns = append(conns, &fakeConn{id: identity.UserID(fmt.Sprintf("u%d", i%10))})
	}
	for _, c := range conns {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			_ = r.Register(c)
			_, _ = r.Lookup(c.id)
			r.ForEachStaff(func(identity.Role) bool { return true }, func(Conn) {})
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 10, r.Len())
	open := map[identity.UserID]int{}
	for _, c := range conns {
		if !c.isClosed() {
			open[c.id]++
		}
	}
	for id, n := range open {
		assert.Equal(t, 1, n, "user %s has %d open connections", id, n)
		cur, ok := r.Lookup(id)
		require.True(t, ok)
		assert.False(t, cur.(*fakeConn).isClosed())
	}
}
