package node

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzlov/relay/internal/auth"
	"github.com/nzlov/relay/internal/config"
	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/internal/messaging"
	"github.com/nzlov/relay/internal/model"
	"github.com/nzlov/relay/internal/outbox"
	"github.com/nzlov/relay/internal/registry"
	"github.com/nzlov/relay/internal/store/memory"
	"github.com/nzlov/relay/protocol"
)

var (
	alice = identity.Principal{ID: "alice", Role: identity.RoleClient}
	bob   = identity.Principal{ID: "bob", Role: identity.RoleFreelancer}
	staff = identity.Principal{ID: "admin-1", Role: identity.RoleAdmin}
)

type harness struct {
	srv *httptest.Server
	svc *messaging.Service
	reg *registry.Registry
	jwt *auth.JWT
}

func newHarness(t *testing.T, mutate func(*config.ClientConfig)) *harness {
	t.Helper()
	return newHarnessWith(t, outbox.NewMemory(10, time.Hour), mutate)
}

func newHarnessWith(t *testing.T, ob outbox.Outbox, mutate func(*config.ClientConfig)) *harness {
	t.Helper()
	cfg := config.ClientConfig{
		ReadMessageSizeLimit: 1 << 16,
		SendBuffer:           16,
		AuthTimeout:          2 * time.Second,
		PongWait:             10 * time.Second,
		WriteWait:            time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	reg := registry.New()
	svc := messaging.New(memory.New(), reg, ob, config.SupportConfig{Name: "Support"})
	h := &harness{
		svc: svc,
		reg: reg,
		jwt: auth.NewJWT("node-test-secret"),
	}
	h.srv = httptest.NewServer(New(cfg, svc, h.jwt))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *harness) token(t *testing.T, p identity.Principal) string {
	t.Helper()
	tk, err := h.jwt.Issue(p, time.Minute)
	require.NoError(t, err)
	return tk
}

func (h *harness) login(t *testing.T, p identity.Principal) *websocket.Conn {
	t.Helper()
	conn := h.dial(t)
	require.NoError(t, conn.WriteJSON(protocol.Inbound{Type: protocol.TypeAuth, Token: h.token(t, p)}))
	require.Equal(t, protocol.TypeAuthenticated, read(t, conn).Type)
	require.Equal(t, protocol.TypeUnreadCount, read(t, conn).Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) protocol.Outbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f protocol.Outbound
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func closed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			t.Fatal("connection was not closed")
		}
		return
	}
}

func TestHandshakeAckThenCount(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.svc.Notify(context.Background(), &model.Notification{UserID: "alice", Type: "contract_signed"}))

	conn := h.dial(t)
	require.NoError(t, conn.WriteJSON(protocol.Inbound{Type: protocol.TypeAuth, Token: h.token(t, alice)}))

	ack := read(t, conn)
	assert.Equal(t, protocol.TypeAuthenticated, ack.Type)
	assert.Equal(t, "ok", ack.Status)
	count := read(t, conn)
	require.Equal(t, protocol.TypeUnreadCount, count.Type)
	assert.EqualValues(t, 1, count.Data.Count)

	_, ok := h.reg.Lookup("alice")
	assert.True(t, ok)
}

func TestFrameBeforeAuthIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(protocol.Inbound{Type: protocol.TypeMessage, ReceiverID: "bob", Content: "hi"}))
	f := read(t, conn)
	assert.Equal(t, protocol.TypeError, f.Type)
	assert.Equal(t, "not authenticated", f.ErrorText())

	// still open, and auth still works
	require.NoError(t, conn.WriteJSON(protocol.Inbound{Type: protocol.TypeAuth, Token: h.token(t, alice)}))
	assert.Equal(t, protocol.TypeAuthenticated, read(t, conn).Type)
	assert.Equal(t, protocol.TypeUnreadCount, read(t, conn).Type)
}

func TestInvalidTokenClosesConnection(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(protocol.Inbound{Type: protocol.TypeAuth, Token: "not-a-jwt"}))
	f := read(t, conn)
	assert.Equal(t, protocol.TypeError, f.Type)
	assert.Equal(t, "invalid token", f.ErrorText())
	closed(t, conn)
	assert.Zero(t, h.reg.Len())
}

func TestAuthTimeout(t *testing.T) {
	h := newHarness(t, func(c *config.ClientConfig) { c.AuthTimeout = 100 * time.Millisecond })
	conn := h.dial(t)
	closed(t, conn)
}

func TestSecondAuthRejected(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.login(t, alice)

	require.NoError(t, conn.WriteJSON(protocol.Inbound{Type: protocol.TypeAuth, Token: h.token(t, bob)}))
	f := read(t, conn)
	assert.Equal(t, protocol.TypeError, f.Type)
	assert.Equal(t, "already authenticated", f.ErrorText())

	c, ok := h.reg.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, identity.UserID("alice"), c.UserID())
	_, ok = h.reg.Lookup("bob")
	assert.False(t, ok)
}

func TestNewSessionEvictsOld(t *testing.T) {
	h := newHarness(t, nil)
	first := h.login(t, alice)
	second := h.login(t, alice)

	closed(t, first)
	assert.Equal(t, 1, h.reg.Len())

	_, err := h.svc.Send(context.Background(), bob, protocol.SendRequest{ReceiverID: "alice", Content: "still there?"}, messaging.PathREST)
	require.NoError(t, err)
	f := read(t, second)
	require.Equal(t, protocol.TypeNewMessage, f.Type)
	v, err := f.View()
	require.NoError(t, err)
	assert.Equal(t, "still there?", v.Content)
}

func TestSocketSupportMessage(t *testing.T) {
	h := newHarness(t, nil)
	admin := h.login(t, staff)
	user := h.login(t, alice)

	require.NoError(t, user.WriteJSON(protocol.Inbound{Type: protocol.TypeMessage, ReceiverID: "bob", Content: "Need help", IsSupport: true}))

	echo := read(t, user)
	require.Equal(t, protocol.TypeNewMessage, echo.Type)
	v, err := echo.View()
	require.NoError(t, err)
	assert.Equal(t, "alice", v.SenderID)
	assert.Equal(t, string(identity.Support), v.ReceiverID)

	f := read(t, admin)
	require.Equal(t, protocol.TypeNewMessage, f.Type)
	fv, err := f.View()
	require.NoError(t, err)
	assert.Equal(t, v.ID, fv.ID)
	count := read(t, admin)
	require.Equal(t, protocol.TypeUnreadCount, count.Type)
	assert.EqualValues(t, 1, count.Data.Count)
}

func TestSocketValidationError(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.login(t, alice)

	require.NoError(t, conn.WriteJSON(protocol.Inbound{Type: protocol.TypeMessage, Content: "to nobody"}))
	f := read(t, conn)
	assert.Equal(t, protocol.TypeError, f.Type)
	assert.Contains(t, f.ErrorText(), "receiver")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	f = read(t, conn)
	assert.Equal(t, "malformed frame", f.ErrorText())
}

func TestOutboxFlushedAfterHandshake(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.Send(context.Background(), bob, protocol.SendRequest{ReceiverID: "alice", Content: "while you were out"}, messaging.PathREST)
	require.NoError(t, err)

	conn := h.dial(t)
	require.NoError(t, conn.WriteJSON(protocol.Inbound{Type: protocol.TypeAuth, Token: h.token(t, alice)}))
	assert.Equal(t, protocol.TypeAuthenticated, read(t, conn).Type)
	count := read(t, conn)
	require.Equal(t, protocol.TypeUnreadCount, count.Type)
	assert.EqualValues(t, 1, count.Data.Count)

	f := read(t, conn)
	require.Equal(t, protocol.TypeNewMessage, f.Type)
	v, err := f.View()
	require.NoError(t, err)
	assert.Equal(t, "while you were out", v.Content)
}

// gatedOutbox parks Push or Drain until the test opens the gate, so a
// test can interleave routing with a handshake.
type gatedOutbox struct {
	*outbox.Memory
	pushGate, drainGate chan struct{}
	pushing, draining   chan struct{}
}

func newGatedOutbox(push, drain bool) *gatedOutbox {
	g := &gatedOutbox{
		Memory:   outbox.NewMemory(10, time.Hour),
		pushing:  make(chan struct{}, 1),
		draining: make(chan struct{}, 1),
	}
	if push {
		g.pushGate = make(chan struct{})
	}
	if drain {
		g.drainGate = make(chan struct{})
	}
	return g
}

func (g *gatedOutbox) Push(ctx context.Context, id identity.UserID, frame []byte) error {
	if g.pushGate != nil {
		select {
		case g.pushing <- struct{}{}:
		default:
		}
		<-g.pushGate
	}
	return g.Memory.Push(ctx, id, frame)
}

func (g *gatedOutbox) Drain(ctx context.Context, id identity.UserID) ([][]byte, error) {
	if g.drainGate != nil {
		select {
		case g.draining <- struct{}{}:
		default:
		}
		<-g.drainGate
	}
	return g.Memory.Drain(ctx, id)
}

func readMessage(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	f := read(t, conn)
	require.Equal(t, protocol.TypeNewMessage, f.Type)
	v, err := f.View()
	require.NoError(t, err)
	return v.Content
}

func TestReceiverLoggingInDuringQueueing(t *testing.T) {
	ob := newGatedOutbox(true, false)
	h := newHarnessWith(t, ob, nil)

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Send(context.Background(), bob, protocol.SendRequest{ReceiverID: "alice", Content: "racing"}, messaging.PathREST)
		done <- err
	}()
	<-ob.pushing

	// alice registers and drains an empty outbox while the push is parked
	conn := h.login(t, alice)
	close(ob.pushGate)
	require.NoError(t, <-done)

	assert.Equal(t, "racing", readMessage(t, conn))
	count := read(t, conn)
	require.Equal(t, protocol.TypeUnreadCount, count.Type)
	assert.EqualValues(t, 1, count.Data.Count)

	left, err := ob.Memory.Drain(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestQueuedFramesPrecedeLiveOnes(t *testing.T) {
	ob := newGatedOutbox(false, true)
	h := newHarnessWith(t, ob, nil)
	ctx := context.Background()

	_, err := h.svc.Send(ctx, bob, protocol.SendRequest{ReceiverID: "alice", Content: "older"}, messaging.PathREST)
	require.NoError(t, err)

	conn := h.dial(t)
	require.NoError(t, conn.WriteJSON(protocol.Inbound{Type: protocol.TypeAuth, Token: h.token(t, alice)}))
	<-ob.draining

	// registered but not yet acked: this one is held
	_, err = h.svc.Send(ctx, bob, protocol.SendRequest{ReceiverID: "alice", Content: "newer"}, messaging.PathREST)
	require.NoError(t, err)
	close(ob.drainGate)

	assert.Equal(t, protocol.TypeAuthenticated, read(t, conn).Type)
	assert.Equal(t, protocol.TypeUnreadCount, read(t, conn).Type)
	assert.Equal(t, "older", readMessage(t, conn))
	assert.Equal(t, "newer", readMessage(t, conn))
	count := read(t, conn)
	require.Equal(t, protocol.TypeUnreadCount, count.Type)
	assert.EqualValues(t, 2, count.Data.Count)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(c *config.ClientConfig) {
		c.RateLimit = 0.01
		c.RateBurst = 2
	})
	conn := h.login(t, alice)

	send := protocol.Inbound{Type: protocol.TypeMessage, ReceiverID: "bob", Content: "one"}
	require.NoError(t, conn.WriteJSON(send))
	assert.Equal(t, protocol.TypeNewMessage, read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(send))
	f := read(t, conn)
	assert.Equal(t, protocol.TypeError, f.Type)
	assert.Equal(t, "too many requests", f.ErrorText())
}

func TestClientHoldsFramesUntilAck(t *testing.T) {
	c := &Client{send: make(chan []byte, 4), state: StateAuthenticating}

	require.NoError(t, c.Send(protocol.UnreadCount(3)))
	assert.Len(t, c.held, 1)
	assert.Empty(t, c.send)

	require.NoError(t, c.reply(protocol.Error("not authenticated")))
	assert.Len(t, c.send, 1)

	c.Close()
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Send(protocol.UnreadCount(1)), ErrClosed)
	c.Close()
}

func TestClientSlowPeerIsClosed(t *testing.T) {
	c := &Client{send: make(chan []byte, 1), state: StateAuthenticated}

	err := c.Send(protocol.UnreadCount(1), protocol.UnreadCount(2))
	assert.ErrorIs(t, err, ErrSlow)
	assert.Equal(t, StateClosed, c.State())
}
