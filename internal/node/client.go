package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/internal/metrics"
	"github.com/nzlov/relay/protocol"
)

// State is where a connection is in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

var (
	ErrClosed = errors.New("node: connection closed")
	// ErrSlow means the peer stopped draining its send buffer. The
	// connection is closed when it is returned.
	ErrSlow = errors.New("node: send buffer full")
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client is one websocket connection. It satisfies registry.Conn once
// authenticated.
type Client struct {
	node *Node
	cid  string
	conn *websocket.Conn
	log  *zap.SugaredLogger

	limiter *rate.Limiter

	mu        sync.Mutex
	state     State
	principal identity.Principal
	// held keeps frames routed to the connection between registration and
	// the handshake ack, so the ack is always the first frame out.
	held [][]byte
	// Buffered channel of outbound frames, closed exactly once by Close.
	send chan []byte
}

func (c *Client) UserID() identity.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal.ID
}

func (c *Client) Role() identity.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal.Role
}

// logger is safe to call from the write pump; the read pump swaps the
// logger once the user is known.
func (c *Client) logger() *zap.SugaredLogger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Principal() identity.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal
}

// Send enqueues frames routed to this connection as one ordered unit. Before
// the handshake ack has gone out they are held and written right after it.
func (c *Client) Send(frames ...protocol.Outbound) error {
	bufs, err := encode(frames)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateClosed:
		return ErrClosed
	case StateAuthenticated:
		return c.enqueueLocked(bufs)
	default:
		c.held = append(c.held, bufs...)
		return nil
	}
}

// reply writes frames answering the peer's own request, whatever the state.
func (c *Client) reply(frames ...protocol.Outbound) error {
	bufs, err := encode(frames)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClosed
	}
	return c.enqueueLocked(bufs)
}

func (c *Client) enqueueLocked(bufs [][]byte) error {
	if cap(c.send)-len(c.send) < len(bufs) {
		c.closeLocked()
		return ErrSlow
	}
	for _, b := range bufs {
		c.send <- b
	}
	return nil
}

// Close stops accepting frames. The write pump flushes what is queued, sends
// a close frame and drops the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.held = nil
	close(c.send)
}

func encode(frames []protocol.Outbound) ([][]byte, error) {
	bufs := make([][]byte, 0, len(frames))
	for _, f := range frames {
		b, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		bufs = append(bufs, b)
	}
	return bufs, nil
}

// readPump pumps frames from the websocket connection to the handler.
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		if c.node.reg.Unregister(c) {
			c.log.Info("unregister")
		}
		if c.State() == StateAuthenticating {
			metrics.Handshakes.WithLabelValues("abandoned").Inc()
		}
		c.Close()
	}()

	cfg := c.node.cfg
	c.mu.Lock()
	c.state = StateAuthenticating
	c.mu.Unlock()

	c.conn.SetReadLimit(cfg.ReadMessageSizeLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.AuthTimeout))
	c.conn.SetPongHandler(func(string) error {
		if c.State() == StateAuthenticated {
			_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		}
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("read:", err)
			}
			return
		}
		message = bytes.TrimSpace(bytes.ReplaceAll(message, newline, space))
		if !c.handle(ctx, message) {
			return
		}
	}
}

// writePump pumps frames from the send channel to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	cfg := c.node.cfg
	ticker := time.NewTicker(c.node.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.logger().Warn("NextWriter:", err)
				return
			}
			c.logger().Debug("write:", string(message))
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				c.logger().Warn("NextWriter Close:", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger().Warn("WriteMessage PingMessage:", err)
				return
			}
		}
	}
}
