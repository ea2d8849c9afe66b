// Package client is the Go client of the relay: a websocket session, the
// REST fallback and Submit, which sends a message over exactly one of them.
package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nzlov/relay/protocol"
)

// ErrNotOpen is returned synchronously by Socket.SendMessage when no
// authenticated session exists. It is the only error Submit falls back on.
var ErrNotOpen = errors.New("client: socket not open")

// writeWait bounds a single frame write to the server.
var writeWait = 10 * time.Second

// Socket is an authenticated websocket session.
type Socket struct {
	log *zap.SugaredLogger

	mu   sync.Mutex
	conn *websocket.Conn
	open bool

	frames chan protocol.Outbound
}

// Dial connects to url (ws://host/ws), authenticates with token and waits
// for the ack. Frames after the ack, starting with the unread badge, are
// delivered on Frames.
func Dial(ctx context.Context, url, token string) (*Socket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}
	if err := conn.WriteJSON(protocol.Inbound{Type: protocol.TypeAuth, Token: token}); err != nil {
		conn.Close()
		return nil, err
	}
	var ack protocol.Outbound
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, err
	}
	if ack.Type != protocol.TypeAuthenticated {
		conn.Close()
		return nil, &APIError{Status: http.StatusUnauthorized, Code: "authentication", Message: ack.ErrorText()}
	}
	_ = conn.SetReadDeadline(time.Time{})

	s := &Socket{
		log:    zap.S().With("method", "Socket", "url", url),
		conn:   conn,
		open:   true,
		frames: make(chan protocol.Outbound, 64),
	}
	go s.readLoop()
	return s, nil
}

// Frames carries every server frame after the ack and must be drained. It
// is closed when the session ends.
func (s *Socket) Frames() <-chan protocol.Outbound { return s.frames }

func (s *Socket) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Socket) readLoop() {
	defer func() {
		s.markClosed()
		close(s.frames)
	}()
	for {
		var f protocol.Outbound
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("read:", err)
			}
			return
		}
		s.frames <- f
	}
}

func (s *Socket) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
}

// SendMessage writes a message frame. The stored message comes back on
// Frames as new_message.
func (s *Socket) SendMessage(req protocol.SendRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.open = false
		return err
	}
	err := s.conn.WriteJSON(protocol.Inbound{
		Type:       protocol.TypeMessage,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		IsSupport:  req.IsSupport,
	})
	if err != nil {
		s.open = false
	}
	return err
}

// Close ends the session. SendMessage reports ErrNotOpen afterwards.
func (s *Socket) Close() error {
	s.mu.Lock()
	wasOpen := s.open
	s.open = false
	s.mu.Unlock()
	if wasOpen {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}
	return s.conn.Close()
}
