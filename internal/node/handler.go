package node

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/nzlov/relay/internal/apperr"
	"github.com/nzlov/relay/internal/messaging"
	"github.com/nzlov/relay/internal/metrics"
	"github.com/nzlov/relay/protocol"
)

// handle processes one inbound frame. It returns false when the connection
// must stop reading.
func (c *Client) handle(ctx context.Context, data []byte) bool {
	defer func() {
		if err := recover(); err != nil {
			c.log.Error("handler panic:", err)
			_ = c.reply(protocol.Error(apperr.ErrInternal.Message))
		}
	}()

	if c.limiter != nil && !c.limiter.Allow() {
		c.fail(apperr.ErrRateLimited)
		return true
	}

	var in protocol.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		c.log.Warn("json unmarshal:", err)
		c.fail(apperr.Validation("malformed frame"))
		return true
	}

	switch c.State() {
	case StateAuthenticating:
		if in.Type != protocol.TypeAuth {
			c.fail(apperr.NotAuthenticated())
			return true
		}
		return c.authenticate(ctx, in.Token)
	case StateAuthenticated:
		switch in.Type {
		case protocol.TypeAuth:
			c.fail(apperr.Validation("already authenticated"))
		case protocol.TypeMessage:
			c.message(ctx, in)
		default:
			c.fail(apperr.Validation("unknown frame type %q", in.Type))
		}
		return true
	default:
		return false
	}
}

func (c *Client) fail(err error) {
	if e := c.reply(protocol.Error(apperr.Public(err))); e != nil {
		c.log.Warn("reply:", e)
	}
}

// authenticate verifies the credential, takes over the user's registry slot
// and writes the ack, the badge, anything the outbox held and then whatever
// was routed to the connection while it was authenticating.
func (c *Client) authenticate(ctx context.Context, token string) bool {
	n := c.node
	p, err := n.verifier.Verify(token)
	if err != nil {
		c.log.Warn("auth:", err)
		metrics.Handshakes.WithLabelValues("rejected").Inc()
		c.fail(err)
		c.Close()
		return false
	}

	log := zap.S().With(
		"cid", c.cid,
		"user", p.ID,
		"role", p.Role,
	)
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	c.principal = p
	c.log = log
	c.mu.Unlock()

	if err := n.reg.Register(c); err != nil {
		c.log.Warn("register:", err)
		metrics.Handshakes.WithLabelValues("rejected").Inc()
		c.fail(apperr.Authentication("", err))
		c.Close()
		return false
	}

	frames := []protocol.Outbound{protocol.Authenticated()}
	badge, err := n.svc.Badge(ctx, p)
	if err != nil {
		c.log.Error("badge:", err)
	} else {
		frames = append(frames, protocol.UnreadCount(badge))
	}
	// Queued frames are older than anything routed live since Register, so
	// they go out ahead of the held ones.
	pending := n.svc.Pending(ctx, p.ID)
	frames = append(frames, pending...)
	bufs, err := encode(frames)
	if err != nil {
		c.log.Error("encode:", err)
		c.Close()
		return false
	}

	c.mu.Lock()
	if c.state == StateClosed {
		// evicted by a newer connection mid-handshake
		c.mu.Unlock()
		n.svc.Requeue(ctx, p.ID, pending)
		return false
	}
	c.state = StateAuthenticated
	bufs = append(bufs, c.held...)
	c.held = nil
	err = c.enqueueLocked(bufs)
	c.mu.Unlock()
	if err != nil {
		c.log.Warn("handshake:", err)
		n.svc.Requeue(ctx, p.ID, pending)
		return false
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(n.cfg.PongWait))
	metrics.Handshakes.WithLabelValues("ok").Inc()
	c.log.Info("authenticated")
	return true
}

// message persists and routes a socket send, then echoes the stored message
// back to the sender.
func (c *Client) message(ctx context.Context, in protocol.Inbound) {
	v, err := c.node.svc.Send(ctx, c.Principal(), protocol.SendRequest{
		ReceiverID: in.ReceiverID,
		Content:    in.Content,
		IsSupport:  in.IsSupport,
	}, messaging.PathSocket)
	if err != nil {
		if apperr.From(err).Code == apperr.ErrInternal.Code {
			c.log.Error("send:", err)
		}
		c.fail(err)
		return
	}
	frame, err := protocol.NewMessage(v)
	if err != nil {
		c.log.Error("encode:", err)
		return
	}
	if err := c.reply(frame); err != nil {
		c.log.Warn("echo:", err)
	}
}
