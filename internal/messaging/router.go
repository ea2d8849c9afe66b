package messaging

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/internal/metrics"
	"github.com/nzlov/relay/internal/registry"
	"github.com/nzlov/relay/protocol"
)

// Route pushes a persisted message to whoever is online to see it.
//
// Messages addressed to the support identity fan out to every staff
// connection. Anything else goes to the receiver's single connection; an
// offline receiver gets the frame in their outbox instead.
func (s *Service) Route(ctx context.Context, v *protocol.MessageView) {
	log := zap.S().With("method", "Route", "message", v.ID)
	frame, err := protocol.NewMessage(v)
	if err != nil {
		log.Error("encode frame:", err)
		return
	}

	receiver := identity.UserID(v.ReceiverID)
	if receiver == identity.Support {
		s.reg.ForEachStaff(identity.Role.IsStaff, func(c registry.Conn) {
			s.deliver(ctx, c, frame)
		})
		return
	}

	c, ok := s.reg.Lookup(receiver)
	if !ok {
		if !s.enqueue(ctx, receiver, frame) {
			return
		}
		// The receiver may have registered and drained between the lookup
		// and the push. Whoever drains the outbox delivers its frames.
		if c, ok := s.reg.Lookup(receiver); ok {
			s.deliver(ctx, c, s.Pending(ctx, receiver)...)
		}
		return
	}
	s.deliver(ctx, c, frame)
}

// deliver sends the frames followed by the recipient's recomputed badge. A
// send error is logged and the recipient is treated as absent for these
// messages.
func (s *Service) deliver(ctx context.Context, c registry.Conn, frames ...protocol.Outbound) {
	if len(frames) == 0 {
		return
	}
	log := zap.S().With("method", "deliver", "user", c.UserID())

	n, err := s.Badge(ctx, identity.Principal{ID: c.UserID(), Role: c.Role()})
	if err != nil {
		log.Error("badge:", err)
	} else {
		frames = append(frames, protocol.UnreadCount(n))
	}

	if err := c.Send(frames...); err != nil {
		log.Warn("push failed:", err)
		metrics.Pushes.WithLabelValues("error").Inc()
		return
	}
	metrics.Pushes.WithLabelValues("ok").Inc()
}

func (s *Service) enqueue(ctx context.Context, id identity.UserID, frame protocol.Outbound) bool {
	b, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	if err := s.outbox.Push(ctx, id, b); err != nil {
		zap.S().With("method", "enqueue", "user", id).Warn("outbox push:", err)
		metrics.Pushes.WithLabelValues("absent").Inc()
		return false
	}
	metrics.Pushes.WithLabelValues("queued").Inc()
	return true
}

// Requeue returns drained frames to the outbox when the connection that
// drained them closed before sending them.
func (s *Service) Requeue(ctx context.Context, id identity.UserID, frames []protocol.Outbound) {
	for _, f := range frames {
		s.enqueue(ctx, id, f)
	}
}

// Pending drains the outbox of a user who just authenticated.
func (s *Service) Pending(ctx context.Context, id identity.UserID) []protocol.Outbound {
	raw, err := s.outbox.Drain(ctx, id)
	if err != nil {
		zap.S().With("method", "Pending", "user", id).Warn("outbox drain:", err)
		return nil
	}
	out := make([]protocol.Outbound, 0, len(raw))
	for _, b := range raw {
		var f protocol.Outbound
		if err := json.Unmarshal(b, &f); err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}
