// Package messaging persists and routes direct and support messages, and
// keeps every live connection's unread badge current.
package messaging

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nzlov/relay/internal/apperr"
	"github.com/nzlov/relay/internal/config"
	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/internal/metrics"
	"github.com/nzlov/relay/internal/model"
	"github.com/nzlov/relay/internal/outbox"
	"github.com/nzlov/relay/internal/registry"
	"github.com/nzlov/relay/internal/store"
	"github.com/nzlov/relay/protocol"
)

// Path is how a message reached the relay.
type Path string

const (
	PathSocket Path = "socket"
	PathREST   Path = "rest"
)

const maxContentLen = 8000

type Service struct {
	store   store.Gateway
	reg     *registry.Registry
	outbox  outbox.Outbox
	support config.SupportConfig
}

func New(gw store.Gateway, reg *registry.Registry, ob outbox.Outbox, support config.SupportConfig) *Service {
	if ob == nil {
		ob = outbox.Nop{}
	}
	return &Service{store: gw, reg: reg, outbox: ob, support: support}
}

// Registry returns the connection table the service routes through.
func (s *Service) Registry() *registry.Registry { return s.reg }

// Send resolves, persists and routes one message. It is the only way a
// message gets created, whichever path it arrived on. Persistence happens
// before any push; push failures never fail the send.
func (s *Service) Send(ctx context.Context, from identity.Principal, req protocol.SendRequest, path Path) (*protocol.MessageView, error) {
	route, err := identity.Resolve(from, identity.Intent{
		ReceiverID: identity.UserID(req.ReceiverID),
		IsSupport:  req.IsSupport,
	})
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, apperr.Validation("content is required")
	}
	if len(content) > maxContentLen {
		return nil, apperr.Validation("content exceeds %d bytes", maxContentLen)
	}

	m := &model.Message{
		SenderID:   route.SenderID,
		ReceiverID: route.ReceiverID,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		IsSupport:  route.IsSupport,
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return nil, apperr.Internal("create message", err)
	}
	metrics.Messages.WithLabelValues(string(path)).Inc()

	v := s.view(ctx, m)
	s.notifyMessage(ctx, from, m, v)
	s.Route(ctx, v)
	return v, nil
}

// notifyMessage records the notification that accompanies a new message. A
// failure is logged; the message itself is already durable.
func (s *Service) notifyMessage(ctx context.Context, from identity.Principal, m *model.Message, v *protocol.MessageView) {
	log := zap.S().With("method", "notifyMessage", "message", m.ID)

	data, _ := json.Marshal(map[string]string{
		"messageId": m.ID,
		"userId":    string(from.ID),
	})
	n := &model.Notification{
		UserID: m.ReceiverID,
		Data:   string(data),
	}
	switch {
	case m.ReceiverID == identity.Support:
		n.UserID = identity.Broadcast
		n.Type = model.NotifySupportTicket
		n.Content = "New support message from " + v.SenderName
	case m.SenderID == identity.Support:
		n.Type = model.NotifySupportReply
		n.Content = "Support replied to your message"
	default:
		n.Type = model.NotifyNewMessage
		n.Content = "New message from " + v.SenderName
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		log.Error("create notification:", err)
	}
}

// Notify creates notifications on behalf of any producer and refreshes the
// badge of every live connection that can see them. Every row is checked
// before any is written, so a rejected batch creates nothing.
func (s *Service) Notify(ctx context.Context, ns ...*model.Notification) error {
	for _, n := range ns {
		n.UserID = identity.UserID(strings.TrimSpace(string(n.UserID)))
		if n.UserID == "" {
			return apperr.Validation("userId is required")
		}
		if n.UserID == identity.Support {
			return apperr.Validation("userId %q cannot own notifications", n.UserID)
		}
		if strings.TrimSpace(n.Type) == "" {
			return apperr.Validation("type is required")
		}
	}
	owners := make([]identity.UserID, 0, len(ns))
	for _, n := range ns {
		n.IsRead = false
		if err := s.store.CreateNotification(ctx, n); err != nil {
			s.pushBadges(ctx, owners)
			return apperr.Internal("create notification", err)
		}
		owners = append(owners, n.UserID)
	}
	s.pushBadges(ctx, owners)
	return nil
}

// Notifications lists what p can see: their own rows and, for staff, the
// broadcast rows.
func (s *Service) Notifications(ctx context.Context, p identity.Principal, unreadOnly bool, limit int) ([]model.Notification, error) {
	ns, err := s.store.ListNotifications(ctx, store.NotificationFilter{
		Owners:     p.BadgeOwners(),
		UnreadOnly: unreadOnly,
		Limit:      limit,
	})
	if err != nil {
		return nil, apperr.Internal("list notifications", err)
	}
	return ns, nil
}

// MarkNotificationsRead marks ids (or everything p can see when ids is
// empty) as read. Broadcast rows are shared, so every staff badge is
// refreshed when one changes.
func (s *Service) MarkNotificationsRead(ctx context.Context, p identity.Principal, ids []string) error {
	owners, err := s.store.MarkNotificationsRead(ctx, store.NotificationFilter{
		Owners: p.BadgeOwners(),
		IDs:    ids,
	})
	if err != nil {
		return apperr.Internal("mark notifications read", err)
	}
	s.pushBadges(ctx, owners)
	return nil
}
