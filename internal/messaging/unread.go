package messaging

import (
	"context"

	"go.uber.org/zap"

	"github.com/nzlov/relay/internal/apperr"
	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/internal/registry"
	"github.com/nzlov/relay/internal/store"
	"github.com/nzlov/relay/protocol"
)

// Badge is the unread notification count shown on p's bell: personal rows,
// plus broadcast rows for staff. It is always read from the store.
func (s *Service) Badge(ctx context.Context, p identity.Principal) (int64, error) {
	n, err := s.store.CountNotifications(ctx, store.NotificationFilter{
		Owners:     p.BadgeOwners(),
		UnreadOnly: true,
	})
	if err != nil {
		return 0, apperr.Internal("count notifications", err)
	}
	return n, nil
}

func (s *Service) pushBadge(ctx context.Context, c registry.Conn) {
	n, err := s.Badge(ctx, identity.Principal{ID: c.UserID(), Role: c.Role()})
	if err != nil {
		zap.S().With("method", "pushBadge", "user", c.UserID()).Error(err)
		return
	}
	if err := c.Send(protocol.UnreadCount(n)); err != nil {
		zap.S().With("method", "pushBadge", "user", c.UserID()).Warn("push failed:", err)
	}
}

// pushBadges refreshes every live connection that can see notifications
// owned by owners.
func (s *Service) pushBadges(ctx context.Context, owners []identity.UserID) {
	broadcast := contains(owners, identity.Broadcast)
	for _, id := range owners {
		if id == identity.Broadcast {
			continue
		}
		c, ok := s.reg.Lookup(id)
		// staff are refreshed below when a broadcast row changed
		if !ok || (broadcast && c.Role().IsStaff()) {
			continue
		}
		s.pushBadge(ctx, c)
	}
	if broadcast {
		s.reg.ForEachStaff(identity.Role.IsStaff, func(c registry.Conn) {
			s.pushBadge(ctx, c)
		})
	}
}

// ChannelCounts returns the unread message counts of the general and
// support channels as seen by p. Staff share the support identity's inbox.
func (s *Service) ChannelCounts(ctx context.Context, p identity.Principal) (protocol.ChannelCounts, error) {
	var cc protocol.ChannelCounts
	general, err := s.store.CountMessages(ctx, store.MessageFilter{
		ReceiverID:   p.ID,
		ExcludeParty: identity.Support,
		UnreadOnly:   true,
	})
	if err != nil {
		return cc, apperr.Internal("count general", err)
	}

	sf := store.MessageFilter{SenderID: identity.Support, ReceiverID: p.ID, UnreadOnly: true}
	if p.IsStaff() {
		sf = store.MessageFilter{ReceiverID: identity.Support, UnreadOnly: true}
	}
	support, err := s.store.CountMessages(ctx, sf)
	if err != nil {
		return cc, apperr.Internal("count support", err)
	}

	cc.General, cc.Support = general, support
	return cc, nil
}

// ReadScope selects the messages a mark-read request applies to.
func ReadScope(p identity.Principal, req protocol.ReadRequest) (store.MessageFilter, error) {
	thread := identity.UserID(req.ThreadUserID)
	switch {
	case req.IsSupport && p.IsStaff():
		if thread == "" || thread.IsSentinel() {
			return store.MessageFilter{}, apperr.Validation("threadUserId is required")
		}
		return store.MessageFilter{SenderID: thread, ReceiverID: identity.Support}, nil
	case req.IsSupport:
		return store.MessageFilter{SenderID: identity.Support, ReceiverID: p.ID}, nil
	default:
		f := store.MessageFilter{ReceiverID: p.ID, ExcludeParty: identity.Support}
		if thread != "" {
			f.SenderID = thread
		}
		return f, nil
	}
}

// MarkAsRead flags the messages selected by ReadScope and returns how many
// changed.
func (s *Service) MarkAsRead(ctx context.Context, p identity.Principal, req protocol.ReadRequest) (int64, error) {
	f, err := ReadScope(p, req)
	if err != nil {
		return 0, err
	}
	n, err := s.store.MarkMessagesRead(ctx, f)
	if err != nil {
		return 0, apperr.Internal("mark messages read", err)
	}
	return n, nil
}

func contains(ids []identity.UserID, id identity.UserID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
