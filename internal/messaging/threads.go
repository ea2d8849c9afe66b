package messaging

import (
	"context"
	"sort"

	"github.com/nzlov/relay/internal/apperr"
	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/internal/model"
	"github.com/nzlov/relay/internal/store"
	"github.com/nzlov/relay/protocol"
)

// ListQuery mirrors GET /messages.
type ListQuery struct {
	IsSupport    bool
	UserID       identity.UserID
	ThreadUserID identity.UserID
	Limit        int
}

func (q ListQuery) other() identity.UserID {
	if q.ThreadUserID != "" {
		return q.ThreadUserID
	}
	return q.UserID
}

// Messages returns one thread, oldest first.
//
// On the support channel a user always reads their own thread with support
// while staff must name the user whose thread they open. On the general
// channel UserID names the other participant; without it every general
// message of p is returned.
func (s *Service) Messages(ctx context.Context, p identity.Principal, q ListQuery) ([]*protocol.MessageView, error) {
	f := store.MessageFilter{Limit: q.Limit}
	other := q.other()
	switch {
	case q.IsSupport && p.IsStaff():
		if other == "" || other.IsSentinel() {
			return nil, apperr.Validation("threadUserId is required")
		}
		f.Between = [2]identity.UserID{other, identity.Support}
	case q.IsSupport:
		f.Between = [2]identity.UserID{p.ID, identity.Support}
	case other != "":
		if other.IsSentinel() {
			return nil, apperr.Validation("userId %q is reserved", other)
		}
		f.Between = [2]identity.UserID{p.ID, other}
	default:
		f.Participant = p.ID
		f.ExcludeParty = identity.Support
	}

	ms, err := s.store.ListMessages(ctx, f)
	if err != nil {
		return nil, apperr.Internal("list messages", err)
	}
	return s.views(ctx, ms), nil
}

// Threads derives the conversation list of a channel. Staff on the support
// channel see one thread per user who wrote to support.
func (s *Service) Threads(ctx context.Context, p identity.Principal, isSupport bool) ([]protocol.Thread, error) {
	// self is the side whose unread messages count for this list.
	self := p.ID
	f := store.MessageFilter{Participant: p.ID, ExcludeParty: identity.Support}
	switch {
	case isSupport && p.IsStaff():
		self = identity.Support
		f = store.MessageFilter{Participant: identity.Support}
	case isSupport:
		f = store.MessageFilter{Between: [2]identity.UserID{p.ID, identity.Support}}
	}

	ms, err := s.store.ListMessages(ctx, f)
	if err != nil {
		return nil, apperr.Internal("list threads", err)
	}

	type acc struct {
		last   *model.Message
		unread int64
	}
	groups := map[identity.UserID]*acc{}
	var order []identity.UserID
	for i := range ms {
		m := &ms[i]
		key := m.Counterpart(self)
		if isSupport && !p.IsStaff() {
			key = identity.Support
		}
		g, ok := groups[key]
		if !ok {
			g = &acc{}
			groups[key] = g
			order = append(order, key)
		}
		g.last = m
		if m.ReceiverID == self && !m.IsRead {
			g.unread++
		}
	}

	ids := append([]identity.UserID{}, order...)
	for _, g := range groups {
		ids = append(ids, g.last.SenderID)
	}
	ps := s.profiles(ctx, ids)

	out := make([]protocol.Thread, 0, len(order))
	for _, id := range order {
		g := groups[id]
		t := protocol.Thread{
			UserID:      string(id),
			LastMessage: render(g.last, ps),
			Unread:      g.unread,
		}
		if prof, ok := ps[id]; ok {
			t.Name, t.Avatar = prof.Name, prof.Avatar
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.Timestamp.After(out[j].LastMessage.Timestamp)
	})
	return out, nil
}
