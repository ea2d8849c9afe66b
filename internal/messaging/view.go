package messaging

import (
	"context"

	"go.uber.org/zap"

	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/internal/model"
	"github.com/nzlov/relay/internal/store"
	"github.com/nzlov/relay/protocol"
)

// profiles resolves display data. The support identity is rendered from
// configuration; a lookup failure degrades to bare ids.
func (s *Service) profiles(ctx context.Context, ids []identity.UserID) map[identity.UserID]store.Profile {
	var lookup []identity.UserID
	for _, id := range ids {
		if id != identity.Support {
			lookup = append(lookup, id)
		}
	}
	out, err := s.store.Profiles(ctx, lookup)
	if err != nil {
		zap.S().With("method", "profiles").Warn("profile lookup:", err)
	}
	if out == nil {
		out = map[identity.UserID]store.Profile{}
	}
	out[identity.Support] = store.Profile{ID: identity.Support, Name: s.support.Name, Avatar: s.support.Avatar}
	return out
}

func render(m *model.Message, ps map[identity.UserID]store.Profile) *protocol.MessageView {
	v := &protocol.MessageView{
		ID:         m.ID,
		SenderID:   string(m.SenderID),
		ReceiverID: string(m.ReceiverID),
		Content:    m.Content,
		Timestamp:  m.Timestamp,
		IsSupport:  m.IsSupport,
		IsRead:     m.IsRead,
		SenderName: string(m.SenderID),
	}
	if p, ok := ps[m.SenderID]; ok {
		if p.Name != "" {
			v.SenderName = p.Name
		}
		v.SenderAvatar = p.Avatar
	}
	return v
}

func (s *Service) view(ctx context.Context, m *model.Message) *protocol.MessageView {
	return render(m, s.profiles(ctx, []identity.UserID{m.SenderID}))
}

func (s *Service) views(ctx context.Context, ms []model.Message) []*protocol.MessageView {
	seen := map[identity.UserID]struct{}{}
	var ids []identity.UserID
	for i := range ms {
		if _, ok := seen[ms[i].SenderID]; !ok {
			seen[ms[i].SenderID] = struct{}{}
			ids = append(ids, ms[i].SenderID)
		}
	}
	ps := s.profiles(ctx, ids)
	out := make([]*protocol.MessageView, 0, len(ms))
	for i := range ms {
		out = append(out, render(&ms[i], ps))
	}
	return out
}
