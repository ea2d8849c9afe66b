// Package memory is an in-process Gateway used for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/internal/model"
	"github.com/nzlov/relay/internal/store"
)

type Store struct {
	mu            sync.RWMutex
	messages      []*model.Message
	notifications []*model.Notification
	profiles      map[identity.UserID]store.Profile
}

func New() *Store {
	return &Store{
		profiles: make(map[identity.UserID]store.Profile),
	}
}

var _ store.Gateway = (*Store)(nil)

// PutProfile stores display data for a user.
func (s *Store) PutProfile(p store.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	cp := *m
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, f store.MessageFilter) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Message
	for _, m := range s.messages {
		if f.Match(m) {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (s *Store) CountMessages(ctx context.Context, f store.MessageFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.messages {
		if f.Match(m) {
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkMessagesRead(ctx context.Context, f store.MessageFilter) (int64, error) {
	f.UnreadOnly = true
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if f.Match(m) {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateNotification(ctx context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	cp := *n
	s.notifications = append(s.notifications, &cp)
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, f store.NotificationFilter) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if f.Match(n) {
			out = append(out, *n)
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) CountNotifications(ctx context.Context, f store.NotificationFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c int64
	for _, n := range s.notifications {
		if f.Match(n) {
			c++
		}
	}
	return c, nil
}

func (s *Store) MarkNotificationsRead(ctx context.Context, f store.NotificationFilter) ([]identity.UserID, error) {
	f.UnreadOnly = true
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[identity.UserID]struct{}{}
	var owners []identity.UserID
	for _, n := range s.notifications {
		if !f.Match(n) {
			continue
		}
		n.IsRead = true
		if _, ok := seen[n.UserID]; !ok {
			seen[n.UserID] = struct{}{}
			owners = append(owners, n.UserID)
		}
	}
	return owners, nil
}

func (s *Store) Profiles(ctx context.Context, ids []identity.UserID) (map[identity.UserID]store.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[identity.UserID]store.Profile, len(ids))
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
