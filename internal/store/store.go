// Package store defines the Message Store Gateway: durable create, list and
// mark-read over messages and notifications.
package store

import (
	"context"

	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/internal/model"
)

// MessageFilter selects messages. Zero-valued fields are ignored; set fields
// are ANDed together.
type MessageFilter struct {
	// Between selects messages exchanged by the pair, in either direction.
	Between [2]identity.UserID
	// Participant selects messages with this id on either side.
	Participant identity.UserID
	SenderID    identity.UserID
	ReceiverID  identity.UserID
	// ExcludeParty drops messages with this id on either side.
	ExcludeParty identity.UserID
	UnreadOnly   bool
	// Limit keeps the newest Limit rows. Results are always oldest first.
	Limit int
}

// Match reports whether m is selected by f.
func (f MessageFilter) Match(m *model.Message) bool {
	if f.Between[0] != "" && f.Between[1] != "" {
		a, b := f.Between[0], f.Between[1]
		if !(m.SenderID == a && m.ReceiverID == b) && !(m.SenderID == b && m.ReceiverID == a) {
			return false
		}
	}
	if f.Participant != "" && !m.Touches(f.Participant) {
		return false
	}
	if f.SenderID != "" && m.SenderID != f.SenderID {
		return false
	}
	if f.ReceiverID != "" && m.ReceiverID != f.ReceiverID {
		return false
	}
	if f.ExcludeParty != "" && m.Touches(f.ExcludeParty) {
		return false
	}
	if f.UnreadOnly && m.IsRead {
		return false
	}
	return true
}

// NotificationFilter selects notifications owned by any of Owners.
type NotificationFilter struct {
	Owners     []identity.UserID
	IDs        []string
	UnreadOnly bool
	Limit      int
}

func (f NotificationFilter) Match(n *model.Notification) bool {
	if len(f.Owners) > 0 && !containsID(f.Owners, n.UserID) {
		return false
	}
	if len(f.IDs) > 0 && !containsString(f.IDs, n.ID) {
		return false
	}
	if f.UnreadOnly && n.IsRead {
		return false
	}
	return true
}

// Profile is display data for a participant.
type Profile struct {
	ID     identity.UserID `json:"id"`
	Name   string          `json:"name"`
	Avatar string          `json:"avatar,omitempty"`
}

// Gateway is the persistence boundary of the messaging core. Implementations
// must be safe for concurrent use.
type Gateway interface {
	CreateMessage(ctx context.Context, m *model.Message) error
	ListMessages(ctx context.Context, f MessageFilter) ([]model.Message, error)
	CountMessages(ctx context.Context, f MessageFilter) (int64, error)
	// MarkMessagesRead flags every unread message matched by f and returns
	// how many changed.
	MarkMessagesRead(ctx context.Context, f MessageFilter) (int64, error)

	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, f NotificationFilter) ([]model.Notification, error)
	CountNotifications(ctx context.Context, f NotificationFilter) (int64, error)
	// MarkNotificationsRead returns the owners of the rows that changed.
	MarkNotificationsRead(ctx context.Context, f NotificationFilter) ([]identity.UserID, error)

	// Profiles returns whatever display data exists for ids; missing ids are
	// simply absent from the map.
	Profiles(ctx context.Context, ids []identity.UserID) (map[identity.UserID]Profile, error)

	Close() error
}

func containsID(ids []identity.UserID, id identity.UserID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
