// Package model holds the persisted rows of the messaging core.
package model

import (
	"time"

	"github.com/nzlov/relay/internal/identity"
)

// Notification types emitted by the messaging core. External services
// (contracts, disputes, milestones) use their own.
const (
	NotifySupportTicket = "support_ticket"
	NotifyNewMessage    = "new_message"
	NotifySupportReply  = "support_reply"
)

type Message struct {
	ID         string          `json:"id" gorm:"column:id;primaryKey;size:36"`
	SenderID   identity.UserID `json:"senderId" gorm:"column:sender_id;index;size:64"`
	ReceiverID identity.UserID `json:"receiverId" gorm:"column:receiver_id;index;size:64"`
	Content    string          `json:"content" gorm:"column:content"`
	Timestamp  time.Time       `json:"timestamp" gorm:"column:timestamp;index"`
	IsSupport  bool            `json:"isSupport" gorm:"column:is_support;index"`
	IsRead     bool            `json:"isRead" gorm:"column:is_read;index"`
}

// Touches reports whether id is the sender or receiver.
func (m *Message) Touches(id identity.UserID) bool {
	return m.SenderID == id || m.ReceiverID == id
}

// Counterpart returns the other participant from self's point of view.
func (m *Message) Counterpart(self identity.UserID) identity.UserID {
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

type Notification struct {
	ID        string          `json:"id" gorm:"column:id;primaryKey;size:36"`
	UserID    identity.UserID `json:"userId" gorm:"column:user_id;index;size:64"`
	Type      string          `json:"type" gorm:"column:type;size:64"`
	Content   string          `json:"content" gorm:"column:content"`
	Data      string          `json:"data,omitempty" gorm:"column:data"`
	IsRead    bool            `json:"isRead" gorm:"column:is_read;index"`
	CreatedAt time.Time       `json:"createdAt" gorm:"column:created_at;index"`
}

// User is the read-only slice of the platform's users table needed to render
// display names. The table is owned by the user CRUD and never migrated here.
type User struct {
	ID     identity.UserID `gorm:"column:id;primaryKey"`
	Name   string          `gorm:"column:name"`
	Avatar string          `gorm:"column:avatar"`
}
