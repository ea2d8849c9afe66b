// Package protocol defines the JSON frames exchanged over the websocket and
// the message shape shared by the socket and REST paths.
package protocol

import (
	"encoding/json"
	"time"
)

// Frame types.
const (
	TypeAuth          = "auth"
	TypeMessage       = "message"
	TypeAuthenticated = "authenticated"
	TypeUnreadCount   = "unreadCount"
	TypeNewMessage    = "new_message"
	TypeError         = "error"
)

// Inbound is any client→server frame. Fields unused by a type stay empty.
type Inbound struct {
	Type       string `json:"type"`
	Token      string `json:"token,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
	Content    string `json:"content,omitempty"`
	IsSupport  bool   `json:"isSupport,omitempty"`
}

// SendRequest is the body of POST /messages and the payload of a "message"
// frame.
type SendRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
	IsSupport  bool   `json:"isSupport"`
}

// MessageView is a persisted message with display fields resolved. Both
// delivery paths return exactly this shape.
type MessageView struct {
	ID           string    `json:"id"`
	SenderID     string    `json:"senderId"`
	ReceiverID   string    `json:"receiverId"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	IsSupport    bool      `json:"isSupport"`
	IsRead       bool      `json:"isRead"`
	SenderName   string    `json:"senderName,omitempty"`
	SenderAvatar string    `json:"senderAvatar,omitempty"`
}

type Count struct {
	Count int64 `json:"count"`
}

// Outbound is any server→client frame.
type Outbound struct {
	Type    string          `json:"type"`
	Status  string          `json:"status,omitempty"`
	Data    *Count          `json:"data,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

func Authenticated() Outbound {
	return Outbound{Type: TypeAuthenticated, Status: "ok"}
}

func UnreadCount(n int64) Outbound {
	return Outbound{Type: TypeUnreadCount, Data: &Count{Count: n}}
}

func NewMessage(v *MessageView) (Outbound, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Outbound{}, err
	}
	return Outbound{Type: TypeNewMessage, Message: b}, nil
}

// Error frames carry a plain string in "message".
func Error(msg string) Outbound {
	b, _ := json.Marshal(msg)
	return Outbound{Type: TypeError, Message: b}
}

// ErrorText returns the string carried by an error frame.
func (o Outbound) ErrorText() string {
	var s string
	_ = json.Unmarshal(o.Message, &s)
	return s
}

// View decodes the message carried by a new_message frame.
func (o Outbound) View() (*MessageView, error) {
	v := &MessageView{}
	if err := json.Unmarshal(o.Message, v); err != nil {
		return nil, err
	}
	return v, nil
}

// ChannelCounts is the body of GET /messages/unread.
type ChannelCounts struct {
	General int64 `json:"general"`
	Support int64 `json:"support"`
}

// ReadRequest is the body of POST /messages/read.
type ReadRequest struct {
	IsSupport    bool   `json:"isSupport"`
	ThreadUserID string `json:"threadUserId,omitempty"`
}

// Thread summarises one conversation for list views.
type Thread struct {
	UserID      string       `json:"userId"`
	Name        string       `json:"name,omitempty"`
	Avatar      string       `json:"avatar,omitempty"`
	LastMessage *MessageView `json:"lastMessage"`
	Unread      int64        `json:"unread"`
}

// ErrorBody is the JSON error envelope of the REST surface.
type ErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
