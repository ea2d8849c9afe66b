package identity

import (
	"strings"

	"github.com/nzlov/relay/internal/apperr"
)

// Intent is what a client asked for: a receiver and a channel flag.
type Intent struct {
	ReceiverID UserID
	IsSupport  bool
}

// Route is the concrete sender/receiver pair that gets persisted.
type Route struct {
	SenderID   UserID
	ReceiverID UserID
	IsSupport  bool
}

// Resolve maps a sender and intent to the pair stored on the message.
//
// Support messages from non-staff always go to Support, whatever receiver the
// client sent. Staff writing on the support channel speak as Support and must
// name the thread they are answering.
func Resolve(sender Principal, in Intent) (Route, error) {
	receiver := UserID(strings.TrimSpace(string(in.ReceiverID)))

	if !in.IsSupport {
		if receiver == "" {
			return Route{}, apperr.Validation("receiver_id is required")
		}
		if receiver.IsSentinel() {
			return Route{}, apperr.Validation("receiver_id %q is reserved", receiver)
		}
		if receiver == sender.ID {
			return Route{}, apperr.Validation("cannot message yourself")
		}
		return Route{SenderID: sender.ID, ReceiverID: receiver}, nil
	}

	if !sender.IsStaff() {
		return Route{SenderID: sender.ID, ReceiverID: Support, IsSupport: true}, nil
	}

	if receiver == "" {
		return Route{}, apperr.Validation("receiver_id is required when replying as support")
	}
	if receiver.IsSentinel() {
		return Route{}, apperr.Validation("receiver_id %q is reserved", receiver)
	}
	return Route{SenderID: Support, ReceiverID: receiver, IsSupport: true}, nil
}
