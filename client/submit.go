package client

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nzlov/relay/protocol"
)

// Path reports which transport carried a submitted message.
type Path string

const (
	ViaSocket Path = "socket"
	ViaREST   Path = "rest"
)

// SocketSender is the socket half of Submit. SendMessage must return
// ErrNotOpen synchronously, and only when nothing was written.
type SocketSender interface {
	SendMessage(req protocol.SendRequest) error
}

// RESTSender is the REST half of Submit.
type RESTSender interface {
	CreateMessage(ctx context.Context, req protocol.SendRequest) (*protocol.MessageView, error)
}

// Result of Submit. View is set on the REST path; on the socket path the
// stored message arrives as a new_message frame.
type Result struct {
	Via  Path
	View *protocol.MessageView
}

// Submitter sends each message over exactly one transport.
type Submitter struct {
	socket SocketSender
	rest   RESTSender
}

// NewSubmitter pairs the transports. socket may be nil when no session is
// available.
func NewSubmitter(socket SocketSender, rest RESTSender) *Submitter {
	return &Submitter{socket: socket, rest: rest}
}

// Submit tries the socket and falls back to REST only when the socket says
// it is not open. Any other socket error is returned as is: the frame may
// have reached the server, so resending would risk a duplicate.
func (s *Submitter) Submit(ctx context.Context, req protocol.SendRequest) (Result, error) {
	if s.socket != nil {
		err := s.socket.SendMessage(req)
		if err == nil {
			return Result{Via: ViaSocket}, nil
		}
		if !errors.Is(err, ErrNotOpen) {
			return Result{Via: ViaSocket}, err
		}
		zap.S().With("method", "Submit").Debug("socket not open, using REST")
	}
	v, err := s.rest.CreateMessage(ctx, req)
	if err != nil {
		return Result{Via: ViaREST}, err
	}
	return Result{Via: ViaREST, View: v}, nil
}
