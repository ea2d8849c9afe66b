package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nzlov/relay/protocol"
)

// APIError is a non-2xx REST answer.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay: %d %s: %s", e.Status, e.Code, e.Message)
}

// REST calls the relay's HTTP surface with a bearer token.
type REST struct {
	base  string
	token string
	hc    *http.Client
}

// NewREST returns a client for base (http://host). A nil hc uses
// http.DefaultClient.
func NewREST(base, token string, hc *http.Client) *REST {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &REST{base: strings.TrimRight(base, "/"), token: token, hc: hc}
}

func (r *REST) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb protocol.ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &APIError{Status: resp.StatusCode, Code: eb.Error.Code, Message: eb.Error.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateMessage is POST /messages.
func (r *REST) CreateMessage(ctx context.Context, req protocol.SendRequest) (*protocol.MessageView, error) {
	v := &protocol.MessageView{}
	if err := r.do(ctx, http.MethodPost, "/messages", req, v); err != nil {
		return nil, err
	}
	return v, nil
}

// UnreadCounts is GET /messages/unread.
func (r *REST) UnreadCounts(ctx context.Context) (protocol.ChannelCounts, error) {
	var cc protocol.ChannelCounts
	err := r.do(ctx, http.MethodGet, "/messages/unread", nil, &cc)
	return cc, err
}

// MarkRead is POST /messages/read and returns how many messages changed.
func (r *REST) MarkRead(ctx context.Context, req protocol.ReadRequest) (int64, error) {
	var out struct {
		Updated int64 `json:"updated"`
	}
	err := r.do(ctx, http.MethodPost, "/messages/read", req, &out)
	return out.Updated, err
}
