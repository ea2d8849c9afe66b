package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nzlov/relay/internal/auth"
	"github.com/nzlov/relay/protocol"
)

// Notification is what another service publishes to users. UserIDs may name
// "admin-broadcast" to reach every staff member.
type Notification struct {
	UserIDs []string        `json:"userIds"`
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Publisher signs and posts notifications to /admin/notifications.
type Publisher struct {
	base   string
	secret string
	hc     *http.Client
}

func NewPublisher(base, secret string, hc *http.Client) *Publisher {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Publisher{base: strings.TrimRight(base, "/"), secret: secret, hc: hc}
}

// Publish returns the ids of the created notifications.
func (p *Publisher) Publish(ctx context.Context, n Notification) ([]string, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	u, err := url.Parse(p.base + "/admin/notifications")
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("sign", auth.Sign(p.secret, string(body), ts))
	params.Set("ts", ts)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var eb protocol.ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return nil, &APIError{Status: resp.StatusCode, Code: eb.Error.Code, Message: eb.Error.Message}
	}
	var out struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.IDs, nil
}
