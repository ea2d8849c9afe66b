package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nzlov/relay/internal/apperr"
	"github.com/nzlov/relay/internal/auth"
	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/internal/model"
)

// AdminNotification is the body of POST /admin/notifications. UserIDs may
// include the broadcast owner to reach every staff member.
type AdminNotification struct {
	UserIDs []string        `json:"userIds"`
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data,omitempty"`
}

const maxAdminBody = 1 << 20

// adminNotify lets other platform services create notifications. Requests
// are signed over body+ts with the admin secret.
func (s *Server) adminNotify(w http.ResponseWriter, r *http.Request) {
	log := zap.S().With("method", "adminNotify")
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBody))
	if err != nil {
		writeError(w, r, apperr.Validation("read body"))
		return
	}
	log.Debug("request:", string(body))

	q := r.URL.Query()
	sign, ts := q.Get("sign"), q.Get("ts")
	if sign == "" || ts == "" {
		writeError(w, r, apperr.Authentication("sign and ts are required", nil))
		return
	}
	if !auth.CheckSign(s.adminSecret, string(body), ts, sign, s.adminSkew) {
		writeError(w, r, apperr.Authentication("bad signature", nil))
		return
	}

	var req AdminNotification
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, apperr.Validation("data format"))
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(w, r, apperr.Validation("userIds is required"))
		return
	}

	var data string
	if len(req.Data) > 0 && string(req.Data) != "null" {
		data = string(req.Data)
	}
	uids := dedupe(req.UserIDs)
	ns := make([]*model.Notification, 0, len(uids))
	for _, uid := range uids {
		ns = append(ns, &model.Notification{
			UserID:  identity.UserID(uid),
			Type:    req.Type,
			Content: req.Content,
			Data:    data,
		})
	}
	if err := s.svc.Notify(r.Context(), ns...); err != nil {
		writeError(w, r, err)
		return
	}
	ids := make([]string, 0, len(ns))
	for _, n := range ns {
		ids = append(ids, n.ID)
	}
	log.Info("created:", ids)
	writeJSON(w, http.StatusCreated, map[string][]string{"ids": ids})
}

func dedupe(ss []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		s = strings.TrimSpace(s)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
