package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nzlov/relay/internal/model"
)

func (s *Server) registerNotifications(r *mux.Router) {
	r.HandleFunc("/notifications", s.listNotifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications/count", s.notificationCount).Methods(http.MethodGet)
	r.HandleFunc("/notifications/read", s.markNotificationsRead).Methods(http.MethodPost)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ns, err := s.svc.Notifications(r.Context(), p, boolParam(r, "unread"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ns == nil {
		ns = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, ns)
}

// notificationCount is the pull form of the pushed badge.
func (s *Server) notificationCount(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	n, err := s.svc.Badge(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (s *Server) markNotificationsRead(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	var req struct {
		IDs []string `json:"ids"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if err := s.svc.MarkNotificationsRead(r.Context(), p, req.IDs); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.svc.Badge(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}
