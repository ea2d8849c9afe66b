package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nzlov/relay/internal/apperr"
	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/internal/messaging"
	"github.com/nzlov/relay/protocol"
)

func (s *Server) registerMessages(r *mux.Router) {
	r.HandleFunc("/messages", s.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/messages", s.createMessage).Methods(http.MethodPost)
	r.HandleFunc("/messages/unread", s.unreadCounts).Methods(http.MethodGet)
	r.HandleFunc("/messages/read", s.markRead).Methods(http.MethodPost)
}

func boolParam(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

func intParam(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Validation("%s must be a non-negative integer", key)
	}
	return n, nil
}

// listMessages serves one thread, or the thread list with type=threads.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	q := r.URL.Query()
	isSupport := boolParam(r, "isSupport")

	if q.Get("type") == "threads" {
		threads, err := s.svc.Threads(r.Context(), p, isSupport)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, threads)
		return
	}

	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	views, err := s.svc.Messages(r.Context(), p, messaging.ListQuery{
		IsSupport:    isSupport,
		UserID:       identity.UserID(q.Get("userId")),
		ThreadUserID: identity.UserID(q.Get("threadUserId")),
		Limit:        limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// createMessage is the REST half of the delivery fallback. It shares Send
// with the socket path and returns the same view.
func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	var req protocol.SendRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := s.svc.Send(r.Context(), p, req, messaging.PathREST)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) unreadCounts(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	cc, err := s.svc.ChannelCounts(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cc)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	var req protocol.ReadRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.svc.MarkAsRead(r.Context(), p, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
