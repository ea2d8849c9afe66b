// Package api is the REST surface of the relay: the pull-based fallback for
// messages and unread counts, notification reads and the signed admin
// endpoint other services use to create notifications.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nzlov/relay/internal/apperr"
	"github.com/nzlov/relay/internal/auth"
	"github.com/nzlov/relay/internal/messaging"
	"github.com/nzlov/relay/internal/metrics"
	"github.com/nzlov/relay/protocol"
)

type Server struct {
	svc         *messaging.Service
	verifier    auth.Verifier
	adminSecret string
	adminSkew   time.Duration
	ws          http.Handler
}

type Option func(*Server)

// WithAdmin enables POST /admin/notifications signed with secret.
func WithAdmin(secret string, skew time.Duration) Option {
	return func(s *Server) {
		s.adminSecret = secret
		s.adminSkew = skew
	}
}

// WithWebsocket mounts the websocket endpoint at /ws.
func WithWebsocket(h http.Handler) Option {
	return func(s *Server) { s.ws = h }
}

func New(svc *messaging.Service, v auth.Verifier, opts ...Option) *Server {
	s := &Server{svc: svc, verifier: v}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, apperr.NotFound("no route for "+req.URL.Path))
	})

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"connections": s.svc.Registry().Len(),
		})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}
	if s.adminSecret != "" {
		r.HandleFunc("/admin/notifications", s.adminNotify).Methods(http.MethodPost)
	}

	authed := r.NewRoute().Subrouter()
	authed.Use(s.authenticate)
	s.registerMessages(authed)
	s.registerNotifications(authed)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.S().With("method", "writeJSON").Warn("encode:", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)
	if ae.Status >= http.StatusInternalServerError {
		zap.S().With("method", r.Method, "path", r.URL.Path).Error(err)
	}
	body := protocol.ErrorBody{}
	body.Error.Code = ae.Code
	body.Error.Message = apperr.Public(err)
	writeJSON(w, ae.Status, body)
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid json")
	}
	return nil
}
