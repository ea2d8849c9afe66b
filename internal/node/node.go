// Package node accepts websocket connections, runs the auth handshake and
// turns inbound frames into messaging operations.
package node

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nzlov/relay/internal/auth"
	"github.com/nzlov/relay/internal/config"
	"github.com/nzlov/relay/internal/messaging"
	"github.com/nzlov/relay/internal/registry"
)

// Node owns the upgrader and the collaborators every connection needs.
type Node struct {
	cfg      config.ClientConfig
	svc      *messaging.Service
	reg      *registry.Registry
	verifier auth.Verifier

	upgrader websocket.Upgrader
}

func New(cfg config.ClientConfig, svc *messaging.Service, v auth.Verifier) *Node {
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	n := &Node{
		cfg:      cfg,
		svc:      svc,
		reg:      svc.Registry(),
		verifier: v,
	}
	n.upgrader = websocket.Upgrader{
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		EnableCompression: cfg.Compression,
	}
	n.upgrader.CheckOrigin = func(r *http.Request) bool {
		return true
	}
	return n
}

func (n *Node) pingPeriod() time.Duration {
	return (n.cfg.PongWait * 9) / 10
}

// ServeHTTP upgrades the request and starts the connection's pumps.
func (n *Node) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().With("method", "ServeHTTP").Warn("upgrade:", err)
		return
	}

	buf := n.cfg.SendBuffer
	if buf <= 0 {
		buf = 64
	}
	cid := uuid.NewString()
	c := &Client{
		node:  n,
		cid:   cid,
		conn:  conn,
		send:  make(chan []byte, buf),
		log:   zap.S().With("cid", cid),
		state: StateConnecting,
	}
	if n.cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(n.cfg.RateLimit), n.cfg.RateBurst)
	}
	if n.cfg.Compression {
		c.conn.EnableWriteCompression(true)
		if err := c.conn.SetCompressionLevel(n.cfg.CompressionLevel); err != nil {
			c.log.Warn("compression level:", err)
		}
	}
	c.conn.SetCloseHandler(func(code int, text string) error {
		c.log.Info("CloseHandler:", code, text)
		message := websocket.FormatCloseMessage(code, "")
		_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(n.cfg.WriteWait))
		return nil
	})

	go c.writePump()
	go c.readPump()
}
