// Package gateway exposes the single HTTP entry point that upgrades
// incoming connections to WebSocket and hands them to a new session.
package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/go-orz/guacgateway/internal/session"
)

// Gateway upgrades inbound HTTP requests to WebSocket and runs a
// session.ClientSession for each one. It holds no per-connection state;
// every field here is shared read-only across connections.
type Gateway struct {
	upgrader websocket.Upgrader
	opts     session.Options
	logger   zerolog.Logger
}

// Config controls the upgrader's buffer sizes and origin policy, separately
// from session.Options so callers can't accidentally wire session knobs
// where transport knobs belong.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	// CheckOrigin, if nil, allows same-origin requests and requests with no
	// Origin header (non-browser clients), matching the teacher's upgrader.
	CheckOrigin func(r *http.Request) bool
}

// New builds a Gateway. opts is cloned per connection into a ClientSession;
// it must be fully populated (Crypto and GuacdOptions are required).
func New(cfg Config, opts session.Options, logger zerolog.Logger) *Gateway {
	readBuf := cfg.ReadBufferSize
	if readBuf <= 0 {
		readBuf = 8192
	}
	writeBuf := cfg.WriteBufferSize
	if writeBuf <= 0 {
		writeBuf = 8192
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = defaultCheckOrigin
	}

	return &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			CheckOrigin:     checkOrigin,
		},
		opts:   opts,
		logger: logger,
	}
}

func defaultCheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// ServeHTTP upgrades the connection and runs its session to completion.
// Run never returns an error to the HTTP layer: by the time a session ends,
// the only outcome left to communicate is the WebSocket close code already
// sent to the browser.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	sess := session.New(ws, g.opts)
	sess.Run(r.Context(), r)
}
