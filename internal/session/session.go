// Package session owns the lifetime of a single browser connection: token
// authentication, the optional authorization hook, the guacd handshake, the
// duplex relay, and close-code teardown. One ClientSession exists per
// WebSocket connection and is discarded once it closes.
package session

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/go-orz/guacgateway/internal/guacd"
	"github.com/go-orz/guacgateway/internal/guacwire"
	"github.com/go-orz/guacgateway/internal/gwerr"
	"github.com/go-orz/guacgateway/internal/metrics"
	"github.com/go-orz/guacgateway/internal/token"
)

// Options configures every ClientSession a Gateway creates.
type Options struct {
	Crypto            *token.Crypto
	GuacdOptions      guacd.Options
	HandshakeTimeout  time.Duration
	InactivityTimeout time.Duration
	Hook              Hook
	Metrics           *metrics.Registry
	RecordingDir      string
	Logger            zerolog.Logger
}

func (o Options) handshakeTimeout() time.Duration {
	if o.HandshakeTimeout <= 0 {
		return 10 * time.Second
	}
	return o.HandshakeTimeout
}

func (o Options) inactivityTimeout() time.Duration {
	if o.InactivityTimeout <= 0 {
		return 5 * time.Minute
	}
	return o.InactivityTimeout
}

func (o Options) hook() Hook {
	if o.Hook == nil {
		return NoopHook{}
	}
	return o.Hook
}

// ClientSession drives one upgraded WebSocket connection from token
// authentication through relay teardown.
type ClientSession struct {
	id     string
	ws     *websocket.Conn
	opts   Options
	logger zerolog.Logger

	closeOnce sync.Once
}

// New wraps an already-upgraded WebSocket connection. The caller retains
// ownership of ws only until Run returns; Run always closes it.
func New(ws *websocket.Conn, opts Options) *ClientSession {
	id := uuid.NewString()
	return &ClientSession{
		id:     id,
		ws:     ws,
		opts:   opts,
		logger: opts.Logger.With().Str("session_id", id).Logger(),
	}
}

// Run authenticates, connects to guacd, and relays until either side closes
// or ctx is cancelled. It never returns an error: every failure is reported
// to the browser as a close code and logged, matching the gateway's "the
// WebSocket close code is the only stable error signal" contract.
func (s *ClientSession) Run(ctx context.Context, r *http.Request) {
	start := time.Now()
	defer s.ws.Close()

	tok := r.URL.Query().Get("token")
	if tok == "" {
		s.logger.Warn().Msg("rejecting connection: no token supplied")
		s.closeWithKind(gwerr.KindMissingToken)
		return
	}

	settings, err := s.opts.Crypto.Decrypt(tok)
	if err != nil {
		s.logger.Warn().Err(err).Msg("rejecting connection: token decryption failed")
		s.closeWithKind(gwerr.KindOf(err))
		return
	}

	decided, err := s.opts.hook().Decide(ctx, settings, r)
	if err != nil {
		s.logger.Warn().Err(err).Msg("rejecting connection: hook refused")
		s.closeWithKind(gwerr.KindConnectionRefused)
		return
	}
	if decided == nil || decided.Type != settings.Type {
		s.logger.Warn().Msg("rejecting connection: hook changed connection type")
		s.closeWithKind(gwerr.KindConnectionRefused)
		return
	}
	settings = decided

	s.logger = s.logger.With().Str("connection_type", string(settings.Type)).Logger()

	deadline := time.Now().Add(s.opts.handshakeTimeout())
	client, err := guacd.Dial(s.opts.GuacdOptions, settings, deadline, s.logger)
	elapsed := time.Since(start)
	if err != nil {
		s.opts.Metrics.ObserveHandshake(elapsed.Seconds(), false)
		s.logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("guacd handshake failed")
		s.closeWithKind(gwerr.KindOf(err))
		return
	}
	s.opts.Metrics.ObserveHandshake(elapsed.Seconds(), true)
	defer client.Close()
	s.logger = s.logger.With().Str("guacd_connection_id", client.ConnectionID()).Logger()
	s.logger.Info().Dur("handshake", elapsed).Msg("guacd handshake complete")

	if s.opts.RecordingDir != "" {
		rec, err := NewRecorder(s.opts.RecordingDir, client.ConnectionID())
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to open session recording, continuing without it")
		} else {
			defer func() {
				rec.Close()
				if d := rec.Dropped(); d > 0 {
					s.logger.Warn().Int("dropped_spans", d).Msg("recorder dropped spans under backpressure")
					if g := s.opts.Metrics; g != nil {
						g.RecorderDrops.Add(float64(d))
					}
				}
			}()
			client.SetRecorder(rec)
		}
	}

	if g := s.opts.Metrics; g != nil {
		g.ActiveSessions.Inc()
		defer g.ActiveSessions.Dec()
	}

	// The handshake consumed guacd's "ready"; forward it so the browser sees
	// it before any relayed traffic.
	ready := guacwire.New("ready", client.ConnectionID()).Encode()
	if err := s.ws.WriteMessage(websocket.TextMessage, []byte(ready)); err != nil {
		s.closeWithKind(gwerr.KindPeerClosed)
		return
	}

	s.relay(ctx, client)
}

// relay runs the two duplex pumps until one of them fails or ctx is
// cancelled, then closes the browser side with a code derived from whatever
// caused the relay to end.
func (s *ClientSession) relay(ctx context.Context, client *guacd.Client) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.pumpDownstream(client)
	})
	g.Go(func() error {
		return s.pumpUpstream(gctx, client)
	})
	g.Go(func() error {
		// Unblocks whichever pump is parked in a blocking read once the
		// other pump's error cancels gctx, so the group actually returns
		// instead of leaking a goroutine on the loser. Closing client's TCP
		// conn wakes pumpDownstream; an immediate read deadline wakes
		// pumpUpstream without tearing down ws before closeWithKind gets a
		// chance to send the real close frame below.
		<-gctx.Done()
		_ = client.Close()
		_ = s.ws.SetReadDeadline(time.Now())
		return nil
	})

	err := g.Wait()
	s.logger.Info().Err(err).Msg("session relay ended")
	s.closeWithKind(gwerr.KindOf(err))
}

// pumpDownstream forwards guacd -> browser.
func (s *ClientSession) pumpDownstream(client *guacd.Client) error {
	for {
		inst, err := client.ReadInstruction()
		if err != nil {
			return err
		}
		encoded := inst.Encode()
		if err := s.ws.WriteMessage(websocket.TextMessage, []byte(encoded)); err != nil {
			return gwerr.New(gwerr.KindPeerClosed, err)
		}
		if g := s.opts.Metrics; g != nil {
			g.BytesDownstream.Add(float64(len(encoded)))
		}
	}
}

// pumpUpstream forwards browser -> guacd, enforcing the inactivity deadline
// on every read and rejecting binary frames as a protocol violation: the
// Guacamole wire protocol is text-only.
func (s *ClientSession) pumpUpstream(ctx context.Context, client *guacd.Client) error {
	idle := s.opts.inactivityTimeout()
	for {
		if err := s.ws.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return gwerr.New(gwerr.KindInternal, err)
		}
		msgType, data, err := s.ws.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return gwerr.New(gwerr.KindInactivityTimeout, err)
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				return gwerr.New(gwerr.KindPeerClosed, err)
			}
			return gwerr.New(gwerr.KindUpstreamIO, err)
		}
		if msgType == websocket.BinaryMessage {
			return gwerr.New(gwerr.KindBadFrame, fmt.Errorf("session: binary frame is not valid Guacamole wire protocol"))
		}
		if err := client.WriteRaw(data); err != nil {
			return err
		}
		if g := s.opts.Metrics; g != nil {
			g.BytesUpstream.Add(float64(len(data)))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// closeWithKind sends a WebSocket close frame carrying the code mapped from
// kind, and records it in Metrics. Idempotent: only the first call for a
// session actually writes a close frame.
func (s *ClientSession) closeWithKind(kind gwerr.Kind) {
	s.closeOnce.Do(func() {
		code, reason := closeCodeForKind(kind)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if g := s.opts.Metrics; g != nil {
			g.ObserveClose(code)
		}
	})
}
