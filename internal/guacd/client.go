package guacd

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-orz/guacgateway/internal/guacwire"
	"github.com/go-orz/guacgateway/internal/gwerr"
	"github.com/go-orz/guacgateway/internal/token"
)

// Options configures the TCP dial for a guacd link. The handshake budget is
// not part of Options; it is the deadline passed to Dial.
type Options struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
}

func (o Options) address() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// Client owns the TCP connection to guacd for a single session and exposes
// ReadInstruction/WriteInstruction once the handshake reaches StateReady.
// Writes are serialized internally; reads are single-consumer by contract
// (the session's downstream pump is the only caller).
type Client struct {
	conn net.Conn
	dec  *guacwire.Decoder

	writeMu sync.Mutex

	stateMu sync.Mutex
	state   State

	connectionID string
	logger       zerolog.Logger

	recorder io.Writer
}

// Dial connects to guacd and performs the handshake using settings. The
// handshake must complete before deadline elapses or it fails with
// KindHandshakeTimeout; deadline is cleared from the connection once the
// handshake succeeds so the post-handshake relay is not subject to it.
func Dial(opts Options, settings *token.ConnectionSettings, deadline time.Time, logger zerolog.Logger) (*Client, error) {
	dialTimeout := opts.ConnectTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	conn, err := net.DialTimeout("tcp", opts.address(), dialTimeout)
	if err != nil {
		return nil, gwerr.New(gwerr.KindUpstreamUnavailable, err)
	}

	c := &Client{
		conn:   conn,
		dec:    guacwire.NewDecoder(conn),
		state:  StateConnecting,
		logger: logger,
	}

	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, gwerr.New(gwerr.KindUpstreamIO, err)
	}

	if err := c.handshake(settings); err != nil {
		conn.Close()
		c.setState(StateFailed)
		return nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, gwerr.New(gwerr.KindUpstreamIO, err)
	}
	c.setState(StateReady)
	return c, nil
}

func (c *Client) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// State returns the client's current handshake/lifecycle state.
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// ConnectionID returns the upstream-assigned connection id received in the
// "ready" instruction. Empty until the handshake completes.
func (c *Client) ConnectionID() string {
	return c.connectionID
}

// SetRecorder installs an io.Writer that receives a copy of every raw byte
// span written to or read from guacd after the handshake completes. Pass
// nil to disable recording. Must be called before the relay starts reading
// or writing; it is not safe for concurrent use with ReadInstruction/
// WriteInstruction/WriteRaw.
func (c *Client) SetRecorder(w io.Writer) {
	c.recorder = w
}

// ReadInstruction blocks until the next instruction arrives from guacd or
// the link closes. Not safe for concurrent callers.
func (c *Client) ReadInstruction() (guacwire.Instruction, error) {
	inst, err := c.dec.Decode()
	if err != nil {
		return guacwire.Instruction{}, classifyRelayErr(err)
	}
	if c.recorder != nil {
		_, _ = c.recorder.Write([]byte(inst.Encode()))
	}
	return inst, nil
}

// WriteInstruction encodes and writes a single instruction to guacd. Safe
// for concurrent callers; writes are serialized.
func (c *Client) WriteInstruction(inst guacwire.Instruction) error {
	return c.WriteRaw([]byte(inst.Encode()))
}

// WriteRaw writes already-encoded wire bytes verbatim, used to forward a
// browser WebSocket frame (which may carry several concatenated
// instructions) without re-encoding it.
func (c *Client) WriteRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(b); err != nil {
		return classifyRelayErr(err)
	}
	if c.recorder != nil {
		_, _ = c.recorder.Write(b)
	}
	return nil
}

// Close releases the TCP connection. Idempotent.
func (c *Client) Close() error {
	c.setState(StateClosed)
	return c.conn.Close()
}

// classifyHandshakeErr wraps an error observed while the handshake deadline
// is still active: a timeout here means guacd failed to complete the
// handshake within budget.
func classifyHandshakeErr(err error) error {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*gwerr.Error); ok {
		return ge
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return gwerr.New(gwerr.KindHandshakeTimeout, err)
	}
	return gwerr.New(gwerr.KindUpstreamIO, err)
}

// classifyRelayErr wraps an error observed after the handshake completed,
// during the steady-state relay.
func classifyRelayErr(err error) error {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*gwerr.Error); ok {
		return ge
	}
	if err == io.EOF {
		return gwerr.New(gwerr.KindPeerClosed, err)
	}
	return gwerr.New(gwerr.KindUpstreamIO, err)
}
