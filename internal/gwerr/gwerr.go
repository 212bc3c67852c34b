// Package gwerr defines the transport-agnostic error kinds shared by every
// layer of the gateway, from token decryption up to session teardown.
package gwerr

import "fmt"

// Kind classifies a failure independently of which layer raised it, so that
// the session layer can pick a WebSocket close code without inspecting
// error strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingToken
	KindMalformedToken
	KindInvalidIV
	KindInvalidCiphertext
	KindDecryptFailed
	KindInvalidPadding
	KindMalformedPayload
	KindInvalidSettings
	KindConnectionRefused
	KindUpstreamUnavailable
	KindUpstreamRejected
	KindUpstreamIO
	KindProtocolError
	KindHandshakeTimeout
	KindInactivityTimeout
	KindBadFrame
	KindPeerClosed
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindMissingToken:        "missing_token",
	KindMalformedToken:      "malformed_token",
	KindInvalidIV:           "invalid_iv",
	KindInvalidCiphertext:   "invalid_ciphertext",
	KindDecryptFailed:       "decrypt_failed",
	KindInvalidPadding:      "invalid_padding",
	KindMalformedPayload:    "malformed_payload",
	KindInvalidSettings:     "invalid_settings",
	KindConnectionRefused:   "connection_refused",
	KindUpstreamUnavailable: "upstream_unavailable",
	KindUpstreamRejected:    "upstream_rejected",
	KindUpstreamIO:          "upstream_io",
	KindProtocolError:       "protocol_error",
	KindHandshakeTimeout:    "handshake_timeout",
	KindInactivityTimeout:   "inactivity_timeout",
	KindBadFrame:            "bad_frame",
	KindPeerClosed:          "peer_closed",
	KindInternal:            "internal",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error wraps an underlying cause with a Kind, so session teardown can
// classify failures without string matching while the chain remains
// inspectable with errors.Is/As/Unwrap.
type Error struct {
	Kind Kind
	Err  error
}

// New wraps err (which may be nil) with kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err is a *Error carrying the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ge, ok := err.(*Error); ok {
			e = ge
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind from err, defaulting to KindInternal if err is
// not a *Error (or does not wrap one).
func KindOf(err error) Kind {
	for e := err; e != nil; {
		if ge, ok := e.(*Error); ok {
			return ge.Kind
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return KindInternal
}
