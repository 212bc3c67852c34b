package session

import "github.com/go-orz/guacgateway/internal/gwerr"

// WebSocket close codes the gateway sends to the browser. The 4000-4999
// range is ours to define; codes below it are the standard ones, reused
// where they already mean the right thing (normal closure, unexpected
// condition).
const (
	CloseMissingToken        = 4001
	CloseBadFrame            = 4400
	CloseInvalidToken        = 4401
	CloseConnectionRefused   = 4403
	CloseInactivityTimeout   = 4408
	CloseUpstreamUnavailable = 4502
	CloseHandshakeTimeout    = 4504

	closeNormal   = 1000
	closeInternal = 1011
)

// closeCodeForKind maps a failure kind to the WebSocket close code sent to
// the browser. Nothing about the underlying cause — key material, upstream
// addresses, stack traces — ever reaches the close reason; only the code and
// a short fixed string do.
func closeCodeForKind(k gwerr.Kind) (code int, reason string) {
	switch k {
	case gwerr.KindMissingToken:
		return CloseMissingToken, "missing token"
	case gwerr.KindMalformedToken,
		gwerr.KindInvalidIV,
		gwerr.KindInvalidCiphertext,
		gwerr.KindDecryptFailed,
		gwerr.KindInvalidPadding,
		gwerr.KindMalformedPayload,
		gwerr.KindInvalidSettings:
		return CloseInvalidToken, "invalid token"
	case gwerr.KindConnectionRefused:
		return CloseConnectionRefused, "connection refused"
	case gwerr.KindBadFrame, gwerr.KindProtocolError:
		return CloseBadFrame, "protocol error"
	case gwerr.KindInactivityTimeout:
		return CloseInactivityTimeout, "inactivity timeout"
	case gwerr.KindHandshakeTimeout:
		return CloseHandshakeTimeout, "handshake timeout"
	case gwerr.KindUpstreamUnavailable, gwerr.KindUpstreamRejected:
		return CloseUpstreamUnavailable, "upstream unavailable"
	case gwerr.KindPeerClosed:
		return closeNormal, "closed"
	case gwerr.KindUpstreamIO, gwerr.KindInternal:
		return closeInternal, "internal error"
	default:
		return closeInternal, "internal error"
	}
}
