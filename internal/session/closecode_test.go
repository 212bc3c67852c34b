package session

import (
	"testing"

	"github.com/go-orz/guacgateway/internal/gwerr"
)

func TestCloseCodeForKindCoversEveryKind(t *testing.T) {
	kinds := []gwerr.Kind{
		gwerr.KindMissingToken,
		gwerr.KindMalformedToken,
		gwerr.KindInvalidIV,
		gwerr.KindInvalidCiphertext,
		gwerr.KindDecryptFailed,
		gwerr.KindInvalidPadding,
		gwerr.KindMalformedPayload,
		gwerr.KindInvalidSettings,
		gwerr.KindConnectionRefused,
		gwerr.KindUpstreamUnavailable,
		gwerr.KindUpstreamRejected,
		gwerr.KindUpstreamIO,
		gwerr.KindProtocolError,
		gwerr.KindHandshakeTimeout,
		gwerr.KindInactivityTimeout,
		gwerr.KindBadFrame,
		gwerr.KindPeerClosed,
		gwerr.KindInternal,
		gwerr.KindUnknown,
	}
	for _, k := range kinds {
		code, reason := closeCodeForKind(k)
		if code < 1000 {
			t.Errorf("closeCodeForKind(%v) code = %d, want a valid WebSocket close code", k, code)
		}
		if reason == "" {
			t.Errorf("closeCodeForKind(%v) reason is empty", k)
		}
	}
}

func TestCloseCodeForKindMatchesSpecTable(t *testing.T) {
	cases := []struct {
		kind gwerr.Kind
		want int
	}{
		{gwerr.KindMissingToken, CloseMissingToken},
		{gwerr.KindMalformedToken, CloseInvalidToken},
		{gwerr.KindInvalidPadding, CloseInvalidToken},
		{gwerr.KindConnectionRefused, CloseConnectionRefused},
		{gwerr.KindBadFrame, CloseBadFrame},
		{gwerr.KindProtocolError, CloseBadFrame},
		{gwerr.KindInactivityTimeout, CloseInactivityTimeout},
		{gwerr.KindHandshakeTimeout, CloseHandshakeTimeout},
		{gwerr.KindUpstreamUnavailable, CloseUpstreamUnavailable},
		{gwerr.KindUpstreamRejected, CloseUpstreamUnavailable},
		{gwerr.KindPeerClosed, closeNormal},
		{gwerr.KindUpstreamIO, closeInternal},
		{gwerr.KindInternal, closeInternal},
	}
	for _, c := range cases {
		got, _ := closeCodeForKind(c.kind)
		if got != c.want {
			t.Errorf("closeCodeForKind(%v) = %d, want %d", c.kind, got, c.want)
		}
	}
}
