package session

import (
	"context"
	"net/http"

	"github.com/go-orz/guacgateway/internal/token"
)

// Hook is the single supported authorization extension point: invoked once
// per session after token decryption and before dial, it may rewrite
// arbitrary fields of the settings' connection settings but must preserve
// the connection type. Returning a non-nil error refuses the connection
// (the session closes with KindConnectionRefused).
type Hook interface {
	Decide(ctx context.Context, settings *token.ConnectionSettings, r *http.Request) (*token.ConnectionSettings, error)
}

// NoopHook is the default Hook: it accepts every connection unmodified.
type NoopHook struct{}

func (NoopHook) Decide(_ context.Context, settings *token.ConnectionSettings, _ *http.Request) (*token.ConnectionSettings, error) {
	return settings, nil
}
