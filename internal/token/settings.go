// Package token implements the encrypted connection-token format that is
// the gateway's sole authentication surface: decrypting a token yields the
// ConnectionSettings used to drive the guacd handshake.
package token

// ConnectionType enumerates the remote-desktop protocols guacd can speak.
type ConnectionType string

const (
	TypeRDP    ConnectionType = "rdp"
	TypeVNC    ConnectionType = "vnc"
	TypeSSH    ConnectionType = "ssh"
	TypeTelnet ConnectionType = "telnet"
)

func (t ConnectionType) valid() bool {
	switch t {
	case TypeRDP, TypeVNC, TypeSSH, TypeTelnet:
		return true
	default:
		return false
	}
}

// ConnectionSettings is the decrypted token payload: immutable once
// produced by Crypto.Decrypt, and destroyed with the session that holds it.
type ConnectionSettings struct {
	// Type names the upstream protocol guacd should speak.
	Type ConnectionType

	// Settings maps guacd connection parameter names to their values, as
	// forwarded positionally in the "connect" handshake instruction.
	Settings map[string]string

	// ConnectionID optionally names an existing guacd connection to join
	// instead of starting a fresh one; when set it is used as the
	// argument to the handshake's "select" instruction instead of Type.
	ConnectionID string

	// Overrides optionally carries preferred GUAC_* handshake values
	// (screen size, audio/video/image mimetypes, timezone) that would
	// otherwise default; see internal/guacd for the keys consulted.
	Overrides map[string]string

	// Extra preserves unknown top-level fields of the decrypted JSON
	// payload verbatim, so that forward-compatible clients survive a
	// round trip through a gateway that doesn't understand their fields.
	Extra map[string]any
}

// Clone returns a deep copy of s, for a session.Hook that wants its own copy
// to mutate. The session passes the hook the decrypted settings themselves,
// not a clone.
func (s *ConnectionSettings) Clone() *ConnectionSettings {
	if s == nil {
		return nil
	}
	out := &ConnectionSettings{
		Type:         s.Type,
		ConnectionID: s.ConnectionID,
	}
	if s.Settings != nil {
		out.Settings = make(map[string]string, len(s.Settings))
		for k, v := range s.Settings {
			out.Settings[k] = v
		}
	}
	if s.Overrides != nil {
		out.Overrides = make(map[string]string, len(s.Overrides))
		for k, v := range s.Overrides {
			out.Overrides[k] = v
		}
	}
	if s.Extra != nil {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
