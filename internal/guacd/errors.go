package guacd

import "fmt"

// UpstreamRejectedError carries the message and numeric status code from a
// guacd "error,<msg>,<code>;" instruction received during the handshake.
type UpstreamRejectedError struct {
	Message string
	Code    string
}

func (e *UpstreamRejectedError) Error() string {
	return fmt.Sprintf("guacd rejected connection: %s (code %s)", e.Message, e.Code)
}

func errUnexpectedOpcode(want, got string) error {
	return fmt.Errorf("guacd: expected %q instruction, got %q", want, got)
}

var errNoConnectionID = fmt.Errorf("guacd: \"ready\" instruction carried no connection id")
