package guacwire

import "errors"

var (
	errBadLengthPrefix = errors.New("guacwire: element length prefix is not a non-negative decimal integer")
	errBadSeparator    = errors.New("guacwire: element separator is neither ',' nor ';'")
	errElementTooLarge = errors.New("guacwire: element exceeds maximum size")
	errInvalidUTF8     = errors.New("guacwire: invalid UTF-8 in element")
)
