package guacwire

import (
	"bufio"
	"io"
	"unicode/utf8"

	"github.com/go-orz/guacgateway/internal/gwerr"
)

// DefaultMaxElementSize bounds the codepoint count of a single element,
// guarding against unbounded buffering from a misbehaving or hostile peer.
const DefaultMaxElementSize = 1 << 20 // 1 MiB of codepoints

// Decoder is a stateful streaming parser: it consumes runes from an
// io.Reader and yields whole Instructions, buffering under the hood via
// bufio.Reader so that partial input (a chunk that stops mid-element) is
// transparently carried over to the next Decode call, regardless of how
// the underlying Read calls happened to chunk the stream.
type Decoder struct {
	r           *bufio.Reader
	maxElement  int
}

// NewDecoder wraps r with the default maximum element size.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096), maxElement: DefaultMaxElementSize}
}

// NewDecoderSize wraps r with an explicit maximum element size, mainly for
// tests that want to exercise the bound without allocating a megabyte.
func NewDecoderSize(r io.Reader, maxElement int) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096), maxElement: maxElement}
}

// Decode reads and returns the next complete Instruction, blocking on the
// underlying reader until one is available. It returns the underlying I/O
// error unwrapped (typically io.EOF) when the stream ends cleanly between
// instructions, and a *gwerr.Error with KindProtocolError for any malformed
// framing.
func (d *Decoder) Decode() (Instruction, error) {
	var elements []string
	for {
		length, err := d.readLength()
		if err != nil {
			return Instruction{}, err
		}
		if length > d.maxElement {
			return Instruction{}, gwerr.New(gwerr.KindProtocolError, errElementTooLarge)
		}
		elem, err := d.readElement(length)
		if err != nil {
			return Instruction{}, err
		}
		elements = append(elements, elem)

		sep, _, err := d.r.ReadRune()
		if err != nil {
			return Instruction{}, err
		}
		switch sep {
		case ',':
			continue
		case ';':
			return instructionFromElements(elements), nil
		default:
			return Instruction{}, gwerr.New(gwerr.KindProtocolError, errBadSeparator)
		}
	}
}

// readLength reads the decimal element-length prefix up to and including
// the terminating '.', returning the parsed length.
func (d *Decoder) readLength() (int, error) {
	n := 0
	sawDigit := false
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b == '.' {
			if !sawDigit {
				return 0, gwerr.New(gwerr.KindProtocolError, errBadLengthPrefix)
			}
			return n, nil
		}
		if b < '0' || b > '9' {
			return 0, gwerr.New(gwerr.KindProtocolError, errBadLengthPrefix)
		}
		sawDigit = true
		n = n*10 + int(b-'0')
		if n > d.maxElement {
			return 0, gwerr.New(gwerr.KindProtocolError, errElementTooLarge)
		}
	}
}

// readElement reads exactly n Unicode code points (not bytes).
func (d *Decoder) readElement(n int) (string, error) {
	if n == 0 {
		return "", nil
	}
	buf := make([]rune, 0, n)
	for i := 0; i < n; i++ {
		r, size, err := d.r.ReadRune()
		if err != nil {
			return "", err
		}
		if r == utf8.RuneError && size <= 1 {
			return "", gwerr.New(gwerr.KindProtocolError, errInvalidUTF8)
		}
		buf = append(buf, r)
	}
	return string(buf), nil
}

func instructionFromElements(elements []string) Instruction {
	if len(elements) == 0 {
		return Instruction{}
	}
	return Instruction{Opcode: elements[0], Args: elements[1:]}
}
