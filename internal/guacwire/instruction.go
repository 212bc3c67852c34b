// Package guacwire implements the Guacamole instruction wire format: a
// length-prefixed, comma-separated, semicolon-terminated text encoding used
// on both the guacd TCP link and the browser WebSocket link.
package guacwire

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Instruction is an ordered list of UTF-8 string arguments; the first is
// the opcode.
type Instruction struct {
	Opcode string
	Args   []string
}

// New builds an Instruction from an opcode and its arguments.
func New(opcode string, args ...string) Instruction {
	return Instruction{Opcode: opcode, Args: args}
}

// Elements returns the opcode followed by the arguments, the order in
// which they appear on the wire.
func (i Instruction) Elements() []string {
	elements := make([]string, 0, 1+len(i.Args))
	elements = append(elements, i.Opcode)
	elements = append(elements, i.Args...)
	return elements
}

// Encode renders the instruction in Guacamole wire form:
// N.opcode,N.arg1,...,N.argN; where each N is a codepoint count.
func (i Instruction) Encode() string {
	var b strings.Builder
	writeElement(&b, i.Opcode)
	for _, arg := range i.Args {
		b.WriteByte(',')
		writeElement(&b, arg)
	}
	b.WriteByte(';')
	return b.String()
}

func writeElement(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(utf8.RuneCountInString(s)))
	b.WriteByte('.')
	b.WriteString(s)
}

// EncodeAll concatenates the wire encoding of several instructions, as sent
// on a single WebSocket text frame or a single guacd write.
func EncodeAll(instructions ...Instruction) string {
	var b strings.Builder
	for _, inst := range instructions {
		b.WriteString(inst.Encode())
	}
	return b.String()
}
