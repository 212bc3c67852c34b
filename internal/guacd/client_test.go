package guacd

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-orz/guacgateway/internal/guacwire"
	"github.com/go-orz/guacgateway/internal/gwerr"
	"github.com/go-orz/guacgateway/internal/token"
)

// mockGuacd starts a listener that runs script against the first accepted
// connection, then closes it. script receives a buffered reader over the
// connection plus the raw connection itself so it can assert on the exact bytes the
// handshake sends and script the exact bytes it replies with.
func mockGuacd(t *testing.T, script func(t *testing.T, r *bufio.Reader, conn net.Conn)) Options {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		script(t, bufio.NewReader(conn), conn)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return Options{Host: "127.0.0.1", Port: addr.Port, ConnectTimeout: 2 * time.Second}
}

func readInstructionLine(r *bufio.Reader) (guacwire.Instruction, error) {
	dec := guacwire.NewDecoder(r)
	return dec.Decode()
}

func TestHandshakeHappyPath(t *testing.T) {
	opts := mockGuacd(t, func(t *testing.T, r *bufio.Reader, conn net.Conn) {
		sel, err := readInstructionLine(r)
		if err != nil || sel.Opcode != "select" {
			t.Errorf("mock: expected select, got %+v err=%v", sel, err)
			return
		}
		conn.Write([]byte(guacwire.New("args", "rdp", "hostname", "port", "username").Encode()))

		for _, want := range []string{"size", "audio", "video", "image", "timezone"} {
			inst, err := readInstructionLine(r)
			if err != nil || inst.Opcode != want {
				t.Errorf("mock: expected %s, got %+v err=%v", want, inst, err)
				return
			}
		}

		connect, err := readInstructionLine(r)
		if err != nil || connect.Opcode != "connect" {
			t.Errorf("mock: expected connect, got %+v err=%v", connect, err)
			return
		}
		want := []string{"h", "3389", ""}
		if len(connect.Args) != len(want) {
			t.Errorf("mock: connect args = %v, want %v", connect.Args, want)
			return
		}
		for i := range want {
			if connect.Args[i] != want[i] {
				t.Errorf("mock: connect arg %d = %q, want %q", i, connect.Args[i], want[i])
			}
		}

		conn.Write([]byte(guacwire.New("ready", "abc-123").Encode()))
	})

	settings := &token.ConnectionSettings{
		Type:     token.TypeRDP,
		Settings: map[string]string{"hostname": "h", "port": "3389"},
	}
	client, err := Dial(opts, settings, time.Now().Add(2*time.Second), zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	if client.State() != StateReady {
		t.Errorf("State() = %v, want StateReady", client.State())
	}
	if client.ConnectionID() != "abc-123" {
		t.Errorf("ConnectionID() = %q, want %q", client.ConnectionID(), "abc-123")
	}
}

func TestHandshakeConnectPositionalMappingProperty(t *testing.T) {
	// paramNamesOptions are the real connection-parameter names, i.e. the
	// "args" list with its leading protocol-version slot already removed.
	paramNamesOptions := [][]string{
		{"hostname"},
		{"hostname", "port"},
		{"port", "hostname", "username"},
		{"a", "b", "c", "d", "e"},
	}
	for _, paramNames := range paramNamesOptions {
		settings := &token.ConnectionSettings{
			Type:     token.TypeRDP,
			Settings: map[string]string{},
		}
		for i, name := range paramNames {
			if i%2 == 0 {
				settings.Settings[name] = "val-" + name
			}
		}

		argNames := append([]string{"VERSION_1_5_0"}, paramNames...)

		opts := mockGuacd(t, func(t *testing.T, r *bufio.Reader, conn net.Conn) {
			if _, err := readInstructionLine(r); err != nil {
				return
			}
			conn.Write([]byte(guacwire.New("args", argNames...).Encode()))
			for i := 0; i < 5; i++ {
				if _, err := readInstructionLine(r); err != nil {
					return
				}
			}
			connect, err := readInstructionLine(r)
			if err != nil || connect.Opcode != "connect" {
				t.Errorf("mock: expected connect, got %+v err=%v", connect, err)
				return
			}
			if len(connect.Args) != len(paramNames) {
				t.Errorf("connect args = %v, want %d values", connect.Args, len(paramNames))
			}
			for i, name := range paramNames {
				want := settings.Settings[name]
				if connect.Args[i] != want {
					t.Errorf("connect.Args[%d] = %q, want %q (name=%s)", i, connect.Args[i], want, name)
				}
			}
			conn.Write([]byte(guacwire.New("ready", "x").Encode()))
		})

		client, err := Dial(opts, settings, time.Now().Add(2*time.Second), zerolog.Nop())
		if err != nil {
			t.Fatalf("Dial() error = %v", err)
		}
		client.Close()
	}
}

func TestHandshakeUpstreamRejection(t *testing.T) {
	opts := mockGuacd(t, func(t *testing.T, r *bufio.Reader, conn net.Conn) {
		if _, err := readInstructionLine(r); err != nil {
			return
		}
		conn.Write([]byte(guacwire.New("error", "bad-proto", "256").Encode()))
	})

	settings := &token.ConnectionSettings{Type: token.TypeRDP, Settings: map[string]string{}}
	_, err := Dial(opts, settings, time.Now().Add(2*time.Second), zerolog.Nop())
	if !gwerr.Is(err, gwerr.KindUpstreamRejected) {
		t.Fatalf("Dial() error = %v, want KindUpstreamRejected", err)
	}
}

func TestHandshakeTimesOutWhenArgsNeverArrive(t *testing.T) {
	opts := mockGuacd(t, func(t *testing.T, r *bufio.Reader, conn net.Conn) {
		if _, err := readInstructionLine(r); err != nil {
			return
		}
		time.Sleep(500 * time.Millisecond)
	})

	settings := &token.ConnectionSettings{Type: token.TypeRDP, Settings: map[string]string{}}
	_, err := Dial(opts, settings, time.Now().Add(50*time.Millisecond), zerolog.Nop())
	if !gwerr.Is(err, gwerr.KindHandshakeTimeout) {
		t.Fatalf("Dial() error = %v, want KindHandshakeTimeout", err)
	}
}

func TestDialFailsWhenNothingListens(t *testing.T) {
	opts := Options{Host: "127.0.0.1", Port: 1, ConnectTimeout: 200 * time.Millisecond}
	settings := &token.ConnectionSettings{Type: token.TypeRDP, Settings: map[string]string{}}
	_, err := Dial(opts, settings, time.Now().Add(time.Second), zerolog.Nop())
	if !gwerr.Is(err, gwerr.KindUpstreamUnavailable) {
		t.Fatalf("Dial() error = %v, want KindUpstreamUnavailable", err)
	}
}

func TestReadInstructionAfterReady(t *testing.T) {
	opts := mockGuacd(t, func(t *testing.T, r *bufio.Reader, conn net.Conn) {
		if _, err := readInstructionLine(r); err != nil {
			return
		}
		conn.Write([]byte(guacwire.New("args", "1").Encode()))
		for i := 0; i < 5; i++ {
			if _, err := readInstructionLine(r); err != nil {
				return
			}
		}
		if _, err := readInstructionLine(r); err != nil {
			return
		}
		conn.Write([]byte(guacwire.New("ready", "xyz").Encode()))
		conn.Write([]byte(guacwire.New("sync", "1000").Encode()))
	})

	settings := &token.ConnectionSettings{Type: token.TypeRDP, Settings: map[string]string{}}
	client, err := Dial(opts, settings, time.Now().Add(2*time.Second), zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	inst, err := client.ReadInstruction()
	if err != nil {
		t.Fatalf("ReadInstruction() error = %v", err)
	}
	if inst.Opcode != "sync" || len(inst.Args) != 1 || inst.Args[0] != "1000" {
		t.Errorf("ReadInstruction() = %+v, want sync,1000", inst)
	}
}
