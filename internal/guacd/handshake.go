package guacd

import (
	"strings"

	"github.com/go-orz/guacgateway/internal/guacwire"
	"github.com/go-orz/guacgateway/internal/gwerr"
	"github.com/go-orz/guacgateway/internal/token"
)

// Override keys consulted in settings.Overrides for the configuration
// instructions sent between "args" and "connect". Unset keys fall back to
// the defaults below, matching the teacher's handshake and the original
// implementation's guacd_client.py.
const (
	overrideWidth    = "GUAC_WIDTH"
	overrideHeight   = "GUAC_HEIGHT"
	overrideDPI      = "GUAC_DPI"
	overrideAudio    = "GUAC_AUDIO"
	overrideVideo    = "GUAC_VIDEO"
	overrideImage    = "GUAC_IMAGE"
	overrideTimezone = "GUAC_TIMEZONE"
)

const (
	defaultWidth  = "1024"
	defaultHeight = "768"
	defaultDPI    = "96"
	defaultAudio  = "audio/L16"
	defaultImage  = "image/png,image/jpeg,image/webp"
)

func (c *Client) handshake(settings *token.ConnectionSettings) error {
	c.setState(StateAwaitingArgs)

	selectArg := settings.ConnectionID
	if selectArg == "" {
		selectArg = string(settings.Type)
	}
	if err := c.handshakeWrite(guacwire.New("select", selectArg)); err != nil {
		return err
	}

	rejected := func(inst guacwire.Instruction) error {
		msg, code := "", ""
		if len(inst.Args) > 0 {
			msg = inst.Args[0]
		}
		if len(inst.Args) > 1 {
			code = inst.Args[1]
		}
		return gwerr.New(gwerr.KindUpstreamRejected, &UpstreamRejectedError{Message: msg, Code: code})
	}

	args, err := c.handshakeRead()
	if err != nil {
		return err
	}
	if args.Opcode == "error" {
		return rejected(args)
	}
	if args.Opcode != "args" {
		return gwerr.New(gwerr.KindProtocolError, errUnexpectedOpcode("args", args.Opcode))
	}

	c.setState(StateNegotiating)
	if err := c.sendConfiguration(settings); err != nil {
		return err
	}

	if err := c.sendConnect(settings, args.Args); err != nil {
		return err
	}

	c.setState(StateAwaitingReady)
	ready, err := c.handshakeRead()
	if err != nil {
		return err
	}
	switch ready.Opcode {
	case "ready":
		if len(ready.Args) == 0 {
			return gwerr.New(gwerr.KindProtocolError, errNoConnectionID)
		}
		c.connectionID = ready.Args[0]
		return nil
	case "error":
		return rejected(ready)
	default:
		return gwerr.New(gwerr.KindProtocolError, errUnexpectedOpcode("ready", ready.Opcode))
	}
}

func (c *Client) sendConfiguration(settings *token.ConnectionSettings) error {
	width := orDefault(settings.Overrides[overrideWidth], defaultWidth)
	height := orDefault(settings.Overrides[overrideHeight], defaultHeight)
	dpi := orDefault(settings.Overrides[overrideDPI], defaultDPI)
	if err := c.handshakeWrite(guacwire.New("size", width, height, dpi)); err != nil {
		return err
	}

	audio := orDefault(settings.Overrides[overrideAudio], defaultAudio)
	if err := c.handshakeWrite(guacwire.New("audio", splitNonEmpty(audio)...)); err != nil {
		return err
	}

	video := settings.Overrides[overrideVideo]
	if err := c.handshakeWrite(guacwire.New("video", splitNonEmpty(video)...)); err != nil {
		return err
	}

	image := orDefault(settings.Overrides[overrideImage], defaultImage)
	if err := c.handshakeWrite(guacwire.New("image", splitNonEmpty(image)...)); err != nil {
		return err
	}

	timezone := settings.Overrides[overrideTimezone]
	return c.handshakeWrite(guacwire.New("timezone", timezone))
}

// sendConnect builds the "connect" instruction from the "args" response's
// parameter-name list. The first name is guacd's protocol-version slot, not
// a real connection setting: it is consumed and never forwarded, echoed, or
// looked up. Each remaining name answers positionally from settings, with a
// missing name answered by an empty string; the emitted value count is
// exactly len(argNames)-1.
func (c *Client) sendConnect(settings *token.ConnectionSettings, argNames []string) error {
	if len(argNames) == 0 {
		return c.handshakeWrite(guacwire.New("connect"))
	}
	paramNames := argNames[1:]
	values := make([]string, len(paramNames))
	for i, name := range paramNames {
		values[i] = settings.Settings[name]
	}
	return c.handshakeWrite(guacwire.New("connect", values...))
}

func (c *Client) handshakeWrite(inst guacwire.Instruction) error {
	if _, err := c.conn.Write([]byte(inst.Encode())); err != nil {
		return classifyHandshakeErr(err)
	}
	return nil
}

func (c *Client) handshakeRead() (guacwire.Instruction, error) {
	inst, err := c.dec.Decode()
	if err != nil {
		return guacwire.Instruction{}, classifyHandshakeErr(err)
	}
	return inst, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// splitNonEmpty splits a comma-separated mimetype list into its wire
// arguments, returning no arguments (not one empty argument) when s is
// empty — guacd's "video;" with zero mimetypes means "no video support"
// and is distinct from "video,;" which would advertise one empty mimetype.
func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
