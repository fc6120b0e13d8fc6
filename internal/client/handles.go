package client

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/frame"
	"github.com/danmuck/rcpctl/internal/protocol/schema"
	"github.com/danmuck/rcpctl/internal/services"
	"github.com/rs/zerolog/log"
)

// Display controls the remote display stream and remembers the last
// DisplayInfo announcement.
type Display struct {
	c *Client

	mu   sync.Mutex
	info schema.DisplayInfo
	seen bool
}

// SetQuality requests a video quality between 0 and 100.
func (d *Display) SetQuality(q uint8) error {
	payload, err := schema.EncodeQuality(q)
	if err != nil {
		return err
	}
	return d.c.send(protocol.CmdVideoQuality, payload)
}

// Info returns the last announced display geometry.
func (d *Display) Info() (schema.DisplayInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info, d.seen
}

func (d *Display) observe(f frame.Frame) {
	info, err := schema.DecodeDisplayInfo(f.Payload)
	if err != nil {
		log.Warn().Err(err).Msg("client.display bad announcement")
		return
	}
	d.mu.Lock()
	d.info, d.seen = info, true
	d.mu.Unlock()
}

// Input sends keyboard and mouse events.
type Input struct {
	c *Client
}

func (in *Input) send(ev schema.InputEvent) error {
	return in.c.send(protocol.CmdSendInput, ev.Encode())
}

func (in *Input) SendKey(code uint16, pressed bool) error {
	return in.send(schema.KeyEvent(code, pressed))
}

func (in *Input) SendMouseMove(x, y uint16) error {
	return in.send(schema.MouseMoveEvent(x, y))
}

func (in *Input) SendMouseButton(button uint8, pressed bool) error {
	return in.send(schema.MouseButtonEvent(button, pressed))
}

func (in *Input) SendMouseWheel(delta int16) error {
	return in.send(schema.MouseWheelEvent(delta))
}

// Clipboard pushes text to the server and keeps the last text received.
type Clipboard struct {
	c *Client

	mu     sync.Mutex
	latest string
}

func (cb *Clipboard) SendText(text string) error {
	if len(text) > services.MaxClipboardBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", services.ErrClipboardPayload, len(text), services.MaxClipboardBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: not utf-8", services.ErrClipboardPayload)
	}
	return cb.c.send(protocol.CmdClipboardData, []byte(text))
}

func (cb *Clipboard) Latest() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.latest
}

func (cb *Clipboard) observe(f frame.Frame) {
	if !utf8.Valid(f.Payload) {
		return
	}
	cb.mu.Lock()
	cb.latest = string(f.Payload)
	cb.mu.Unlock()
}
