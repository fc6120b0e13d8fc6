package services

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

const MaxClipboardBytes = 1 << 20

var ErrClipboardPayload = errors.New("services: invalid clipboard payload")

// Clipboard keeps the most recent text pushed by the peer.
type Clipboard struct {
	lifecycle

	mu     sync.Mutex
	latest string
}

func NewClipboard() *Clipboard {
	return &Clipboard{lifecycle: lifecycle{name: protocol.ServiceClipboard}}
}

func (c *Clipboard) Start() error { return c.start() }
func (c *Clipboard) Stop() error  { return c.stop() }

func (c *Clipboard) ProcessFrame(f frame.Frame) error {
	if f.Command() != protocol.CmdClipboardData {
		return c.unsupported(f)
	}
	if err := c.requireRunning(); err != nil {
		return err
	}
	if len(f.Payload) > MaxClipboardBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrClipboardPayload, len(f.Payload), MaxClipboardBytes)
	}
	if !utf8.Valid(f.Payload) {
		return fmt.Errorf("%w: not utf-8", ErrClipboardPayload)
	}
	c.mu.Lock()
	c.latest = string(f.Payload)
	c.mu.Unlock()
	log.Debug().Int("bytes", len(f.Payload)).Msg("services.clipboard updated")
	return nil
}

func (c *Clipboard) PollFrame() (frame.Frame, bool) {
	return frame.Frame{}, false
}

func (c *Clipboard) Latest() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}
