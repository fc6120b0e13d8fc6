package session

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/rcpctl/internal/protocol"
	"github.com/danmuck/rcpctl/internal/protocol/frame"
)

const readChunk = 32 * 1024

var ErrConnClosed = errors.New("session: connection closed")

// Conn drives whole frames over one byte stream. It owns the read buffer;
// only one goroutine may read at a time while writes are serialized
// internally and may come from any goroutine.
type Conn struct {
	raw net.Conn
	cfg Config

	buf   []byte
	chunk []byte

	writeMu   sync.Mutex
	connected atomic.Bool
	closeOnce sync.Once

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
}

// NewConn wraps an established stream.
func NewConn(raw net.Conn, cfg Config) *Conn {
	c := &Conn{
		raw:   raw,
		cfg:   cfg.WithDefaults(),
		chunk: make([]byte, readChunk),
	}
	c.connected.Store(true)
	return c
}

// Connected is the driver state flag; it drops on Close or on a read/write
// failure.
func (c *Conn) Connected() bool {
	return c.connected.Load()
}

func (c *Conn) RemoteAddr() string {
	if addr := c.raw.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *Conn) Config() Config {
	return c.cfg
}

// Stats returns frames read and written so far.
func (c *Conn) Stats() (in uint64, out uint64) {
	return c.framesIn.Load(), c.framesOut.Load()
}

// ReadFrame blocks until one complete frame is buffered. A clean EOF between
// frames returns io.EOF; EOF inside a frame returns io.ErrUnexpectedEOF.
// Framing errors are returned as-is and leave the connection unusable.
func (c *Conn) ReadFrame() (frame.Frame, error) {
	for {
		f, ok, err := frame.ParseWithLimits(&c.buf, c.cfg.Limits)
		if err != nil {
			c.connected.Store(false)
			return frame.Frame{}, err
		}
		if ok {
			c.framesIn.Add(1)
			return f, nil
		}
		if c.cfg.ReadTimeout > 0 {
			_ = c.raw.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		n, err := c.raw.Read(c.chunk)
		if n > 0 {
			c.buf = append(c.buf, c.chunk[:n]...)
		}
		if err != nil {
			if n > 0 && !errors.Is(err, io.EOF) {
				continue
			}
			if n > 0 {
				// drain what arrived with EOF before reporting it
				if f, ok, perr := frame.ParseWithLimits(&c.buf, c.cfg.Limits); perr == nil && ok {
					c.framesIn.Add(1)
					return f, nil
				}
			}
			c.connected.Store(false)
			if errors.Is(err, io.EOF) {
				if len(c.buf) > 0 {
					return frame.Frame{}, io.ErrUnexpectedEOF
				}
				return frame.Frame{}, io.EOF
			}
			return frame.Frame{}, err
		}
	}
}

// ReadFrameWithin bounds a single ReadFrame by d, then restores the idle
// deadline policy.
func (c *Conn) ReadFrameWithin(d time.Duration) (frame.Frame, error) {
	saved := c.cfg.ReadTimeout
	c.cfg.ReadTimeout = 0
	_ = c.raw.SetReadDeadline(time.Now().Add(d))
	defer func() {
		c.cfg.ReadTimeout = saved
		_ = c.raw.SetReadDeadline(time.Time{})
	}()
	return c.ReadFrame()
}

// WriteFrame writes one frame under the write deadline.
func (c *Conn) WriteFrame(f frame.Frame) error {
	if !c.connected.Load() {
		return ErrConnClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := frame.WriteFrame(c.raw, f, c.cfg.Limits); err != nil {
		if !errors.Is(err, frame.ErrPayloadTooLarge) {
			c.connected.Store(false)
		}
		return err
	}
	c.framesOut.Add(1)
	return nil
}

// Send is WriteFrame for a fresh frame.
func (c *Conn) Send(cmd protocol.Command, payload []byte) error {
	return c.WriteFrame(frame.New(cmd, payload))
}

// SendError reports a non-fatal failure to the peer.
func (c *Conn) SendError(msg string) error {
	return c.Send(protocol.CmdError, []byte(msg))
}

type closeWriter interface {
	CloseWrite() error
}

// CloseWrite half-closes the stream when supported so the peer reads EOF
// while this side keeps draining.
func (c *Conn) CloseWrite() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if cw, ok := c.raw.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}

// Shutdown half-closes the write side when the stream supports it, then
// closes. Safe to call repeatedly.
func (c *Conn) Shutdown() error {
	c.writeMu.Lock()
	if cw, ok := c.raw.(closeWriter); ok && c.connected.Load() {
		_ = cw.CloseWrite()
	}
	c.writeMu.Unlock()
	return c.Close()
}

// Close closes the underlying stream once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		err = c.raw.Close()
	})
	return err
}
