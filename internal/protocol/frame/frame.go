package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/rcpctl/internal/protocol"
)

// HeaderLen is the size of the fixed wire header.
const HeaderLen = 8

var (
	ErrInvalidHeader      = errors.New("frame: invalid header")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
)

// UnsupportedVersionError carries the offending version byte.
type UnsupportedVersionError struct {
	Version uint8
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("frame: unsupported version 0x%02x", e.Version)
}

func (e *UnsupportedVersionError) Is(target error) bool {
	return target == ErrUnsupportedVersion
}

// Header is the fixed 8-byte wire header:
// version(1) | command(1) | payload_len u32 LE (4) | flags u16 LE (2).
type Header struct {
	Version    uint8
	Command    protocol.Command
	PayloadLen uint32
	Flags      uint16
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains decode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 16 * 1024 * 1024}
}

// New builds a frame for the current protocol version.
func New(cmd protocol.Command, payload []byte) Frame {
	return NewWithFlags(cmd, 0, payload)
}

func NewWithFlags(cmd protocol.Command, flags uint16, payload []byte) Frame {
	if payload == nil {
		payload = []byte{}
	}
	return Frame{
		Header: Header{
			Version:    protocol.Version,
			Command:    cmd,
			PayloadLen: uint32(len(payload)),
			Flags:      flags,
		},
		Payload: payload,
	}
}

// Command is a shorthand for f.Header.Command.
func (f Frame) Command() protocol.Command {
	return f.Header.Command
}

// Size is the serialized length of the frame.
func (f Frame) Size() int {
	return HeaderLen + len(f.Payload)
}

// Bytes serializes the header followed by the payload.
func (f Frame) Bytes() []byte {
	h := f.Header
	h.PayloadLen = uint32(len(f.Payload))
	out := make([]byte, 0, HeaderLen+len(f.Payload))
	out = append(out, h.Bytes()...)
	return append(out, f.Payload...)
}

func (h Header) Bytes() []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = h.Version
	buf[1] = uint8(h.Command)
	binary.LittleEndian.PutUint32(buf[2:6], h.PayloadLen)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	return buf
}

// ParseHeader decodes the fixed header. The version byte is checked before
// the length field is read.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: need %d bytes, have %d", ErrInvalidHeader, HeaderLen, len(b))
	}
	if b[0] != protocol.Version {
		return Header{}, &UnsupportedVersionError{Version: b[0]}
	}
	return Header{
		Version:    b[0],
		Command:    protocol.Command(b[1]),
		PayloadLen: binary.LittleEndian.Uint32(b[2:6]),
		Flags:      binary.LittleEndian.Uint16(b[6:8]),
	}, nil
}

// Parse extracts one frame from the front of buf. When buf does not yet hold
// a complete frame it returns ok=false with a nil error and leaves buf
// untouched. On success exactly header+payload bytes are consumed.
func Parse(buf *[]byte) (Frame, bool, error) {
	return ParseWithLimits(buf, DefaultLimits())
}

func ParseWithLimits(buf *[]byte, limits Limits) (Frame, bool, error) {
	b := *buf
	if len(b) < HeaderLen {
		return Frame{}, false, nil
	}
	h, err := ParseHeader(b[:HeaderLen])
	if err != nil {
		return Frame{}, false, err
	}
	if limits.MaxPayloadBytes > 0 && h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, false, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, h.PayloadLen)
	}
	total := HeaderLen + int(h.PayloadLen)
	if len(b) < total {
		return Frame{}, false, nil
	}
	payload := make([]byte, h.PayloadLen)
	copy(payload, b[HeaderLen:total])

	rest := copy(b, b[total:])
	*buf = b[:rest]
	return Frame{Header: h, Payload: payload}, true, nil
}

// ReadFrame reads exactly one frame from a stream.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var hb [HeaderLen]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: short read", ErrInvalidHeader)
		}
		return Frame{}, err
	}
	h, err := ParseHeader(hb[:])
	if err != nil {
		return Frame{}, err
	}
	if limits.MaxPayloadBytes > 0 && h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, h.PayloadLen)
	}
	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// WriteFrame writes one frame in a single Write call.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if limits.MaxPayloadBytes > 0 && uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	if f.Header.Version == 0 {
		f.Header.Version = protocol.Version
	}
	_, err := w.Write(f.Bytes())
	return err
}
