package schema

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrMalformedLaunch  = errors.New("schema: malformed launch request")
	ErrMalformedInput   = errors.New("schema: malformed input event")
	ErrInvalidQuality   = errors.New("schema: invalid video quality")
	ErrInvalidName      = errors.New("schema: invalid service name")
	ErrMalformedDisplay = errors.New("schema: malformed display info")
)

// MaxServiceNameLen bounds subscribe/unsubscribe/ack payloads.
const MaxServiceNameLen = 64

// LaunchAppCommand is the JSON payload of a LaunchApp frame.
// ApplicationPath is one of "app:<id>", "default:<kind>" or an executable path.
type LaunchAppCommand struct {
	Flags           uint32  `json:"flags"`
	ApplicationPath string  `json:"application_path"`
	Args            *string `json:"args,omitempty"`
}

func (c LaunchAppCommand) Encode() ([]byte, error) {
	return json.Marshal(c)
}

func DecodeLaunchAppCommand(b []byte) (LaunchAppCommand, error) {
	var c LaunchAppCommand
	if err := json.Unmarshal(b, &c); err != nil {
		return LaunchAppCommand{}, fmt.Errorf("%w: %v", ErrMalformedLaunch, err)
	}
	if strings.TrimSpace(c.ApplicationPath) == "" {
		return LaunchAppCommand{}, fmt.Errorf("%w: empty application_path", ErrMalformedLaunch)
	}
	return c, nil
}

// SplitArgs tokenizes an argument string on spaces, honouring double quotes.
func SplitArgs(raw string) []string {
	var (
		out      []string
		current  strings.Builder
		inQuotes bool
	)
	for _, r := range raw {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ' ' && !inQuotes:
			if current.Len() > 0 {
				out = append(out, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

// InputKind is the leading tag of a SendInput payload.
type InputKind uint8

const (
	InputKey         InputKind = 1
	InputMouseMove   InputKind = 2
	InputMouseButton InputKind = 3
	InputMouseWheel  InputKind = 4
)

func (k InputKind) String() string {
	switch k {
	case InputKey:
		return "key"
	case InputMouseMove:
		return "mouse_move"
	case InputMouseButton:
		return "mouse_button"
	case InputMouseWheel:
		return "mouse_wheel"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Mouse buttons.
const (
	MouseLeft   uint8 = 1
	MouseRight  uint8 = 2
	MouseMiddle uint8 = 3
)

// InputEvent is a decoded SendInput payload. Only the fields relevant to
// Kind are meaningful.
type InputEvent struct {
	Kind    InputKind
	KeyCode uint16
	Button  uint8
	Pressed bool
	X, Y    uint16
	Delta   int16
}

func KeyEvent(code uint16, pressed bool) InputEvent {
	return InputEvent{Kind: InputKey, KeyCode: code, Pressed: pressed}
}

func MouseMoveEvent(x, y uint16) InputEvent {
	return InputEvent{Kind: InputMouseMove, X: x, Y: y}
}

func MouseButtonEvent(button uint8, pressed bool) InputEvent {
	return InputEvent{Kind: InputMouseButton, Button: button, Pressed: pressed}
}

func MouseWheelEvent(delta int16) InputEvent {
	return InputEvent{Kind: InputMouseWheel, Delta: delta}
}

// Encode packs the event little-endian:
// key 1|code u16|pressed u8, move 2|x u16|y u16, button 3|button u8|pressed u8,
// wheel 4|delta i16.
func (e InputEvent) Encode() []byte {
	switch e.Kind {
	case InputKey:
		out := []byte{byte(InputKey), 0, 0, boolByte(e.Pressed)}
		binary.LittleEndian.PutUint16(out[1:3], e.KeyCode)
		return out
	case InputMouseMove:
		out := []byte{byte(InputMouseMove), 0, 0, 0, 0}
		binary.LittleEndian.PutUint16(out[1:3], e.X)
		binary.LittleEndian.PutUint16(out[3:5], e.Y)
		return out
	case InputMouseButton:
		return []byte{byte(InputMouseButton), e.Button, boolByte(e.Pressed)}
	case InputMouseWheel:
		out := []byte{byte(InputMouseWheel), 0, 0}
		binary.LittleEndian.PutUint16(out[1:3], uint16(e.Delta))
		return out
	default:
		return []byte{byte(e.Kind)}
	}
}

func DecodeInputEvent(b []byte) (InputEvent, error) {
	if len(b) == 0 {
		return InputEvent{}, fmt.Errorf("%w: empty payload", ErrMalformedInput)
	}
	kind := InputKind(b[0])
	want := map[InputKind]int{
		InputKey:         4,
		InputMouseMove:   5,
		InputMouseButton: 3,
		InputMouseWheel:  3,
	}[kind]
	if want == 0 {
		return InputEvent{}, fmt.Errorf("%w: kind %d", ErrMalformedInput, b[0])
	}
	if len(b) != want {
		return InputEvent{}, fmt.Errorf("%w: %s wants %d bytes, got %d", ErrMalformedInput, kind, want, len(b))
	}
	switch kind {
	case InputKey:
		return KeyEvent(binary.LittleEndian.Uint16(b[1:3]), b[3] != 0), nil
	case InputMouseMove:
		return MouseMoveEvent(binary.LittleEndian.Uint16(b[1:3]), binary.LittleEndian.Uint16(b[3:5])), nil
	case InputMouseButton:
		return MouseButtonEvent(b[1], b[2] != 0), nil
	default:
		return MouseWheelEvent(int16(binary.LittleEndian.Uint16(b[1:3]))), nil
	}
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// EncodeQuality builds a VideoQuality payload.
func EncodeQuality(q uint8) ([]byte, error) {
	if q > 100 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuality, q)
	}
	return []byte{q}, nil
}

func DecodeQuality(b []byte) (uint8, error) {
	if len(b) != 1 || b[0] > 100 {
		return 0, fmt.Errorf("%w: %x", ErrInvalidQuality, b)
	}
	return b[0], nil
}

// DisplayInfo is announced by the display service.
type DisplayInfo struct {
	Width   uint32 `json:"width"`
	Height  uint32 `json:"height"`
	Format  string `json:"format"`
	Quality uint8  `json:"quality"`
}

func (d DisplayInfo) Encode() ([]byte, error) {
	return json.Marshal(d)
}

func DecodeDisplayInfo(b []byte) (DisplayInfo, error) {
	var d DisplayInfo
	if err := json.Unmarshal(b, &d); err != nil {
		return DisplayInfo{}, fmt.Errorf("%w: %v", ErrMalformedDisplay, err)
	}
	return d, nil
}

// DecodeServiceName validates a subscribe/unsubscribe/ack payload.
func DecodeServiceName(b []byte) (string, error) {
	if len(b) == 0 || len(b) > MaxServiceNameLen || !utf8.Valid(b) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, b)
	}
	name := strings.TrimSpace(string(b))
	if name == "" {
		return "", fmt.Errorf("%w: blank", ErrInvalidName)
	}
	return name, nil
}
