package client

import (
	"fmt"

	"github.com/danmuck/rcpctl/internal/protocol/frame"
)

// EventKind discriminates Event.
type EventKind uint8

const (
	EventStateChanged EventKind = iota + 1
	EventAuthenticated
	EventAuthFailed
	EventFrame
	EventError
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventAuthenticated:
		return "authenticated"
	case EventAuthFailed:
		return "auth_failed"
	case EventFrame:
		return "frame"
	case EventError:
		return "error"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is delivered on Client.Events. Fields are populated per Kind:
// Old/New for state changes, SessionID for authentication, Reason for
// auth failures and server errors, Frame for received frames and Err for
// local read failures.
type Event struct {
	Kind      EventKind
	Old       State
	New       State
	SessionID string
	Reason    string
	Frame     frame.Frame
	Err       error
}

// Handler consumes events inside Client.Start.
type Handler func(Event)
