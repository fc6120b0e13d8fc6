package client

import (
	"errors"
	"fmt"
)

// State is the client connection lifecycle.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticated
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

var (
	ErrInvalidState     = errors.New("client: invalid state")
	ErrNotAuthenticated = errors.New("client: not authenticated")
	ErrAuthTimeout      = errors.New("client: authentication timed out")
	ErrConnectionClosed = errors.New("client: connection closed")
)

// TransitionError reports an operation attempted from the wrong state.
type TransitionError struct {
	Op    string
	State State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("client: %s not allowed while %s", e.Op, e.State)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidState
}

// AuthRejectedError carries the server's stated reason.
type AuthRejectedError struct {
	Reason string
}

func (e *AuthRejectedError) Error() string {
	return "client: authentication rejected: " + e.Reason
}
