package server

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("server: permission denied")
	ErrUnhandledCommand = errors.New("server: unhandled command")
	ErrSessionExpired   = errors.New("server: session expired")
	ErrAuthFailed       = errors.New("server: authentication failed")
)

// ProtocolError is a non-fatal request failure. Reason is the text sent to
// the peer in the Error frame.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "server: protocol error: " + e.Reason
	}
	return fmt.Sprintf("server: protocol error: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolError(reason string, err error) *ProtocolError {
	return &ProtocolError{Reason: reason, Err: err}
}

func permissionDenied(name string) *ProtocolError {
	return &ProtocolError{Reason: "permission denied: " + name, Err: ErrPermissionDenied}
}
