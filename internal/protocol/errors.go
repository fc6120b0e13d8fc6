package protocol

import "errors"

var (
	ErrUnknownCommand = errors.New("protocol: unknown command")
	ErrEmptyName      = errors.New("protocol: empty service name")
)
