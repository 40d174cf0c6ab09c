package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrReconnectExhausted is reported when the reconnect ceiling is reached.
	ErrReconnectExhausted = errors.New("transport: reconnect attempts exhausted")
	// ErrDisconnected is returned by a dial that was overtaken by Disconnect.
	ErrDisconnected = errors.New("transport: channel disconnected")
)

// ChannelError is a dial, read or write failure on the socket.
type ChannelError struct {
	Op  string // dial, read or write
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// ParseError is an inbound payload that could not be decoded. It is logged
// and counted; it never closes the channel.
type ParseError struct {
	Size int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("transport: unparseable message (%d bytes): %v", e.Size, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
