package core

import "context"

// SerialEventKind distinguishes the three events a serial transport raises.
type SerialEventKind uint8

const (
	// SerialData carries one line-framed read from the device.
	SerialData SerialEventKind = iota
	// SerialDisconnect indicates the transport was closed by the peer.
	SerialDisconnect
	// SerialError indicates a transport-level failure.
	SerialError
)

// SerialEvent is one event delivered by a SerialPort's event channel.
type SerialEvent struct {
	Kind SerialEventKind
	Line string
	Err  error
}

// SerialPort abstracts the line-framed serial transport a controller
// drives. Implementations live outside this module (a real serial driver,
// or a fake for tests); the streaming core only depends on this interface.
type SerialPort interface {
	// Open starts the transport and returns a channel of SerialEvent. The
	// channel is closed once the transport has torn down (after a
	// SerialDisconnect or SerialError event, or after Close).
	Open(ctx context.Context) (<-chan SerialEvent, error)

	// Write sends raw bytes to the device. Implementations do not add or
	// strip line framing; callers decide when to newline-terminate.
	Write(data []byte) error

	// Close releases the transport. Close is idempotent.
	Close() error

	// IsOpen reports whether the transport is currently usable.
	IsOpen() bool
}
