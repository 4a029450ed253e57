package core

import "errors"

// Sentinel errors shared by the feeder, senders, registry, and the
// per-firmware controllers built on top of this package.
var (
	// ErrEmptyBlob indicates a Load call with a blob that contains no
	// sendable lines.
	ErrEmptyBlob = errors.New("gcode blob is empty")

	// ErrNothingLoaded indicates an operation that requires a loaded job
	// was attempted while no job was loaded.
	ErrNothingLoaded = errors.New("no job loaded")

	// ErrOutOfOrderAck indicates an Ack call with no in-flight line to
	// acknowledge (received would exceed sent).
	ErrOutOfOrderAck = errors.New("ack received with no line in flight")

	// ErrControllerNotFound indicates no controller is registered for the
	// requested port.
	ErrControllerNotFound = errors.New("controller not found for port")

	// ErrMacroNotFound indicates the requested macro id has no definition
	// in the macro store.
	ErrMacroNotFound = errors.New("macro not found")

	// ErrPortClosed indicates an operation was attempted against a
	// controller whose serial port is no longer open.
	ErrPortClosed = errors.New("serial port is closed")

	// ErrNoFileReader indicates a loadfile command was issued on a
	// controller configured with no core.FileReader collaborator.
	ErrNoFileReader = errors.New("no file reader configured")
)
