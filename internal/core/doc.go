// Package core implements the firmware-agnostic building blocks shared by
// the Grbl and TinyG2 controllers: the interactive command feeder, the two
// job-streaming protocols (character-counting and send/response), the
// connection multiplexer, and the process-wide controller registry.
//
// Collaborators that sit outside the streaming core — the serial transport,
// the firmware line parser, the G-code tokenizer, the macro/file stores, and
// the client transport — are modeled here as interfaces only, per the
// project's scope: this package owns protocol state machines and flow
// control, not I/O.
package core
