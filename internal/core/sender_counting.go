package core

import (
	"fmt"
	"sync"
)

// CountingStatus is a snapshot of a CountingSender, published as the
// sender:status event and exported as metrics.
type CountingStatus struct {
	Name          string
	Total         int
	Sent          int
	Received      int
	BytesInFlight int
	BufferSize    int
}

// CountingSender paces a loaded job against the device's receive-buffer
// capacity by tracking the number of bytes resident on the wire.
// BufferSize must be configured strictly below the device's true capacity
// to leave headroom for out-of-band realtime queries.
type CountingSender struct {
	mu sync.Mutex

	name string
	blob string

	lines    []string
	total    int
	sent     int
	received int

	bytesInFlight int
	bufferSize    int
}

// NewCountingSender returns an unloaded sender configured with the given
// receive-buffer budget.
func NewCountingSender(bufferSize int) *CountingSender {
	return &CountingSender{bufferSize: bufferSize}
}

// Load tokenizes blob into sendable lines and resets all counters. It
// returns ErrEmptyBlob if blob contains no sendable lines.
func (s *CountingSender) Load(name, blob string) error {
	lines := SplitLines(blob)
	if len(lines) == 0 {
		return ErrEmptyBlob
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.name = name
	s.blob = blob
	s.lines = lines
	s.total = len(lines)
	s.sent = 0
	s.received = 0
	s.bytesInFlight = 0

	return nil
}

// Unload clears the loaded job entirely.
func (s *CountingSender) Unload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.name = ""
	s.blob = ""
	s.lines = nil
	s.total = 0
	s.sent = 0
	s.received = 0
	s.bytesInFlight = 0
}

// Rewind resets the streaming cursors back to the start of the job without
// discarding the loaded lines, so a stopped or reset job can be restarted.
func (s *CountingSender) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = 0
	s.received = 0
	s.bytesInFlight = 0
}

// Next returns every line that currently fits in the remaining receive-
// buffer window, advancing sent and bytesInFlight for each one. Emission
// stops as soon as a line would overflow the window or the job is
// exhausted. The caller is responsible for writing each returned line
// (newline-terminated) to the serial port, in order.
func (s *CountingSender) Next() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for s.sent < s.total {
		line := s.lines[s.sent]
		wireLen := len(line) + 1 // newline accounted
		if s.bytesInFlight+wireLen > s.bufferSize {
			break
		}
		out = append(out, line)
		s.bytesInFlight += wireLen
		s.sent++
	}
	return out
}

// Ack advances received by one line and releases that line's bytes from
// the in-flight window, corresponding to an "ok" or "error" response for
// the oldest in-flight line (FIFO order).
func (s *CountingSender) Ack() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.received >= s.sent {
		return fmt.Errorf("counting sender: %w", ErrOutOfOrderAck)
	}

	wireLen := len(s.lines[s.received]) + 1
	s.bytesInFlight -= wireLen
	s.received++

	return nil
}

// LineAt returns the loaded line at index i (zero-based), used to report
// the offending source line when the device rejects one.
func (s *CountingSender) LineAt(i int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= s.total {
		return "", false
	}
	return s.lines[i], true
}

// IsDone reports whether every line of the loaded job has been
// acknowledged.
func (s *CountingSender) IsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total > 0 && s.received == s.total
}

// Status returns a point-in-time snapshot for broadcast and metrics.
func (s *CountingSender) Status() CountingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CountingStatus{
		Name:          s.name,
		Total:         s.total,
		Sent:          s.sent,
		Received:      s.received,
		BytesInFlight: s.bytesInFlight,
		BufferSize:    s.bufferSize,
	}
}
