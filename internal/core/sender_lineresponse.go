package core

import (
	"fmt"
	"sync"
)

// LineStatus is a snapshot of a LineSender, published as the sender:status
// event and exported as metrics.
type LineStatus struct {
	Name     string
	Total    int
	Sent     int
	Received int
	LineNum  int
}

// LineSender paces a loaded job one line at a time, gated purely by
// acknowledgement: at most one line may be in flight. The
// TinyG2 controller additionally tags every emitted line with a
// monotonically increasing line number, reset on each Rewind.
type LineSender struct {
	mu sync.Mutex

	name string
	blob string

	lines    []string
	total    int
	sent     int
	received int
	lineNum  int
}

// NewLineSender returns an unloaded send/response sender.
func NewLineSender() *LineSender {
	return &LineSender{}
}

// Load tokenizes blob into sendable lines and resets all counters. It
// returns ErrEmptyBlob if blob contains no sendable lines.
func (s *LineSender) Load(name, blob string) error {
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
	s.lineNum = 0

	return nil
}

// Unload clears the loaded job entirely.
func (s *LineSender) Unload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.name = ""
	s.blob = ""
	s.lines = nil
	s.total = 0
	s.sent = 0
	s.received = 0
	s.lineNum = 0
}

// Rewind resets the streaming cursors and line-number counter back to the
// start of the job without discarding the loaded lines.
func (s *LineSender) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = 0
	s.received = 0
	s.lineNum = 0
}

// Next returns the next unsent line and its assigned line number if one
// line may currently be emitted (sent-received == 0 and the job is not
// exhausted). ok is false otherwise.
func (s *LineSender) Next() (line string, lineNum int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sent-s.received != 0 || s.sent >= s.total {
		return "", 0, false
	}

	s.lineNum++
	line = s.lines[s.sent]
	s.sent++

	return line, s.lineNum, true
}

// Ack advances received by one line, corresponding to the device
// acknowledging the single in-flight line.
func (s *LineSender) Ack() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.received >= s.sent {
		return fmt.Errorf("line sender: %w", ErrOutOfOrderAck)
	}
	s.received++

	return nil
}

// LineAt returns the loaded line at index i (zero-based), used to report
// the offending source line when the device rejects one.
func (s *LineSender) LineAt(i int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= s.total {
		return "", false
	}
	return s.lines[i], true
}

// IsDone reports whether every line of the loaded job has been
// acknowledged.
func (s *LineSender) IsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total > 0 && s.received == s.total
}

// Status returns a point-in-time snapshot for broadcast and metrics.
func (s *LineSender) Status() LineStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LineStatus{
		Name:     s.name,
		Total:    s.total,
		Sent:     s.sent,
		Received: s.received,
		LineNum:  s.lineNum,
	}
}
