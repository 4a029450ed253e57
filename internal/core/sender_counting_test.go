package core_test

import (
	"errors"
	"testing"

	"github.com/cncbridge/gctrl/internal/core"
)

func TestCountingSenderLoadEmptyBlobFails(t *testing.T) {
	s := core.NewCountingSender(120)
	if err := s.Load("job", "   \n\n  \n"); !errors.Is(err, core.ErrEmptyBlob) {
		t.Fatalf("Load(blank blob) error = %v, want ErrEmptyBlob", err)
	}
	if got := s.Status().Total; got != 0 {
		t.Fatalf("Status().Total = %d, want 0 after failed Load", got)
	}
}

// TestCountingSenderS1 reproduces spec scenario S1: buffer_size=120, three
// short lines (6+1, 6+1, 5+1 bytes on the wire), window fills to 20 bytes
// then drains to zero on three oks.
func TestCountingSenderS1(t *testing.T) {
	s := core.NewCountingSender(120)
	if err := s.Load("s1", "G1 X10\nG1 Y20\nG1 Z5\n"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	lines := s.Next()
	want := []string{"G1 X10", "G1 Y20", "G1 Z5"}
	if len(lines) != len(want) {
		t.Fatalf("Next() = %v, want %v", lines, want)
	}
	for i, l := range want {
		if lines[i] != l {
			t.Errorf("Next()[%d] = %q, want %q", i, lines[i], l)
		}
	}

	status := s.Status()
	if status.BytesInFlight != 20 {
		t.Fatalf("BytesInFlight = %d, want 20", status.BytesInFlight)
	}

	for i := 0; i < 3; i++ {
		if err := s.Ack(); err != nil {
			t.Fatalf("Ack() #%d: %v", i, err)
		}
	}

	status = s.Status()
	if status.Received != 3 || status.BytesInFlight != 0 {
		t.Fatalf("after 3 acks: received=%d bytesInFlight=%d, want 3, 0", status.Received, status.BytesInFlight)
	}
	if !s.IsDone() {
		t.Fatal("IsDone() = false after all lines acked")
	}
}

func TestCountingSenderWindowRespectsBufferSize(t *testing.T) {
	// Each line is "G1 X1" (5 bytes) + newline = 6 bytes on the wire.
	// buffer_size=13 allows exactly two lines (12 bytes) in flight, not three.
	s := core.NewCountingSender(13)
	if err := s.Load("job", "G1 X1\nG1 X2\nG1 X3\n"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	lines := s.Next()
	if len(lines) != 2 {
		t.Fatalf("Next() returned %d lines, want 2 (window should not fit a third)", len(lines))
	}

	if more := s.Next(); len(more) != 0 {
		t.Fatalf("Next() before any ack returned %v, want none", more)
	}

	if err := s.Ack(); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	more := s.Next()
	if len(more) != 1 || more[0] != "G1 X3" {
		t.Fatalf("Next() after ack = %v, want [G1 X3]", more)
	}
}

func TestCountingSenderAckOutOfOrder(t *testing.T) {
	s := core.NewCountingSender(120)
	if err := s.Load("job", "G1 X1\n"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Ack(); !errors.Is(err, core.ErrOutOfOrderAck) {
		t.Fatalf("Ack() before any line sent = %v, want ErrOutOfOrderAck", err)
	}
}

func TestCountingSenderRewindPreservesLines(t *testing.T) {
	s := core.NewCountingSender(120)
	if err := s.Load("job", "G1 X1\nG1 X2\n"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.Next()
	s.Ack()

	s.Rewind()
	status := s.Status()
	if status.Sent != 0 || status.Received != 0 || status.BytesInFlight != 0 {
		t.Fatalf("Status() after Rewind = %+v, want all cursors zero", status)
	}
	if status.Total != 2 {
		t.Fatalf("Total = %d after Rewind, want lines preserved at 2", status.Total)
	}
}
