package core_test

import (
	"errors"
	"testing"

	"github.com/cncbridge/gctrl/internal/core"
)

func TestLineSenderLoadEmptyBlobFails(t *testing.T) {
	s := core.NewLineSender()
	if err := s.Load("job", "\n\n"); !errors.Is(err, core.ErrEmptyBlob) {
		t.Fatalf("Load(blank) error = %v, want ErrEmptyBlob", err)
	}
}

func TestLineSenderOneInFlight(t *testing.T) {
	s := core.NewLineSender()
	if err := s.Load("job", "G1 X1\nG1 X2\n"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	line, num, ok := s.Next()
	if !ok || line != "G1 X1" || num != 1 {
		t.Fatalf("Next() = %q, %d, %v, want G1 X1, 1, true", line, num, ok)
	}

	if _, _, ok := s.Next(); ok {
		t.Fatal("Next() returned ok=true while a line is still in flight")
	}

	if err := s.Ack(); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	line, num, ok = s.Next()
	if !ok || line != "G1 X2" || num != 2 {
		t.Fatalf("Next() after ack = %q, %d, %v, want G1 X2, 2, true", line, num, ok)
	}
}

func TestLineSenderAckOutOfOrder(t *testing.T) {
	s := core.NewLineSender()
	if err := s.Load("job", "G1 X1\n"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Ack(); !errors.Is(err, core.ErrOutOfOrderAck) {
		t.Fatalf("Ack() with nothing in flight = %v, want ErrOutOfOrderAck", err)
	}
}

func TestLineSenderRewindResetsLineNum(t *testing.T) {
	s := core.NewLineSender()
	if err := s.Load("job", "G1 X1\nG1 X2\n"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.Next()
	s.Ack()
	s.Next()
	s.Ack()

	if !s.IsDone() {
		t.Fatal("IsDone() = false after acking every line")
	}

	s.Rewind()
	line, num, ok := s.Next()
	if !ok || num != 1 || line != "G1 X1" {
		t.Fatalf("Next() after Rewind = %q, %d, %v, want G1 X1, 1, true (line_num must reset)", line, num, ok)
	}
}
