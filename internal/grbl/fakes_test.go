package grbl_test

import (
	"context"
	"sync"

	"github.com/cncbridge/gctrl/internal/core"
)

type fakeSerialPort struct {
	mu     sync.Mutex
	open   bool
	writes [][]byte
	events chan core.SerialEvent
}

func newFakeSerialPort() *fakeSerialPort {
	return &fakeSerialPort{events: make(chan core.SerialEvent, 256)}
}

func (f *fakeSerialPort) Open(_ context.Context) (<-chan core.SerialEvent, error) {
	f.mu.Lock()
	f.open = true
	f.mu.Unlock()
	return f.events, nil
}

func (f *fakeSerialPort) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeSerialPort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		f.open = false
		close(f.events)
	}
	return nil
}

func (f *fakeSerialPort) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeSerialPort) push(line string) {
	f.events <- core.SerialEvent{Kind: core.SerialData, Line: line}
}

func (f *fakeSerialPort) writeStrings() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	for i, w := range f.writes {
		out[i] = string(w)
	}
	return out
}

type fakeClientHandle struct {
	id string

	mu    sync.Mutex
	sends []fakeSend
}

type fakeSend struct {
	Event   string
	Payload any
}

func newFakeClientHandle(id string) *fakeClientHandle {
	return &fakeClientHandle{id: id}
}

func (c *fakeClientHandle) ID() string { return c.id }

func (c *fakeClientHandle) Send(event string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, fakeSend{Event: event, Payload: payload})
}

func (c *fakeClientHandle) events() []fakeSend {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fakeSend, len(c.sends))
	copy(out, c.sends)
	return out
}
