package core_test

import (
	"context"
	"sync"

	"github.com/cncbridge/gctrl/internal/core"
)

// fakeSerialPort is a test double implementing core.SerialPort: writes are
// captured in order and inbound events are delivered by pushing onto the
// channel returned from Open.
type fakeSerialPort struct {
	mu     sync.Mutex
	open   bool
	writes [][]byte
	events chan core.SerialEvent
}

func newFakeSerialPort() *fakeSerialPort {
	return &fakeSerialPort{events: make(chan core.SerialEvent, 64)}
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

func (f *fakeSerialPort) push(evt core.SerialEvent) {
	f.events <- evt
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

// fakeClientHandle is a test double implementing core.ClientHandle: every
// Send call is captured for later assertion.
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

func (c *fakeClientHandle) sentEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sends))
	for i, s := range c.sends {
		out[i] = s.Event
	}
	return out
}

func (c *fakeClientHandle) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}
