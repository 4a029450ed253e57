package core

import (
	"strings"
	"sync"
)

// ClientHandle identifies a subscribed client and is the narrow interface
// this package uses to deliver events. The actual client transport
// (websocket, IPC, whatever carries these events to a UI) is an external
// collaborator referenced only by this interface.
type ClientHandle interface {
	ID() string
	Send(event string, payload any)
}

// Connection tracks one subscribed client plus the echo-correlation state
// needed to route an unsolicited device response back to the client whose
// command provoked it.
type Connection struct {
	Client ClientHandle

	mu              sync.Mutex
	lastSentCommand string
}

// LastSentCommand returns the command most recently attributed to this
// connection, or "" if none is outstanding.
func (c *Connection) LastSentCommand() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSentCommand
}

func (c *Connection) setLastSentCommand(cmd string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSentCommand = cmd
}

func (c *Connection) clearLastSentCommand() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSentCommand = ""
}

// Multiplexer fans serial-response events out to every subscribed client
// and tracks, per client, the raw command text most recently written on
// that client's behalf so a later echo can be routed back to just that
// client.
type Multiplexer struct {
	mu    sync.Mutex
	conns []*Connection
}

// NewMultiplexer returns an empty Multiplexer.
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{}
}

// Add registers a client and returns its Connection. Callers typically
// follow Add with an immediate push of current controller state to the new
// connection only; that push is controller-specific and so
// lives in the per-firmware controller, not here.
func (m *Multiplexer) Add(client ClientHandle) *Connection {
	conn := &Connection{Client: client}

	m.mu.Lock()
	m.conns = append(m.conns, conn)
	m.mu.Unlock()

	return conn
}

// Remove drops the connection matching client by identity.
func (m *Multiplexer) Remove(client ClientHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range m.conns {
		if c.Client == client {
			m.conns = append(m.conns[:i], m.conns[i+1:]...)
			return
		}
	}
}

// Len returns the number of currently subscribed clients.
func (m *Multiplexer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Broadcast delivers event/payload to every subscribed client
// independently and best-effort: one client's Send is never skipped
// because of another's.
func (m *Multiplexer) Broadcast(event string, payload any) {
	m.mu.Lock()
	conns := make([]*Connection, len(m.conns))
	copy(conns, m.conns)
	m.mu.Unlock()

	for _, c := range conns {
		c.Client.Send(event, payload)
	}
}

// SetLastSentCommand records cmd as the outstanding command for the
// connection belonging to client, if one exists. Called whenever a write
// originates from a specific client, directly or via a feeder line tagged
// with that client.
func (m *Multiplexer) SetLastSentCommand(client ClientHandle, cmd string) {
	if client == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.conns {
		if c.Client == client {
			c.setLastSentCommand(cmd)
			return
		}
	}
}

// RouteByPrefix delivers event/payload only to connections whose
// outstanding last-sent-command has the given prefix. When clear is true
// the matched connection's correlation field is dropped afterward; a
// multi-part reply (Grbl's parserstate line followed by its "ok") keeps
// the correlation through the first part and clears it on the last. It
// reports whether any connection matched, so the caller can fall back to
// a full broadcast for unsolicited events.
func (m *Multiplexer) RouteByPrefix(prefix, event string, payload any, clear bool) bool {
	m.mu.Lock()
	var matched []*Connection
	for _, c := range m.conns {
		if strings.HasPrefix(c.LastSentCommand(), prefix) {
			matched = append(matched, c)
		}
	}
	m.mu.Unlock()

	for _, c := range matched {
		if clear {
			c.clearLastSentCommand()
		}
		c.Client.Send(event, payload)
	}

	return len(matched) > 0
}
