package core_test

import (
	"testing"

	"github.com/cncbridge/gctrl/internal/core"
)

func TestMultiplexerBroadcastReachesAll(t *testing.T) {
	m := core.NewMultiplexer()
	a := newFakeClientHandle("a")
	b := newFakeClientHandle("b")
	m.Add(a)
	m.Add(b)

	m.Broadcast("serialport:read", "ALARM:1")

	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("Broadcast reached a=%d b=%d sends, want 1 each", a.count(), b.count())
	}
}

func TestMultiplexerRemoveByIdentity(t *testing.T) {
	m := core.NewMultiplexer()
	a := newFakeClientHandle("a")
	b := newFakeClientHandle("b")
	m.Add(a)
	m.Add(b)

	m.Remove(a)
	if got := m.Len(); got != 1 {
		t.Fatalf("Len() = %d after Remove, want 1", got)
	}

	m.Broadcast("x", nil)
	if a.count() != 0 {
		t.Fatalf("removed client received %d sends, want 0", a.count())
	}
	if b.count() != 1 {
		t.Fatalf("remaining client received %d sends, want 1", b.count())
	}
}

// TestMultiplexerRouteByPrefixCorrelatesEcho reproduces spec scenario S3:
// the parserstate reply routes to the client that sent "$G" without
// consuming the correlation, and the trailing "ok" routes once more and
// clears it.
func TestMultiplexerRouteByPrefixCorrelatesEcho(t *testing.T) {
	m := core.NewMultiplexer()
	a := newFakeClientHandle("a")
	conn := m.Add(a)

	m.SetLastSentCommand(a, "$G\n")
	if got := conn.LastSentCommand(); got != "$G\n" {
		t.Fatalf("LastSentCommand() = %q, want %q", got, "$G\n")
	}

	if !m.RouteByPrefix("$G", "parserstate", "[GC:G0 G54]", false) {
		t.Fatal("RouteByPrefix() = false, want true (a's last command matches)")
	}
	if conn.LastSentCommand() != "$G\n" {
		t.Fatal("non-clearing route must keep the correlation for the trailing ok")
	}

	if !m.RouteByPrefix("$G", "ok", nil, true) {
		t.Fatal("RouteByPrefix() = false for the trailing ok, want a match")
	}
	if conn.LastSentCommand() != "" {
		t.Fatal("clearing route must drop the matched connection's correlation field")
	}

	// A further "$G"-shaped event must NOT be routed to a again: nothing
	// is outstanding any more, so RouteByPrefix should report no match.
	if m.RouteByPrefix("$G", "ok", nil, true) {
		t.Fatal("RouteByPrefix() matched again after the correlation field was cleared")
	}
}

func TestMultiplexerRouteByPrefixNoMatch(t *testing.T) {
	m := core.NewMultiplexer()
	a := newFakeClientHandle("a")
	m.Add(a)

	if m.RouteByPrefix("?", "status", "<Idle>", true) {
		t.Fatal("RouteByPrefix() matched with no outstanding command")
	}
	if a.count() != 0 {
		t.Fatalf("unmatched route delivered %d events, want 0", a.count())
	}
}
