package core

import "sync"

// Item is a single ad-hoc line accepted by the Feeder. Client is nil for
// lines with no originating client (e.g. internally generated macro steps).
type Item struct {
	Client ClientHandle
	Line   string
}

// FeederStatus is a snapshot published at timer granularity as a
// feeder:status event.
type FeederStatus struct {
	Pending bool
	Queued  int
}

// Feeder is the ordered queue of interactive, unconstrained commands (jog
// moves, manual G-code, macro steps). Exactly one item is in flight between
// a successful Next and the matching Ack.
//
// Feeder is safe for concurrent use, but in practice is only ever driven
// from the single controller goroutine that owns it.
type Feeder struct {
	mu      sync.Mutex
	queue   []Item
	pending bool

	// lastSeenLen/lastSeenPending record the queue shape observed by the
	// previous Peek call, so Peek can report "changed since last peek".
	lastSeenLen     int
	lastSeenPending bool
	firstPeek       bool
}

// NewFeeder returns an empty, non-pending Feeder.
func NewFeeder() *Feeder {
	return &Feeder{firstPeek: true}
}

// Feed appends item to the tail of the queue.
func (f *Feeder) Feed(item Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, item)
}

// Next pops the head of the queue and marks it pending, if the queue is
// non-empty and nothing is already pending. It returns ok=false and does
// nothing otherwise.
func (f *Feeder) Next() (Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pending || len(f.queue) == 0 {
		return Item{}, false
	}

	item := f.queue[0]
	f.queue = f.queue[1:]
	f.pending = true

	return item, true
}

// Ack clears the pending flag, called by the controller once the device has
// acknowledged the in-flight item. The caller is expected to call Next
// again immediately afterward to keep the queue draining.
func (f *Feeder) Ack() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = false
}

// Clear drops all queued items. The pending flag is left unchanged: an
// item already in flight is not retroactively un-acked.
func (f *Feeder) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = nil
}

// IsPending reports whether an item is currently in flight.
func (f *Feeder) IsPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// Peek reports whether the queue is currently non-empty AND its shape
// (length or pending flag) has changed since the previous Peek call. This
// is used by the query timer to decide whether to publish a feeder:status
// event without spamming one every tick.
func (f *Feeder) Peek() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	changed := f.firstPeek || len(f.queue) != f.lastSeenLen || f.pending != f.lastSeenPending
	f.lastSeenLen = len(f.queue)
	f.lastSeenPending = f.pending
	f.firstPeek = false

	return len(f.queue) > 0 && changed
}

// Status returns the current snapshot for broadcast/metrics purposes.
func (f *Feeder) Status() FeederStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FeederStatus{Pending: f.pending, Queued: len(f.queue)}
}
