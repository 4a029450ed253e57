package grbl

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cncbridge/gctrl/internal/core"
	ctrlmetrics "github.com/cncbridge/gctrl/internal/metrics"
)

const (
	queryInterval          = 250 * time.Millisecond
	parserStateMinInterval = 500 * time.Millisecond
	startupPause           = 500 * time.Millisecond
	versionProbePause      = 50 * time.Millisecond
	stopSoftResetPause     = 50 * time.Millisecond
)

// realtimeBytes is the set of single-byte commands that skip newline
// termination.
var realtimeBytes = map[byte]bool{
	'?':  true,
	'~':  true,
	'!':  true,
	0x18: true,
}

// Controller drives a Grbl or Smoothieware device over a serial port: the
// character-counting sender, the ad-hoc feeder, the 250ms query timer, and
// the workflow state machine.
type Controller struct {
	port    core.SerialPort
	parser  *Parser
	feeder  *core.Feeder
	sender  *core.CountingSender
	mux     *core.Multiplexer
	macros  core.MacroStore
	files   core.FileReader
	metrics *ctrlmetrics.Collector
	logger  *slog.Logger
	opts    core.Options

	ctx     context.Context
	cmdCh   chan core.Command
	closeCh chan struct{}
	closed  sync.Once
	done    chan struct{}

	mu                    sync.Mutex
	ready                 bool
	workflow              core.Workflow
	statusInFlight        bool
	parserStateInFlight   bool
	parserStateAwaitingOk bool
	lastParserStateQuery  time.Time
	lastParserState       any
	lastSenderStatus      core.CountingStatus
	lastActiveState       string
	lastFeederLine        string
}

// Config bundles a Controller's external collaborators.
type Config struct {
	Port    core.SerialPort
	Macros  core.MacroStore
	Files   core.FileReader
	Metrics *ctrlmetrics.Collector
	Logger  *slog.Logger
}

// New constructs a Controller for opts.Port and starts its event loop. The
// caller is responsible for registering the returned Controller with a
// core.Registry and calling Close on teardown.
func New(ctx context.Context, opts core.Options, cfg Config, bufferSize int) (*Controller, error) {
	opts = opts.WithDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "grbl"), slog.String("port", opts.Port))

	c := &Controller{
		port:    cfg.Port,
		parser:  NewParser(),
		feeder:  core.NewFeeder(),
		sender:  core.NewCountingSender(bufferSize),
		mux:     core.NewMultiplexer(),
		macros:  cfg.Macros,
		files:   cfg.Files,
		metrics: cfg.Metrics,
		logger:  logger,
		opts:    opts,
		ctx:     ctx,
		cmdCh:   make(chan core.Command, 32),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}

	events, err := c.port.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Port, err)
	}

	go c.run(ctx, events)

	return c, nil
}

// Port returns the serial port path. Part of core.Controller.
func (c *Controller) Port() string { return c.opts.Port }

// Close tears the controller down: stops the event loop (and with it the
// query timer), broadcasts serialport:close, and closes the transport.
// Close is idempotent.
func (c *Controller) Close() error {
	var err error
	c.closed.Do(func() {
		close(c.closeCh)
		<-c.done
		c.mux.Broadcast("serialport:close", nil)
		err = c.port.Close()
	})
	return err
}

// AddConnection subscribes client and immediately pushes current state to
// it alone.
func (c *Controller) AddConnection(client core.ClientHandle) {
	c.mux.Add(client)

	client.Send("serialport:open", c.opts)
	if s, ok := c.parser.State().(*State); ok && s.Raw != "" {
		client.Send(s.Firmware.String()+":state", s.Raw)
	}
	client.Send("sender:status", c.sender.Status())
}

// RemoveConnection drops client.
func (c *Controller) RemoveConnection(client core.ClientHandle) {
	c.mux.Remove(client)
}

// SenderStatus returns a point-in-time snapshot of the character-counting
// sender, for diagnostics and tests.
func (c *Controller) SenderStatus() core.CountingStatus {
	return c.sender.Status()
}

// Command enqueues a client command for processing on the controller's
// event loop.
func (c *Controller) Command(cmd core.Command) {
	select {
	case c.cmdCh <- cmd:
	case <-c.closeCh:
	}
}

// -------------------------------------------------------------------------
// Event loop
// -------------------------------------------------------------------------

func (c *Controller) run(ctx context.Context, events <-chan core.SerialEvent) {
	defer close(c.done)

	if !c.runInit(ctx, events) {
		return
	}

	ticker := time.NewTicker(queryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !c.handleSerialEvent(evt) {
				return
			}
		case cmd := <-c.cmdCh:
			c.handleCommand(cmd)
		case <-ticker.C:
			c.tick()
		}
	}
}

// runInit performs the startup fingerprint probe: pause, write "version",
// pause, then mark ready. It returns false if the controller was closed or
// the context was cancelled before the probe completed.
func (c *Controller) runInit(ctx context.Context, events <-chan core.SerialEvent) bool {
	if !c.sleep(ctx, startupPause) {
		return false
	}

	if err := c.writeLine("version"); err != nil {
		c.logger.Warn("startup probe write failed", slog.String("error", err.Error()))
	}

	if !c.sleep(ctx, versionProbePause) {
		return false
	}

	// Drain any probe replies that arrived during the pauses so they are
	// decoded (and, for Smoothieware, fingerprinted) before normal
	// operation begins.
	c.drainPending(events)

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()

	c.mux.Broadcast("serialport:open", c.opts)

	return true
}

func (c *Controller) drainPending(events <-chan core.SerialEvent) {
	for {
		select {
		case evt := <-events:
			c.handleSerialEvent(evt)
		default:
			return
		}
	}
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.closeCh:
		return false
	}
}

// handleSerialEvent decodes evt and reacts to the resulting parser event
// (or transport condition). It returns false if the controller must stop.
func (c *Controller) handleSerialEvent(evt core.SerialEvent) bool {
	switch evt.Kind {
	case core.SerialDisconnect:
		c.mux.Broadcast("serialport:close", nil)
		return false
	case core.SerialError:
		c.mux.Broadcast("serialport:error", evt.Err)
		return false
	}

	event, ok := c.parser.Feed(evt.Line)
	if !ok {
		return true
	}

	c.handleParserEvent(event)
	return true
}

func (c *Controller) handleParserEvent(event core.Event) {
	switch event.Kind {
	case core.EventOk:
		c.handleOk(event)
	case core.EventError:
		c.handleError(event)
	case core.EventStatus:
		c.handleStatus(event)
	case core.EventParserState:
		c.handleParserState(event)
	case core.EventStartup:
		c.mu.Lock()
		c.statusInFlight = false
		c.parserStateInFlight = false
		c.parserStateAwaitingOk = false
		c.mu.Unlock()
		c.mux.Broadcast("serialport:read", event.Raw)
	case core.EventAlarm, core.EventParameters, core.EventFeedback, core.EventSettings, core.EventOthers:
		c.mux.Broadcast("serialport:read", event.Raw)
	}
}

func (c *Controller) handleOk(event core.Event) {
	c.mu.Lock()
	awaiting := c.parserStateAwaitingOk
	if awaiting {
		c.parserStateAwaitingOk = false
	}
	workflow := c.workflow
	c.mu.Unlock()

	if awaiting {
		c.mux.RouteByPrefix("$G", "serialport:read", event.Raw, true)

		// If the query itself came in through the feeder (a client-typed
		// "$G" rather than the timer's direct write), this ok is also the
		// feeder's acknowledgement; without it the feeder would stay
		// pending forever.
		c.mu.Lock()
		fromFeeder := strings.HasPrefix(c.lastFeederLine, "$G")
		if fromFeeder {
			c.lastFeederLine = ""
		}
		c.mu.Unlock()
		if fromFeeder && c.feeder.IsPending() {
			c.feeder.Ack()
			c.feedNext()
		}
		return
	}

	if workflow == core.WorkflowRunning {
		if err := c.sender.Ack(); err != nil {
			c.logger.Warn("ack with nothing in flight", slog.String("error", err.Error()))
			return
		}
		if c.metrics != nil {
			c.metrics.IncLinesAcked(c.opts.Port, "grbl")
		}
		c.sendNext()
		return
	}

	c.mux.Broadcast("serialport:read", event.Raw)
	c.feeder.Ack()
	c.feedNext()
}

func (c *Controller) handleError(event core.Event) {
	c.mu.Lock()
	workflow := c.workflow
	c.mu.Unlock()

	if workflow == core.WorkflowRunning {
		status := c.sender.Status()
		if line, ok := c.sender.LineAt(status.Received); ok {
			c.mux.Broadcast("serialport:read", fmt.Sprintf("> %s", line))
		}
		c.mux.Broadcast("serialport:read", fmt.Sprintf("error=%s, line=%d", event.Message, status.Received+1))
		if c.metrics != nil {
			c.metrics.IncFirmwareErrors(c.opts.Port, "grbl")
		}
		if err := c.sender.Ack(); err != nil {
			c.logger.Warn("ack after error with nothing in flight", slog.String("error", err.Error()))
			return
		}
		c.sendNext()
		return
	}

	c.mux.Broadcast("serialport:read", event.Raw)
	c.feeder.Ack()
	c.feedNext()
}

func (c *Controller) handleStatus(event core.Event) {
	c.mu.Lock()
	c.statusInFlight = false
	c.lastActiveState = firstStatusField(event.Raw)
	c.mu.Unlock()

	c.mux.RouteByPrefix("?", "serialport:read", event.Raw, true)
}

func (c *Controller) handleParserState(event core.Event) {
	c.mu.Lock()
	c.parserStateInFlight = false
	c.parserStateAwaitingOk = true
	c.mu.Unlock()

	// The correlation survives until the trailing "ok" so it can be
	// routed to the same client; handleOk clears it.
	c.mux.RouteByPrefix("$G", "serialport:read", event.Raw, false)
}

// firstStatusField extracts the Grbl active state token from a status
// report, e.g. "<Run|MPos:...>" -> "Run".
func firstStatusField(raw string) string {
	trimmed := strings.Trim(raw, "<>")
	if idx := strings.IndexByte(trimmed, '|'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

// -------------------------------------------------------------------------
// Query timer
// -------------------------------------------------------------------------

func (c *Controller) tick() {
	c.mu.Lock()
	ready := c.ready
	statusInFlight := c.statusInFlight
	parserStateInFlight := c.parserStateInFlight
	parserStateAwaitingOk := c.parserStateAwaitingOk
	throttled := time.Since(c.lastParserStateQuery) < parserStateMinInterval
	c.mu.Unlock()

	if !ready || !c.port.IsOpen() {
		return
	}

	if !statusInFlight {
		c.mu.Lock()
		c.statusInFlight = true
		c.mu.Unlock()
		c.writeRealtime('?')
	}

	if !parserStateInFlight && !parserStateAwaitingOk && !throttled {
		c.mu.Lock()
		c.parserStateInFlight = true
		c.lastParserStateQuery = time.Now()
		c.mu.Unlock()
		if err := c.writeLine("$G"); err != nil {
			c.logger.Warn("parserstate query write failed", slog.String("error", err.Error()))
		}
	}

	if c.feeder.Peek() {
		c.mux.Broadcast("feeder:status", c.feeder.Status())
	}

	status := c.sender.Status()
	c.mu.Lock()
	senderChanged := status != c.lastSenderStatus
	c.lastSenderStatus = status
	c.mu.Unlock()
	if senderChanged {
		c.mux.Broadcast("sender:status", status)
	}
	if c.metrics != nil {
		c.metrics.SetFeederQueued(c.opts.Port, "grbl", c.feeder.Status().Queued)
		c.metrics.SetSenderBytesInFlight(c.opts.Port, "grbl", status.BytesInFlight)
	}

	if state, ok := c.parser.State().(*State); ok {
		c.mu.Lock()
		changed := c.lastParserState != any(state)
		c.lastParserState = state
		c.mu.Unlock()
		if changed {
			c.mux.Broadcast(state.Firmware.String()+":state", state.Raw)
		}
	}

	c.checkCompletion()
}

func (c *Controller) checkCompletion() {
	c.mu.Lock()
	workflow := c.workflow
	c.mu.Unlock()

	if workflow == core.WorkflowRunning && c.sender.IsDone() {
		c.setWorkflow(core.WorkflowIdle)
	}
}

func (c *Controller) setWorkflow(next core.Workflow) {
	c.mu.Lock()
	prev := c.workflow
	c.workflow = next
	c.mu.Unlock()

	if prev != next && c.metrics != nil {
		c.metrics.RecordWorkflowTransition(c.opts.Port, "grbl", prev.String(), next.String())
	}
}

// -------------------------------------------------------------------------
// Writes
// -------------------------------------------------------------------------

func (c *Controller) writeLine(s string) error {
	return c.port.Write([]byte(s + "\n"))
}

func (c *Controller) writeRealtime(b byte) {
	if !realtimeBytes[b] {
		c.logger.Warn("writeRealtime called with a non-realtime byte", slog.Any("byte", b))
	}
	if err := c.port.Write([]byte{b}); err != nil {
		c.logger.Warn("realtime write failed", slog.String("error", err.Error()))
	}
}

func (c *Controller) sendNext() {
	for _, line := range c.sender.Next() {
		if err := c.writeLine(line); err != nil {
			c.logger.Warn("sender write failed", slog.String("error", err.Error()))
			return
		}
		if c.metrics != nil {
			c.metrics.IncLinesSent(c.opts.Port, "grbl")
		}
	}
}

func (c *Controller) feedNext() {
	item, ok := c.feeder.Next()
	if !ok {
		return
	}
	if err := c.writeLine(item.Line); err != nil {
		c.logger.Warn("feeder write failed", slog.String("error", err.Error()))
		return
	}
	c.mu.Lock()
	c.lastFeederLine = item.Line
	c.mu.Unlock()

	c.mux.Broadcast("serialport:write", item.Line+"\n")
	if item.Client != nil {
		c.mux.SetLastSentCommand(item.Client, item.Line+"\n")
	}
}
