package tinyg2

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cncbridge/gctrl/internal/core"
	ctrlmetrics "github.com/cncbridge/gctrl/internal/metrics"
)

const (
	stopPause = 250 * time.Millisecond
)

// initStep is one line of the JSON configuration script written after
// serial open, paced by its own PauseAfter.
type initStep struct {
	Line       string
	PauseAfter time.Duration
}

var initScript = []initStep{
	{Line: `{"ej":1}`},    // enable JSON mode
	{Line: `{"jv":4}`},    // JSON verbosity: verbose
	{Line: `{"sv":1}`},    // status report verbosity: filtered
	{Line: `{"si":250}`},  // status report interval, ms
	{Line: `{"hp":null}`}, // request hardware platform
	{Line: `{"fb":null}`}, // request firmware build
	{Line: `{"mt":null}`}, // request motor timeout
	{Line: `{"qr":null}`}, // request queue report
	{Line: "?", PauseAfter: 250 * time.Millisecond},
}

// QRState tracks whether a queue report has arrived since the last sender
// advance made by an "r" footer or status report; those advances reset it.
type QRState uint8

const (
	QRUnknown QRState = iota
	QROk
)

// PlannerQueueStatus mirrors the device's planner headroom as last
// observed by a queue report.
type PlannerQueueStatus uint8

const (
	QueueBlocked PlannerQueueStatus = iota
	QueueReady
)

// BufferState tracks whether the device has most recently acknowledged
// (via an "r" footer) the in-flight line.
type BufferState uint8

const (
	BufferIdle BufferState = iota
	BufferAck
)

// Controller drives a g2core/TinyG2 device over a serial port: the JSON
// init script, the Nk-framed line sender, and the planner-queue/ack gating
// that paces the job against the device's own reports.
type Controller struct {
	port    core.SerialPort
	parser  *Parser
	feeder  *core.Feeder
	sender  *core.LineSender
	mux     *core.Multiplexer
	macros  core.MacroStore
	files   core.FileReader
	metrics *ctrlmetrics.Collector
	logger  *slog.Logger
	opts    core.Options

	lowWaterMark int

	ctx     context.Context
	cmdCh   chan core.Command
	closeCh chan struct{}
	closed  sync.Once
	done    chan struct{}

	mu                 sync.Mutex
	ready              bool
	workflow           core.Workflow
	senderMode         SenderMode
	qrState            QRState
	plannerQueueStatus PlannerQueueStatus
	bufferState        BufferState
	lastState          any
	lastSenderStatus   core.LineStatus
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
func New(ctx context.Context, opts core.Options, cfg Config, lowWaterMark int) (*Controller, error) {
	opts = opts.WithDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "tinyg2"), slog.String("port", opts.Port))

	c := &Controller{
		port:         cfg.Port,
		parser:       NewParser(),
		feeder:       core.NewFeeder(),
		sender:       core.NewLineSender(),
		mux:          core.NewMultiplexer(),
		macros:       cfg.Macros,
		files:        cfg.Files,
		metrics:      cfg.Metrics,
		logger:       logger,
		opts:         opts,
		lowWaterMark: lowWaterMark,
		ctx:          ctx,
		cmdCh:        make(chan core.Command, 32),
		closeCh:      make(chan struct{}),
		done:         make(chan struct{}),
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

// Close tears the controller down: it stops the event loop, broadcasts
// serialport:close, and closes the transport. Close is idempotent.
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

	c.mu.Lock()
	state := c.lastState
	c.mu.Unlock()

	client.Send("serialport:open", c.opts)
	if s, ok := state.(*State); ok && s.Raw != "" {
		client.Send("TinyG2:state", s.Raw)
	}
	client.Send("sender:status", c.sender.Status())
}

// RemoveConnection drops client.
func (c *Controller) RemoveConnection(client core.ClientHandle) {
	c.mux.Remove(client)
}

// SenderStatus returns a point-in-time snapshot of the line sender, for
// diagnostics and tests.
func (c *Controller) SenderStatus() core.LineStatus {
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
		}
	}
}

// runInit writes the JSON configuration script, pacing each line by its
// own PauseAfter, then marks the controller ready. It returns false if the
// controller was closed or the context was cancelled before the script
// completed.
func (c *Controller) runInit(ctx context.Context, events <-chan core.SerialEvent) bool {
	for _, step := range initScript {
		if err := c.writeLine(step.Line); err != nil {
			c.logger.Warn("init script write failed", slog.String("line", step.Line), slog.String("error", err.Error()))
		}
		if step.PauseAfter > 0 {
			if !c.sleep(ctx, step.PauseAfter) {
				return false
			}
		}
	}

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
	case core.EventQueueReport:
		c.handleQueueReport(event)
	case core.EventAck:
		c.handleAck(event)
	case core.EventStatusReport:
		c.handleStatusReport(event)
	case core.EventFooterError:
		c.handleFooterError(event)
	case core.EventFeedback, core.EventOthers:
		c.mux.Broadcast("serialport:read", event.Raw)
		c.publishStatus()
	}
}

// handleQueueReport applies a {qr,qi,qo} sideband: it resolves an
// outstanding Wait classification and, when the planner has headroom and
// the device has most recently acknowledged the in-flight line, advances
// the job sender (while running in Run mode) or otherwise the ad-hoc feeder.
func (c *Controller) handleQueueReport(event core.Event) {
	c.mu.Lock()
	c.qrState = QROk
	c.plannerQueueStatus = QueueBlocked
	if c.senderMode == ModeWait && (event.Queue.QI == 0 || event.Queue.QO > event.Queue.QI) {
		c.senderMode = ModeRun
	}
	mode := c.senderMode
	workflow := c.workflow
	bufferState := c.bufferState
	c.mu.Unlock()

	if event.Queue.QR > c.lowWaterMark && bufferState == BufferAck {
		if workflow == core.WorkflowRunning && mode == ModeRun {
			if err := c.sender.Ack(); err == nil {
				if c.metrics != nil {
					c.metrics.IncLinesAcked(c.opts.Port, "tinyg2")
				}
				c.sendNext()
			}
		} else {
			c.feeder.Ack()
			c.feedNext()
		}

		c.mu.Lock()
		c.plannerQueueStatus = QueueReady
		c.mu.Unlock()
	}

	c.publishStatus()
}

// handleAck applies an "r" footer: the primary advance path for Run and
// NoQr lines once both the device's own ack and a queue report agree the
// planner has room. Wait-mode lines never advance here; they wait for the
// queue report to observe the arc's commit.
func (c *Controller) handleAck(event core.Event) {
	c.mu.Lock()
	workflow := c.workflow
	c.mu.Unlock()

	if workflow != core.WorkflowRunning {
		c.feeder.Ack()
		c.feedNext()
		c.publishStatus()
		return
	}

	// buffer_state is marked Ack even for a Wait-classified line: the
	// device has accepted the command into its buffer, it is only the
	// planner commit (observed via a later queue report) that Wait is
	// still waiting on.
	c.mu.Lock()
	c.bufferState = BufferAck
	mode := c.senderMode
	ready := mode != ModeWait && c.plannerQueueStatus == QueueReady && c.qrState == QROk
	if ready {
		c.qrState = QRUnknown
	}
	c.mu.Unlock()

	if ready {
		if err := c.sender.Ack(); err == nil {
			if c.metrics != nil {
				c.metrics.IncLinesAcked(c.opts.Port, "tinyg2")
			}
			c.sendNext()
		}
	}

	c.publishStatus()
}

// handleStatusReport applies a belt-and-braces advance for builds that
// elide an explicit "r" footer: an "sr" report naming a line at or behind
// the current cursor, while the planner is already known ready, is
// treated as an implicit ack.
func (c *Controller) handleStatusReport(event core.Event) {
	status := c.sender.Status()

	c.mu.Lock()
	ready := c.workflow == core.WorkflowRunning &&
		c.plannerQueueStatus == QueueReady && c.qrState == QROk &&
		event.LineNum <= status.LineNum
	if ready {
		c.qrState = QRUnknown
	}
	c.mu.Unlock()

	if ready {
		if err := c.sender.Ack(); err == nil {
			if c.metrics != nil {
				c.metrics.IncLinesAcked(c.opts.Port, "tinyg2")
			}
			c.sendNext()
		}
	}

	c.mux.Broadcast("serialport:read", event.Raw)
	c.publishStatus()
}

// handleFooterError applies a non-zero "f" status code: the offending
// line is forwarded with context and, while running, the erroring line is
// marked acknowledged so the next queue report with headroom advances the
// job past it. The ad-hoc feeder is advanced unless the planner queue was
// already blocked.
func (c *Controller) handleFooterError(event core.Event) {
	c.mu.Lock()
	workflow := c.workflow
	wasBlocked := c.plannerQueueStatus == QueueBlocked
	if workflow == core.WorkflowRunning {
		// An error footer is still the device's response to the in-flight
		// line; mark it accepted so the next queue report can advance past
		// the rejected line rather than stalling the job.
		c.bufferState = BufferAck
	}
	c.mu.Unlock()

	if workflow == core.WorkflowIdle {
		c.mux.Broadcast("serialport:read", event.Raw)
		return
	}

	status := c.sender.Status()
	if line, ok := c.sender.LineAt(status.Received); ok {
		c.mux.Broadcast("serialport:read", fmt.Sprintf("> %s", line))
	}
	c.mux.Broadcast("serialport:read", fmt.Sprintf("error=%d, line=%d", event.StatusCode, status.Received+1))
	if c.metrics != nil {
		c.metrics.IncFirmwareErrors(c.opts.Port, "tinyg2")
	}

	if !wasBlocked {
		c.feeder.Ack()
		c.feedNext()
	}

	c.publishStatus()
}

func (c *Controller) publishStatus() {
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
		c.metrics.SetFeederQueued(c.opts.Port, "tinyg2", c.feeder.Status().Queued)
	}

	if state, ok := c.parser.State().(*State); ok {
		c.mu.Lock()
		changed := c.lastState != any(state)
		c.lastState = state
		c.mu.Unlock()
		if changed && state.Raw != "" {
			c.mux.Broadcast("TinyG2:state", state.Raw)
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
		c.metrics.RecordWorkflowTransition(c.opts.Port, "tinyg2", prev.String(), next.String())
	}
}

// -------------------------------------------------------------------------
// Writes
// -------------------------------------------------------------------------

func (c *Controller) writeLine(s string) error {
	return c.port.Write([]byte(s + "\n"))
}

func (c *Controller) writeLineLogged(s string) {
	if err := c.writeLine(s); err != nil {
		c.logger.Warn("write failed", slog.String("line", s), slog.String("error", err.Error()))
	}
}

// sendNext emits the next job line, if the sender has one available,
// framed with its line number. A NoQr-classified line is immediately
// followed by an explicit queue-report poll, since it generates no
// planner motion of its own to report against.
func (c *Controller) sendNext() {
	line, lineNum, ok := c.sender.Next()
	if !ok {
		return
	}

	mode := classifyLine(line)
	c.mu.Lock()
	c.senderMode = mode
	c.mu.Unlock()

	if err := c.writeLine(fmt.Sprintf("N%d %s", lineNum, line)); err != nil {
		c.logger.Warn("sender write failed", slog.String("error", err.Error()))
		return
	}
	if c.metrics != nil {
		c.metrics.IncLinesSent(c.opts.Port, "tinyg2")
	}

	if mode == ModeNoQr {
		c.writeLineLogged(`{"qr":null}`)
	}
}

func (c *Controller) feedNext() {
	item, ok := c.feeder.Next()
	if !ok {
		return
	}

	encoded, err := json.Marshal(item.Line)
	if err != nil {
		c.logger.Warn("feeder line encode failed", slog.String("error", err.Error()))
		return
	}

	if err := c.writeLine(fmt.Sprintf(`{"gc":%s}`, encoded)); err != nil {
		c.logger.Warn("feeder write failed", slog.String("error", err.Error()))
		return
	}

	c.mux.Broadcast("serialport:write", item.Line+"\n")
	if item.Client != nil {
		c.mux.SetLastSentCommand(item.Client, item.Line)
	}
}
