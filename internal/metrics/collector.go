// Package ctrlmetrics exposes Prometheus metrics for the streaming core:
// feeder/sender depth gauges, workflow transition counters, and line and
// firmware-error counters.
package ctrlmetrics

import "github.com/prometheus/client_golang/prometheus"

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "gctrl"
	subsystem = "controller"
)

// Label names for controller metrics.
const (
	labelPort     = "port"
	labelFirmware = "firmware"
	labelFrom     = "from_state"
	labelTo       = "to_state"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Controller Metrics
// -------------------------------------------------------------------------

// Collector holds all streaming-core Prometheus metrics.
//
//   - FeederQueued/SenderBytesInFlight track per-port pacing state.
//   - LinesSent/LinesAcked count streamed job progress.
//   - WorkflowTransitions records idle/running/paused changes for alerting.
//   - FirmwareErrors counts device-reported errors per port.
type Collector struct {
	// FeederQueued tracks the number of ad-hoc commands currently queued
	// per port.
	FeederQueued *prometheus.GaugeVec

	// SenderBytesInFlight tracks bytes resident in the device receive
	// buffer per port (Grbl family only; the TinyG2 controller never sets it).
	SenderBytesInFlight *prometheus.GaugeVec

	// LinesSent counts G-code lines written to the device per port.
	LinesSent *prometheus.CounterVec

	// LinesAcked counts G-code lines acknowledged by the device per port.
	LinesAcked *prometheus.CounterVec

	// FirmwareErrors counts device-reported line errors per port.
	FirmwareErrors *prometheus.CounterVec

	// WorkflowTransitions counts workflow state transitions. Each counter
	// is labeled with the old state and new state.
	WorkflowTransitions *prometheus.CounterVec
}

// NewCollector creates a Collector with all metrics registered against the
// provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.FeederQueued,
		c.SenderBytesInFlight,
		c.LinesSent,
		c.LinesAcked,
		c.FirmwareErrors,
		c.WorkflowTransitions,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	portLabels := []string{labelPort, labelFirmware}
	transitionLabels := []string{labelPort, labelFirmware, labelFrom, labelTo}

	return &Collector{
		FeederQueued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "feeder_queued",
			Help:      "Number of ad-hoc commands currently queued in the feeder.",
		}, portLabels),

		SenderBytesInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sender_bytes_in_flight",
			Help:      "Bytes currently resident in the device receive buffer.",
		}, portLabels),

		LinesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lines_sent_total",
			Help:      "Total G-code lines written to the device.",
		}, portLabels),

		LinesAcked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lines_acked_total",
			Help:      "Total G-code lines acknowledged by the device.",
		}, portLabels),

		FirmwareErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "firmware_errors_total",
			Help:      "Total device-reported line errors.",
		}, portLabels),

		WorkflowTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workflow_transitions_total",
			Help:      "Total workflow state transitions (Idle/Running/Paused).",
		}, transitionLabels),
	}
}

// -------------------------------------------------------------------------
// Feeder/Sender Gauges
// -------------------------------------------------------------------------

// SetFeederQueued sets the feeder queue depth gauge for port.
func (c *Collector) SetFeederQueued(port, firmware string, n int) {
	c.FeederQueued.WithLabelValues(port, firmware).Set(float64(n))
}

// SetSenderBytesInFlight sets the sender byte-window gauge for port.
func (c *Collector) SetSenderBytesInFlight(port, firmware string, n int) {
	c.SenderBytesInFlight.WithLabelValues(port, firmware).Set(float64(n))
}

// -------------------------------------------------------------------------
// Line Counters
// -------------------------------------------------------------------------

// IncLinesSent increments the lines-sent counter for port.
func (c *Collector) IncLinesSent(port, firmware string) {
	c.LinesSent.WithLabelValues(port, firmware).Inc()
}

// IncLinesAcked increments the lines-acked counter for port.
func (c *Collector) IncLinesAcked(port, firmware string) {
	c.LinesAcked.WithLabelValues(port, firmware).Inc()
}

// IncFirmwareErrors increments the firmware-error counter for port.
func (c *Collector) IncFirmwareErrors(port, firmware string) {
	c.FirmwareErrors.WithLabelValues(port, firmware).Inc()
}

// -------------------------------------------------------------------------
// Workflow Transitions
// -------------------------------------------------------------------------

// RecordWorkflowTransition increments the workflow transition counter with
// the old and new state labels.
func (c *Collector) RecordWorkflowTransition(port, firmware, from, to string) {
	c.WorkflowTransitions.WithLabelValues(port, firmware, from, to).Inc()
}
