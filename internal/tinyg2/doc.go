// Package tinyg2 drives a g2core/TinyG2 controller over a serial port: the
// JSON init script, the `Nk `-framed send/response sender, and the
// planner-queue/ack gating that paces a job against the device's own
// reports instead of a byte-counted window.
package tinyg2
