// Package serialtty is the one concrete core.SerialPort this repository
// ships: a real Linux tty transport, opened O_RDWR|O_NOCTTY and configured
// to 8-N-1 raw mode via termios ioctls.
//
// Everything in internal/core, internal/grbl, and internal/tinyg2 depends
// only on the core.SerialPort interface; this package exists so cmd/gctrl
// has something real to open when pointed at an actual device. Low-level
// setup uses golang.org/x/sys/unix ioctls rather than a third-party serial
// library (see DESIGN.md for why none is pulled in).
package serialtty
