//go:build linux

package serialtty

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrUnsupportedBaudRate indicates a requested baud rate has no matching
// termios speed constant. Grbl and TinyG2 firmwares only ever advertise a
// handful of standard rates, so the table below is deliberately small
// rather than attempting arbitrary BOTHER-style custom dividers.
var ErrUnsupportedBaudRate = errors.New("unsupported baud rate")

// standardBauds maps the rates actually used by Grbl/Smoothieware/TinyG2
// firmware (core.DefaultBaudRate plus the other values their own docs
// quote) to the termios speed constant golang.org/x/sys/unix exposes.
var standardBauds = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	250000: unix.B250000,
	460800: unix.B460800,
	921600: unix.B921600,
}

// termiosSpeed resolves baud to the termios constant cfsetispeed/
// cfsetospeed expect, or ErrUnsupportedBaudRate if it isn't one of the
// rates firmware actually advertises.
func termiosSpeed(baud int) (uint32, error) {
	speed, ok := standardBauds[baud]
	if !ok {
		return 0, fmt.Errorf("%d: %w", baud, ErrUnsupportedBaudRate)
	}
	return speed, nil
}
