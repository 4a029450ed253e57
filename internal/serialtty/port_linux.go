//go:build linux

package serialtty

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/cncbridge/gctrl/internal/core"
)

// readBufSize is the bufio.Scanner buffer given to each opened port. Grbl
// and TinyG2 both frame on "\n" and never emit a line anywhere near this
// long; it exists to bound a misbehaving device rather than to size for
// expected traffic.
const readBufSize = 64 * 1024

// Port is a core.SerialPort backed by a real Linux tty device, configured
// 8-N-1 raw when opened.
type Port struct {
	path string
	baud int

	mu     sync.Mutex
	file   *os.File
	open   bool
	events chan core.SerialEvent
}

// New returns a Port for path at baud. Nothing is opened until Open is
// called, keeping construction separate from starting the transport.
func New(path string, baud int) *Port {
	return &Port{path: path, baud: baud}
}

// Open opens the tty device, puts it into 8-N-1 raw mode at the configured
// baud rate, and starts the background reader goroutine. The returned
// channel is closed once the transport has torn down.
func (p *Port) Open(ctx context.Context) (<-chan core.SerialEvent, error) {
	f, err := os.OpenFile(p.path, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p.path, err)
	}

	if err := configureRaw(f, p.baud); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("configure %s at %d baud: %w", p.path, p.baud, err)
	}

	// Clear O_NONBLOCK now that termios is set: normal operation reads
	// blocking lines off the scanner goroutine.
	if err := unix.SetNonblock(int(f.Fd()), false); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("clear O_NONBLOCK on %s: %w", p.path, err)
	}

	events := make(chan core.SerialEvent, 16)

	p.mu.Lock()
	p.file = f
	p.open = true
	p.events = events
	p.mu.Unlock()

	go p.readLoop(ctx, f, events)

	return events, nil
}

// configureRaw puts fd into 8-N-1 raw mode (no echo, no line editing, no
// signal generation) at the requested baud rate via termios ioctls
// (TCGETS/TCSETS) through golang.org/x/sys/unix.
func configureRaw(f *os.File, baud int) error {
	speed, err := termiosSpeed(baud)
	if err != nil {
		return err
	}

	fd := int(f.Fd())

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	// Raw mode as cfmakeraw(3) sets it, plus one stop bit for 8-N-1.
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	t.Cflag &^= unix.CBAUD
	t.Cflag |= speed & unix.CBAUD
	t.Cflag |= unix.CLOCAL | unix.CREAD

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}

	return nil
}

// readLoop scans newline-framed reads off f and forwards them as
// SerialEvent values until the file is closed or the scanner errors.
func (p *Port) readLoop(ctx context.Context, f *os.File, events chan<- core.SerialEvent) {
	defer close(events)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 4096), readBufSize)

	for scanner.Scan() {
		select {
		case events <- core.SerialEvent{Kind: core.SerialData, Line: scanner.Text()}:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		select {
		case events <- core.SerialEvent{Kind: core.SerialError, Err: err}:
		case <-ctx.Done():
		}
		return
	}

	select {
	case events <- core.SerialEvent{Kind: core.SerialDisconnect}:
	case <-ctx.Done():
	}
}

// Write sends raw bytes to the device. Callers decide framing: the
// per-firmware controllers add "\n" themselves except for realtime bytes,
// which are written exactly as given.
func (p *Port) Write(data []byte) error {
	p.mu.Lock()
	f := p.file
	open := p.open
	p.mu.Unlock()

	if !open {
		return core.ErrPortClosed
	}

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", p.path, err)
	}
	return nil
}

// Close releases the tty device. Close is idempotent.
func (p *Port) Close() error {
	p.mu.Lock()
	f := p.file
	open := p.open
	p.open = false
	p.mu.Unlock()

	if !open {
		return nil
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", p.path, err)
	}
	return nil
}

// IsOpen reports whether the transport is currently usable.
func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}
