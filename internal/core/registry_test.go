package core_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cncbridge/gctrl/internal/core"
)

type fakeController struct {
	port   string
	closed bool
}

func (c *fakeController) Port() string { return c.port }

func (c *fakeController) Close() error {
	c.closed = true
	return nil
}

func newTestRegistry() *core.Registry {
	return core.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistryOpenAndGet(t *testing.T) {
	r := newTestRegistry()
	ctrl := &fakeController{port: "/dev/ttyUSB0"}

	got, err := r.Open("/dev/ttyUSB0", func() (core.Controller, error) { return ctrl, nil })
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != ctrl {
		t.Fatal("Open returned a different controller than build produced")
	}

	fromGet, ok := r.Get("/dev/ttyUSB0")
	if !ok || fromGet != ctrl {
		t.Fatalf("Get() = %v, %v, want the opened controller", fromGet, ok)
	}
}

func TestRegistryOpenSupersedesWithoutClose(t *testing.T) {
	r := newTestRegistry()
	first := &fakeController{port: "/dev/ttyUSB0"}
	second := &fakeController{port: "/dev/ttyUSB0"}

	if _, err := r.Open("/dev/ttyUSB0", func() (core.Controller, error) { return first, nil }); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := r.Open("/dev/ttyUSB0", func() (core.Controller, error) { return second, nil }); err != nil {
		t.Fatalf("second Open: %v", err)
	}

	if !first.closed {
		t.Fatal("reopening a port must close the prior controller")
	}

	got, ok := r.Get("/dev/ttyUSB0")
	if !ok || got != second {
		t.Fatal("Get() must return the superseding controller")
	}
}

func TestRegistryCloseIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	ctrl := &fakeController{port: "/dev/ttyUSB0"}
	if _, err := r.Open("/dev/ttyUSB0", func() (core.Controller, error) { return ctrl, nil }); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := r.Close("/dev/ttyUSB0"); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := r.Close("/dev/ttyUSB0"); err != nil {
		t.Fatalf("second Close on already-closed port must be a no-op, got: %v", err)
	}

	if _, ok := r.Get("/dev/ttyUSB0"); ok {
		t.Fatal("Get() after Close should report no controller")
	}
}

func TestRegistryOpenFailurePropagates(t *testing.T) {
	r := newTestRegistry()
	wantErr := errors.New("open failed")

	_, err := r.Open("/dev/ttyUSB0", func() (core.Controller, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("Open() error = %v, want %v", err, wantErr)
	}
	if _, ok := r.Get("/dev/ttyUSB0"); ok {
		t.Fatal("a failed build must not register a controller")
	}
}

func TestRegistryCloseAll(t *testing.T) {
	r := newTestRegistry()
	a := &fakeController{port: "a"}
	b := &fakeController{port: "b"}
	r.Open("a", func() (core.Controller, error) { return a, nil })
	r.Open("b", func() (core.Controller, error) { return b, nil })

	r.CloseAll()

	if !a.closed || !b.closed {
		t.Fatal("CloseAll must close every registered controller")
	}
	if ports := r.Ports(); len(ports) != 0 {
		t.Fatalf("Ports() after CloseAll = %v, want empty", ports)
	}
}
