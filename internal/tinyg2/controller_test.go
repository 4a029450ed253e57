package tinyg2_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"testing/synctest"
	"time"

	"github.com/cncbridge/gctrl/internal/core"
	"github.com/cncbridge/gctrl/internal/tinyg2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T, port *fakeSerialPort) *tinyg2.Controller {
	t.Helper()
	ctrl, err := tinyg2.New(context.Background(), core.Options{Port: "/dev/ttyACM0"}, tinyg2.Config{
		Port:   port,
		Logger: testLogger(),
	}, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })
	return ctrl
}

func settle() {
	synctest.Wait()
}

func TestControllerInitScript(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		port := newFakeSerialPort()
		newTestController(t, port)

		time.Sleep(400 * time.Millisecond)
		settle()

		writes := port.writeStrings()
		if len(writes) == 0 {
			t.Fatal("no init script writes observed")
		}
		if writes[0] != "{\"ej\":1}\n" {
			t.Errorf("writes[0] = %q, want enable-JSON line first", writes[0])
		}
		last := writes[len(writes)-1]
		if last != "?\n" {
			t.Errorf("writes[last] = %q, want the final \"?\" probe", last)
		}
	})
}

// TestControllerArcWait reproduces spec scenario S4.
func TestControllerArcWait(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		port := newFakeSerialPort()
		ctrl := newTestController(t, port)

		time.Sleep(400 * time.Millisecond)
		settle()

		loaded := make(chan core.LoadResult, 1)
		ctrl.Command(core.Command{
			Kind:     core.CmdLoad,
			Name:     "arc",
			Gcode:    "G2 X10 Y10 I5 J0\nG1 X20 Y20\n",
			Callback: func(r core.LoadResult) { loaded <- r },
		})
		settle()
		if res := <-loaded; res.Err != nil {
			t.Fatalf("load: %v", res.Err)
		}

		ctrl.Command(core.Command{Kind: core.CmdStart})
		settle()

		writes := port.writeStrings()
		if len(writes) == 0 || writes[len(writes)-1] != "N1 G2 X10 Y10 I5 J0\n" {
			t.Fatalf("writes = %v, want the arc line framed as N1", writes)
		}

		// A plain qr report with qi!=0 and qo<=qi must not yet commit the arc.
		port.push(`{"qr":16,"qi":1,"qo":0}`)
		settle()
		port.push(`{"r":{"n":1}}`)
		settle()

		status := ctrl.SenderStatus()
		if status.Received != 0 {
			t.Fatalf("Received = %d, want 0 (arc not yet committed)", status.Received)
		}

		// qi==0 commits the arc: sender_mode flips to Run.
		port.push(`{"qr":16,"qi":0,"qo":1}`)
		settle()

		status = ctrl.SenderStatus()
		if status.Received != 1 {
			t.Fatalf("Received = %d, want 1 after the arc commits", status.Received)
		}

		writes = port.writeStrings()
		if writes[len(writes)-1] != "N2 G1 X20 Y20\n" {
			t.Fatalf("writes[last] = %q, want the next line sent", writes[len(writes)-1])
		}
	})
}

// TestControllerNoQrProbe reproduces spec scenario S5.
func TestControllerNoQrProbe(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		port := newFakeSerialPort()
		ctrl := newTestController(t, port)

		time.Sleep(400 * time.Millisecond)
		settle()

		loaded := make(chan core.LoadResult, 1)
		ctrl.Command(core.Command{
			Kind:     core.CmdLoad,
			Name:     "dwell",
			Gcode:    "G4 P0.5\n",
			Callback: func(r core.LoadResult) { loaded <- r },
		})
		settle()
		<-loaded

		ctrl.Command(core.Command{Kind: core.CmdStart})
		settle()

		writes := port.writeStrings()
		want := []string{"N1 G4 P0.5\n", `{"qr":null}` + "\n"}
		if len(writes) < 2 || writes[len(writes)-2] != want[0] || writes[len(writes)-1] != want[1] {
			t.Fatalf("writes tail = %v, want %v", writes[len(writes)-2:], want)
		}
	})
}

// TestControllerFooterErrorContinuesJob checks that a non-zero footer for
// a job line does not stall the stream: the next queue report with
// planner headroom advances past the rejected line.
func TestControllerFooterErrorContinuesJob(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		port := newFakeSerialPort()
		ctrl := newTestController(t, port)

		time.Sleep(400 * time.Millisecond)
		settle()

		loaded := make(chan core.LoadResult, 1)
		ctrl.Command(core.Command{
			Kind:     core.CmdLoad,
			Name:     "job",
			Gcode:    "G1 X1\nG1 X2\n",
			Callback: func(r core.LoadResult) { loaded <- r },
		})
		settle()
		<-loaded

		ctrl.Command(core.Command{Kind: core.CmdStart})
		settle()

		port.push(`{"r":{"n":1},"f":[1,35,0,100]}`)
		settle()
		port.push(`{"qr":16,"qi":0,"qo":0}`)
		settle()

		status := ctrl.SenderStatus()
		if status.Received != 1 {
			t.Fatalf("Received = %d, want 1 (rejected line consumed)", status.Received)
		}
		writes := port.writeStrings()
		if writes[len(writes)-1] != "N2 G1 X2\n" {
			t.Fatalf("writes[last] = %q, want the next line after the error", writes[len(writes)-1])
		}
	})
}

// TestControllerMultiClientBroadcast reproduces spec scenario S6.
func TestControllerMultiClientBroadcast(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		port := newFakeSerialPort()
		ctrl := newTestController(t, port)

		time.Sleep(400 * time.Millisecond)
		settle()

		a := newFakeClientHandle("a")
		b := newFakeClientHandle("b")
		ctrl.AddConnection(a)
		ctrl.AddConnection(b)

		port.push(`{"fb":100.26}`)
		settle()

		for _, client := range []*fakeClientHandle{a, b} {
			found := false
			for _, evt := range client.events() {
				if evt.Event == "serialport:read" {
					found = true
				}
			}
			if !found {
				t.Errorf("client %s never received the broadcast feedback line", client.ID())
			}
		}
	})
}
