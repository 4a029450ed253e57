package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cncbridge/gctrl/internal/config"
	"github.com/cncbridge/gctrl/internal/core"
	"github.com/cncbridge/gctrl/internal/grbl"
	ctrlmetrics "github.com/cncbridge/gctrl/internal/metrics"
	"github.com/cncbridge/gctrl/internal/serialtty"
	"github.com/cncbridge/gctrl/internal/tinyg2"
)

// loadConfig loads configuration from path, or returns config.DefaultConfig()
// if path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}
	return cfg, nil
}

// newLogger builds a structured slog.Logger from the configured level and
// format. There is no dynamic LevelVar since gctrl has no SIGHUP reload path.
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// loadMacroStore loads the YAML-backed macro store at path. A missing or
// unreadable store is not fatal -- loadmacro commands simply fail until one
// is provided -- so the error is logged here and nil is returned.
func loadMacroStore(path string, logger *slog.Logger) core.MacroStore {
	if path == "" {
		return nil
	}
	store, err := core.LoadYAMLMacroStore(path)
	if err != nil {
		logger.Warn("macro store unavailable, loadmacro will fail until one is loaded",
			slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	return store
}

// logClient is a core.ClientHandle that logs every event it receives. gctrl
// has no bundled websocket/IPC client surface, so "serve" and "stream"
// subscribe this in its place to make broadcasts observable.
type logClient struct {
	id     string
	logger *slog.Logger
}

func newLogClient(id string, logger *slog.Logger) *logClient {
	return &logClient{id: id, logger: logger}
}

// ID implements core.ClientHandle.
func (c *logClient) ID() string { return c.id }

// Send implements core.ClientHandle.
func (c *logClient) Send(event string, payload any) {
	c.logger.Debug("event", slog.String("event", event), slog.String("client", c.id), slog.Any("payload", payload))
}

// portController is the common surface commands need from either firmware
// controller, beyond core.Controller's Port/Close: subscribing a client and
// dispatching commands. Firmware-specific sender status is fetched via a
// type switch where needed (stream.go), since the two senders publish
// different status shapes.
type portController interface {
	core.Controller
	AddConnection(core.ClientHandle)
	RemoveConnection(core.ClientHandle)
	Command(core.Command)
}

// buildController constructs the firmware controller named by pc.Firmware,
// wired to a real serialtty.Port, the shared macro store, an OS file
// reader, and the metrics collector.
func buildController(
	ctx context.Context,
	pc config.PortConfig,
	cfg *config.Config,
	collector *ctrlmetrics.Collector,
	macros core.MacroStore,
	logger *slog.Logger,
) (portController, error) {
	opts := core.Options{Port: pc.Port, BaudRate: pc.BaudRate}.WithDefaults()
	port := serialtty.New(pc.Port, opts.BaudRate)

	switch pc.Firmware {
	case "grbl":
		return grbl.New(ctx, opts, grbl.Config{
			Port:    port,
			Macros:  macros,
			Files:   core.OSFileReader{},
			Metrics: collector,
			Logger:  logger,
		}, cfg.Grbl.BufferSize)
	case "tinyg2":
		return tinyg2.New(ctx, opts, tinyg2.Config{
			Port:    port,
			Macros:  macros,
			Files:   core.OSFileReader{},
			Metrics: collector,
			Logger:  logger,
		}, cfg.TinyG2.LowWaterMark)
	default:
		return nil, fmt.Errorf("port %s: %w", pc.Port, config.ErrUnknownFirmware)
	}
}

// newMetricsServer creates the Prometheus metrics HTTP server.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// listenAndServe runs srv until ctx is cancelled or Serve returns a
// non-shutdown error.
func listenAndServe(ctx context.Context, srv *http.Server) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", srv.Addr, err)
	}
	return nil
}
