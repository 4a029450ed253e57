package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cncbridge/gctrl/internal/config"
	"github.com/cncbridge/gctrl/internal/core"
	"github.com/cncbridge/gctrl/internal/grbl"
	ctrlmetrics "github.com/cncbridge/gctrl/internal/metrics"
	"github.com/cncbridge/gctrl/internal/tinyg2"
)

// pollInterval is how often stream checks sender progress. It is
// independent of (and slightly finer than) the controllers' own 250ms query
// timer -- this is an observer, not a participant in flow control.
const pollInterval = 200 * time.Millisecond

var (
	errStreamTimeout = errors.New("stream: timed out waiting for job completion")
	errMissingPort   = errors.New("stream: --port is required")
	errMissingFile   = errors.New("stream: a G-code file path argument is required")
)

func streamCmd() *cobra.Command {
	var (
		port     string
		firmware string
		baud     int
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stream <file>",
		Short: "Open one port, load a G-code file, stream it to completion, and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			if port == "" {
				return errMissingPort
			}
			if args[0] == "" {
				return errMissingFile
			}
			return runStream(cc.Context(), streamOptions{
				configPath: configPath,
				port:       port,
				firmware:   firmware,
				baud:       baud,
				file:       args[0],
				timeout:    timeout,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&port, "port", "", "serial device path (required)")
	flags.StringVar(&firmware, "firmware", "grbl", "controller firmware family: grbl or tinyg2")
	flags.IntVar(&baud, "baud", 0, "baud rate override (0 uses config/default)")
	flags.DurationVar(&timeout, "timeout", 10*time.Minute, "maximum time to wait for job completion")

	return cmd
}

type streamOptions struct {
	configPath string
	port       string
	firmware   string
	baud       int
	file       string
	timeout    time.Duration
}

// runStream opens a single controller, loads a file as the job, starts it,
// and polls sender progress to completion -- an end-to-end exercise of the
// load/start/sender-advance/close path without a bundled client transport.
func runStream(parent context.Context, opts streamOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := newLogger(cfg.Log)
	macros := loadMacroStore(cfg.Macros, logger)
	collector := ctrlmetrics.NewCollector(prometheus.NewRegistry())

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl, err := buildController(ctx, config.PortConfig{
		Port:     opts.port,
		BaudRate: opts.baud,
		Firmware: opts.firmware,
	}, cfg, collector, macros, logger)
	if err != nil {
		return fmt.Errorf("open %s: %w", opts.port, err)
	}
	defer ctrl.Close()

	client := newLogClient("stream", logger)
	ctrl.AddConnection(client)
	defer ctrl.RemoveConnection(client)

	result, err := loadJob(ctrl, client, opts.file)
	if err != nil {
		return err
	}

	logger.Info("job loaded", slog.String("name", result.Name), slog.Int("lines", len(core.SplitLines(result.Gcode))))

	ctrl.Command(core.Command{Kind: core.CmdStart})

	return waitForCompletion(ctx, ctrl, opts.timeout, logger)
}

// loadJob issues a CmdLoadFile and blocks for its callback.
func loadJob(ctrl portController, client core.ClientHandle, path string) (core.LoadResult, error) {
	done := make(chan core.LoadResult, 1)
	ctrl.Command(core.Command{
		Kind:     core.CmdLoadFile,
		Client:   client,
		Path:     path,
		Callback: func(r core.LoadResult) { done <- r },
	})

	result := <-done
	if result.Err != nil {
		return core.LoadResult{}, fmt.Errorf("load %s: %w", path, result.Err)
	}
	return result, nil
}

// waitForCompletion polls the controller's sender status until every line
// has been acknowledged, the context is cancelled, or timeout elapses.
func waitForCompletion(ctx context.Context, ctrl portController, timeout time.Duration, logger *slog.Logger) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errStreamTimeout
		case <-ticker.C:
			sent, received, total := senderProgress(ctrl)
			if total > 0 && received >= total {
				logger.Info("job complete", slog.Int("lines", total))
				return nil
			}
			logger.Debug("job progress", slog.Int("sent", sent), slog.Int("received", received), slog.Int("total", total))
		}
	}
}

// senderProgress reads the sent/received/total triple from whichever
// firmware-specific sender status shape the controller exposes.
func senderProgress(ctrl portController) (sent, received, total int) {
	switch c := ctrl.(type) {
	case *grbl.Controller:
		s := c.SenderStatus()
		return s.Sent, s.Received, s.Total
	case *tinyg2.Controller:
		s := c.SenderStatus()
		return s.Sent, s.Received, s.Total
	default:
		return 0, 0, 0
	}
}
