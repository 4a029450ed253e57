package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cncbridge/gctrl/internal/config"
	"github.com/cncbridge/gctrl/internal/core"
	ctrlmetrics "github.com/cncbridge/gctrl/internal/metrics"
)

// shutdownTimeout bounds how long the metrics server is given to drain
// active requests during graceful shutdown.
const shutdownTimeout = 5 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gctrl daemon: auto-open configured ports and serve Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(configPath)
		},
	}
}

// runServe loads configuration, opens every declaratively configured port,
// and serves the Prometheus metrics endpoint until SIGINT/SIGTERM, shutting
// both down together through an errgroup.
func runServe(path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := newLogger(cfg.Log)
	logger.Info("gctrl starting", slog.String("metrics_addr", cfg.Metrics.Addr))

	reg := prometheus.NewRegistry()
	collector := ctrlmetrics.NewCollector(reg)

	registry := core.NewRegistry(logger)
	defer registry.CloseAll()

	macros := loadMacroStore(cfg.Macros, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openConfiguredPorts(ctx, registry, cfg, collector, macros, logger)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
		return listenAndServe(gCtx, metricsSrv)
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")

		registry.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), shutdownTimeout)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gctrl stopped")
	return nil
}

// openConfiguredPorts opens every declarative cfg.Ports entry, logging and
// continuing past individual failures rather than aborting startup.
func openConfiguredPorts(
	ctx context.Context,
	registry *core.Registry,
	cfg *config.Config,
	collector *ctrlmetrics.Collector,
	macros core.MacroStore,
	logger *slog.Logger,
) {
	for _, pc := range cfg.Ports {
		ctrl, err := registry.Open(pc.Port, func() (core.Controller, error) {
			built, buildErr := buildController(ctx, pc, cfg, collector, macros, logger)
			if buildErr != nil {
				return nil, buildErr
			}
			return built, nil
		})
		if err != nil {
			logger.Error("failed to open configured port",
				slog.String("port", pc.Port), slog.String("firmware", pc.Firmware),
				slog.String("error", err.Error()))
			continue
		}

		if pcc, ok := ctrl.(portController); ok {
			pcc.AddConnection(newLogClient(pc.Port, logger))
		}

		logger.Info("port opened", slog.String("port", pc.Port), slog.String("firmware", pc.Firmware))
	}
}
