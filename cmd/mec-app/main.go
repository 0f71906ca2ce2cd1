package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/mec-geofence-alert/internal/alert"
	"github.com/skypro1111/mec-geofence-alert/internal/config"
	"github.com/skypro1111/mec-geofence-alert/internal/location"
	"github.com/skypro1111/mec-geofence-alert/internal/logging"
	"github.com/skypro1111/mec-geofence-alert/internal/mec"
	"github.com/skypro1111/mec-geofence-alert/internal/metrics"
	"github.com/skypro1111/mec-geofence-alert/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "mec-app"
	serviceVersion    = "1.0.0"
)

// newLogger is replaced in tests to observe the log closer
var newLogger = logging.New

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code
func run(args []string) int {
	flags := flag.NewFlagSet("mec-app", flag.ContinueOnError)
	configPath := flags.String("config", defaultConfigPath, "Path to configuration file")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logger, logCloser, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The Location service endpoint comes from the MEC service registry
	// when one is configured
	if cfg.MEC.GetAlertSource() == alert.KindSubscription && cfg.Location.ServiceRegistryURL != "" {
		address, err := location.Discover(ctx, cfg.Location.GetDiscoveryConfig(), logger)
		if err != nil {
			logger.Error("Location service discovery failed", slog.String("error", err.Error()))
			return 1
		}
		cfg.Location.Address = address
	}

	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.MEC.UDPPort),
		slog.String("bind_address", cfg.MEC.BindAddress),
		slog.String("alert_source", cfg.MEC.AlertSource),
		slog.String("alert_layout", cfg.MEC.GetAlertLayout().String()),
		slog.String("location_address", cfg.Location.Address),
		slog.String("log_level", cfg.Logging.Level),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(registry)

	mecServer, err := mec.NewServer(mec.Config{
		BindAddress: cfg.MEC.BindAddress,
		Port:        cfg.MEC.UDPPort,
		Source:      cfg.MEC.GetAlertSource(),
		Subscription: alert.SubscriptionConfig{
			Location:      cfg.Location.GetClientConfig(),
			Template:      cfg.Location.GetSubscriptionTemplate(),
			DeleteOnClose: cfg.Location.DeleteOnLeave,
			Layout:        cfg.MEC.GetAlertLayout(),
		},
		Direct: alert.DirectConfig{
			ReportTimeout: cfg.MEC.ReportTimeout,
			Layout:        cfg.MEC.GetAlertLayout(),
		},
		UEAddress:      cfg.MEC.UEAddress,
		ReceiveTimeout: cfg.MEC.ReceiveTimeout,
		SessionTimeout: cfg.MEC.SessionTimeout,
		HistorySize:    cfg.MEC.HistorySize,
	}, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create MEC app", slog.String("error", err.Error()))
		return 1
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(server.HTTPServerConfig{
			Port:    cfg.HTTP.Port,
			Address: cfg.HTTP.Address,
		}, logger, cfg, mecServer, appMetrics, registry)

		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			return 1
		}
	}

	mecServer.Start()

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", mecServer.Addr().String()),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := mecServer.Stop(); err != nil {
		logger.Error("Error stopping MEC app", slog.String("error", err.Error()))
	}

	stats := mecServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("datagrams", stats.Datagrams),
		slog.Uint64("sessions_completed", stats.SessionsCompleted),
		slog.Uint64("sessions_aborted", stats.SessionsAborted),
		slog.Uint64("sessions_stopped", stats.SessionsStopped),
		slog.Uint64("resend_requests", stats.ResendRequests),
	)

	logger.Info("Service stopped")

	return 0
}
