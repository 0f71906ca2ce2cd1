package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/skypro1111/mec-geofence-alert/internal/config"
	"github.com/skypro1111/mec-geofence-alert/internal/deviceapp"
	"github.com/skypro1111/mec-geofence-alert/internal/logging"
	"github.com/skypro1111/mec-geofence-alert/internal/transport"
	"github.com/skypro1111/mec-geofence-alert/internal/ue"
)

const defaultConfigPath = "configs/config.yaml"

// newLogger is replaced in tests to observe the log closer
var newLogger = logging.New

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code
func run(args []string) int {
	flags := flag.NewFlagSet("ue-app", flag.ContinueOnError)
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

	registryAddr, err := transport.ResolveAddrPort(cfg.UE.RegistryAddress)
	if err != nil {
		logger.Error("Invalid registry address", slog.String("error", err.Error()))
		return 1
	}

	endpoint, err := transport.Listen(cfg.UE.BindAddress, cfg.UE.UDPPort, logger)
	if err != nil {
		logger.Error("Failed to open UE socket", slog.String("error", err.Error()))
		return 1
	}

	registry := deviceapp.NewClient(endpoint, registryAddr, cfg.UE.ReceiveTimeout, logger)

	client, err := ue.NewClient(ue.Config{
		AppName:        cfg.UE.AppName,
		Circle:         cfg.UE.Circle,
		Layout:         cfg.UEAlertLayout(),
		AlertTimeout:   cfg.UE.AlertTimeout,
		ReportInterval: cfg.UE.ReportInterval,
		Trajectory:     cfg.UE.Trajectory,
	}, endpoint, registry, logger)
	if err != nil {
		endpoint.Close()
		logger.Error("Failed to create UE client", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("UE app starting",
		slog.String("app_name", cfg.UE.AppName),
		slog.String("local_address", endpoint.LocalAddr().String()),
		slog.String("registry", registryAddr.String()),
		slog.String("circle", cfg.UE.Circle.String()),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	last, err := client.Run(ctx)

	stats := client.GetStatistics()
	logger.Info("UE app finished",
		slog.String("last_state", last.String()),
		slog.Int("alerts", stats.Alerts),
		slog.Uint64("resends", stats.Resends),
		slog.Uint64("dropped", stats.Dropped),
	)

	if err != nil {
		return 1
	}

	return 0
}
