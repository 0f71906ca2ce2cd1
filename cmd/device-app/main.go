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
)

const defaultConfigPath = "configs/config.yaml"

// newLogger is replaced in tests to observe the log closer
var newLogger = logging.New

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code
func run(args []string) int {
	flags := flag.NewFlagSet("device-app", flag.ContinueOnError)
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

	registry, err := deviceapp.NewServer(deviceapp.ServerConfig{
		BindAddress: cfg.Registry.BindAddress,
		Port:        cfg.Registry.UDPPort,
		Apps:        cfg.Registry.Apps,
	}, logger)
	if err != nil {
		logger.Error("Failed to create device app registry", slog.String("error", err.Error()))
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry.Start()
	<-ctx.Done()

	if err := registry.Stop(); err != nil {
		logger.Error("Error stopping device app registry", slog.String("error", err.Error()))
	}

	stats := registry.GetStatistics()
	logger.Info("Device app registry stopped",
		slog.Uint64("registrations", stats.Registrations),
		slog.Uint64("refusals", stats.Refusals),
		slog.Uint64("deregistrations", stats.Deregistrations),
	)

	return 0
}
