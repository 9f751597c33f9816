// Package main implements the entry point for skybridge, the bridge between
// a flight simulator's UDP telemetry interface and the Touch Portal desktop
// UI: dynamic states computed from live datarefs, command and dataref-write
// actions, and guarded long-press command relay.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/airdeck/skybridge/catalog"
	"github.com/airdeck/skybridge/component"
	"github.com/airdeck/skybridge/config"
	"github.com/airdeck/skybridge/dataref"
	"github.com/airdeck/skybridge/engine"
	"github.com/airdeck/skybridge/longpress"
	"github.com/airdeck/skybridge/metric"
	"github.com/airdeck/skybridge/mirror"
	"github.com/airdeck/skybridge/touchportal"
	"github.com/airdeck/skybridge/xplane"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "skybridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	level := cliCfg.LogLevel
	if level == "" {
		level = cfg.LogLevel
	}
	logger := setupLogger(level, cliCfg.LogFormat)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	logger.Info("Starting skybridge",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"states_file", cfg.StatesFile)

	eng, err := assemble(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case <-eng.Done():
		logger.Info("Shutdown requested by UI")
	}

	if err := eng.Stop(cliCfg.ShutdownTimeout); err != nil {
		logger.Warn("Shutdown incomplete", "error", err)
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

// assemble builds the full component graph. The engine and the UI client,
// and the engine and the telemetry session, reference each other; the
// session and supervisor callbacks close over the engine variable to break
// the cycles.
func assemble(cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	var metricsRegistry *metric.Registry
	var components []component.Lifecycle

	if cfg.Metrics.Addr != "" {
		metricsRegistry = metric.NewRegistry()
		components = append(components, metric.NewServer(cfg.Metrics.Addr, metricsRegistry, logger))
	}

	mir := mirror.New(cfg.Mirror.URL, cfg.Mirror.SubjectPrefix, logger)
	components = append(components, mir)

	cat := catalog.New(cfg.StatesFile, logger)

	var eng *engine.Engine

	sessionMetrics := xplane.NewMetrics(metricsRegistry)
	session := xplane.NewSession(cfg.XPlane.MaxDatarefs,
		func(path string, value float64) { eng.OnSample(path, value) },
		logger, sessionMetrics)

	registry := dataref.NewRegistry(session, cfg.XPlane.SampleRate,
		logger, dataref.NewMetrics(metricsRegistry))

	bridge := longpress.NewBridge(cat, session, logger)

	client := touchportal.NewClient(cfg.TouchPortal.Host, cfg.TouchPortal.Port,
		cfg.TouchPortal.PluginID, nil, logger)
	components = append(components, client)

	beacon := xplane.NewBeacon(cfg.XPlane.BeaconGroup, cfg.XPlane.BeaconPort, logger)
	supervisor := xplane.NewSupervisor(beacon, session, registry,
		func(p xplane.Phase) { eng.OnPhase(p) },
		cfg.XPlane.ReconnectInterval(), logger, sessionMetrics)
	components = append(components, supervisor)

	eng = engine.New(cat, registry, client, session, bridge, mir,
		components, logger, metricsRegistry)
	client.SetHandler(eng)

	return eng, nil
}
