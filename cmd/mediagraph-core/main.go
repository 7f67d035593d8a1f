package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/alxayo/mediagraph-core/internal/config"
	"github.com/alxayo/mediagraph-core/internal/controlloop"
	"github.com/alxayo/mediagraph-core/internal/dataloop"
	"github.com/alxayo/mediagraph-core/internal/graph"
	"github.com/alxayo/mediagraph-core/internal/logger"
	"github.com/alxayo/mediagraph-core/internal/metrics"
)

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		// the flag package prints its own parse errors; an invalid
		// -log-level value exits here without a message
		os.Exit(2)
	}
	if flags.showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	if flags.socketName != "" {
		cfg.SocketName = flags.socketName
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.metricsAddr != "" {
		cfg.MetricsAddr = flags.metricsAddr
	}

	logger.Init()
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.LogLevel)
	}
	log := logger.Logger().With("component", "cli")

	controlLoop := controlloop.New()
	dataLoop := dataloop.New()

	core := graph.NewCore(controlLoop, log)
	core.Data = dataLoop
	core.IdleTimeout = cfg.IdleTimeout
	core.MaxBuffers = cfg.MaxBuffers
	controlLoop.AddQueue(core.Queue)

	var m *metrics.Metrics
	var metricsServer *metrics.Server
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		metricsServer = metrics.NewServer(cfg.MetricsAddr, m)
	}

	server := NewServer(core, m, log)

	var g errgroup.Group
	g.Go(controlLoop.Run)
	g.Go(dataLoop.Run)

	if err := server.Start(cfg.SocketName); err != nil {
		log.Error("failed to start native socket server", "error", err)
		controlLoop.Stop()
		dataLoop.Stop()
		os.Exit(1)
	}
	log.Info("mediagraph-core started", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsServer != nil {
		g.Go(func() error { return metricsServer.Run(ctx) })
		log.Info("metrics listening", "addr", cfg.MetricsAddr)
	}

	stopWatch := watchRuntimeDir(log)
	defer stopWatch()

	<-ctx.Done()
	log.Info("shutdown signal received")

	var shutdownErr *multierror.Error
	if err := server.Stop(); err != nil {
		shutdownErr = multierror.Append(shutdownErr, fmt.Errorf("native server stop: %w", err))
	}
	controlLoop.Stop()
	dataLoop.Stop()
	if err := g.Wait(); err != nil {
		shutdownErr = multierror.Append(shutdownErr, err)
	}

	if err := shutdownErr.ErrorOrNil(); err != nil {
		log.Error("shutdown completed with errors", "error", err)
		os.Exit(1)
	}
	log.Info("mediagraph-core stopped cleanly")
}
