// Command fraudlens serves fraud scores over HTTP, scores a transaction
// stream, or scores a bounded batch once, depending on FRAUDLENS_MODE.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crimson-sun/fraudlens/internal/config"
	"github.com/crimson-sun/fraudlens/internal/connector"
	"github.com/crimson-sun/fraudlens/internal/engine"
	"github.com/crimson-sun/fraudlens/internal/engine/artifact"
	"github.com/crimson-sun/fraudlens/internal/engine/dedup"
	"github.com/crimson-sun/fraudlens/internal/health"
	"github.com/crimson-sun/fraudlens/internal/logging"
	"github.com/crimson-sun/fraudlens/internal/metrics"
	"github.com/crimson-sun/fraudlens/internal/output"
	"github.com/crimson-sun/fraudlens/internal/output/realtime"
	"github.com/crimson-sun/fraudlens/internal/pipeline"
	"github.com/crimson-sun/fraudlens/internal/server"
	"github.com/crimson-sun/fraudlens/internal/traces"

	// Register connector implementations.
	_ "github.com/crimson-sun/fraudlens/internal/connector/file"
	_ "github.com/crimson-sun/fraudlens/internal/connector/httpsource"
	_ "github.com/crimson-sun/fraudlens/internal/connector/kafka"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println("fraudlens", config.Version)
		return
	}

	cfg := config.Load()
	logging.Init(cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("fraudlens failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()
	logger.Info("starting fraudlens", "version", config.Version, "mode", cfg.Mode)

	shutdownTraces, err := traces.Init(ctx, cfg.OTelEndpoint, config.Version, logger)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTraces(sctx); err != nil {
			logger.Warn("trace shutdown failed", "error", err)
		}
	}()

	go metrics.StartRuntimeCollector(ctx, 15*time.Second)

	bundle, err := artifact.Load(cfg.Engine.ManifestPath)
	if err != nil {
		return err
	}
	defer bundle.Close()
	metrics.ModelsLoaded.Set(1)
	defer metrics.ModelsLoaded.Set(0)

	eng := engine.NewFromBundle(bundle, engine.WithWorkers(cfg.Engine.BatchWorkers))

	switch cfg.Mode {
	case "serve":
		return serve(ctx, cfg, eng, logger)
	case "stream":
		return stream(ctx, cfg, eng)
	case "score":
		return score(ctx, cfg, eng)
	}
	return fmt.Errorf("unknown mode %q", cfg.Mode)
}

func serve(ctx context.Context, cfg config.Config, eng *engine.Engine, logger *slog.Logger) error {
	verbosity, err := output.ParseVerbosity(cfg.Output.Verbosity)
	if err != nil {
		return err
	}
	hub := realtime.NewHub(logger, verbosity)

	out, err := buildOutputs(cfg.Output)
	if err != nil {
		return err
	}
	defer out.Close()

	reg, closeChecks := healthRegistry(cfg)
	defer closeChecks()

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		Version:         config.Version,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, eng,
		server.WithLogger(logger),
		server.WithHub(hub),
		server.WithOutput(out),
		server.WithHealth(reg),
	)
	return srv.Run(ctx)
}

func stream(ctx context.Context, cfg config.Config, eng *engine.Engine) error {
	p, closeStore, err := newPipeline(cfg, eng)
	if err != nil {
		return err
	}
	defer closeStore()
	defer p.Close()

	slog.Info("streaming", "connector", cfg.Connector.Provider, "endpoint", cfg.Connector.Endpoint)
	err = p.Stream(ctx, connectorConfig(cfg))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func score(ctx context.Context, cfg config.Config, eng *engine.Engine) error {
	p, closeStore, err := newPipeline(cfg, eng)
	if err != nil {
		return err
	}
	defer closeStore()
	defer p.Close()

	res, err := p.Query(ctx, connectorConfig(cfg), connector.QueryParams{
		Limit: cfg.Connector.Limit,
		Idle:  cfg.Connector.Idle,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "fraudlens: scored %d of %d transactions, %d flagged as fraud, %d failed (%.2f ms avg)\n",
		len(res.Results), res.TotalTransactions, res.FraudDetected, res.Failed, res.AvgProcessingTimeMS)
	return nil
}

// newPipeline wires the configured connector, dedup store and outputs. The
// returned func releases the dedup store.
func newPipeline(cfg config.Config, eng *engine.Engine) (*pipeline.Pipeline, func(), error) {
	ctor, err := connector.Get(cfg.Connector.Provider)
	if err != nil {
		return nil, nil, err
	}
	out, err := buildOutputs(cfg.Output)
	if err != nil {
		return nil, nil, err
	}

	opts := []pipeline.Option{pipeline.WithBuffer(cfg.Stream.BufferWindow, cfg.Stream.BufferSize)}
	closeStore := func() {}
	if cfg.Stream.DedupWindow > 0 {
		dc := dedup.Config{Window: cfg.Stream.DedupWindow}
		if len(cfg.Stream.RedisAddrs) > 0 {
			store := dedup.NewRedisStore(cfg.Stream.RedisAddrs)
			dc.Store = store
			closeStore = func() {
				if err := store.Close(); err != nil {
					slog.Warn("dedup store close failed", "error", err)
				}
			}
		}
		opts = append(opts, pipeline.WithDedup(dedup.New(dc)))
	}
	return pipeline.New(ctor(), eng, out, opts...), closeStore, nil
}

func connectorConfig(cfg config.Config) connector.ConnectorConfig {
	return connector.ConnectorConfig{
		Provider: cfg.Connector.Provider,
		Endpoint: cfg.Connector.Endpoint,
		Extra:    cfg.Connector.Extra,
	}
}

// healthRegistry registers a ping for every external dependency the
// server relies on. The returned func closes the probe clients.
func healthRegistry(cfg config.Config) (*health.Registry, func()) {
	reg := health.NewRegistry()
	if len(cfg.Stream.RedisAddrs) == 0 {
		return reg, func() {}
	}
	store := dedup.NewRedisStore(cfg.Stream.RedisAddrs)
	reg.Register("redis", health.FromPing(store.Ping))
	return reg, func() { _ = store.Close() }
}
