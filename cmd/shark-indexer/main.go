// Command shark-indexer runs the Ergo Shark Indexer: the ingestion
// pipeline by default, plus reset-db and benchmark subcommands. Wired
// the way cmd/kcn/main.go assembles a urfave/cli app over a shared flag
// set, trimmed to this module's much smaller surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/shark-indexer/indexer/internal/api"
	"github.com/shark-indexer/indexer/internal/config"
	"github.com/shark-indexer/indexer/internal/events"
	"github.com/shark-indexer/indexer/internal/log"
	"github.com/shark-indexer/indexer/internal/metrics"
	"github.com/shark-indexer/indexer/internal/node"
	"github.com/shark-indexer/indexer/internal/pipeline"
	"github.com/shark-indexer/indexer/internal/store"
)

var logger = log.NewModuleLogger(log.CmdIndexer)

var (
	app = cli.NewApp()

	apiPortFlag = cli.IntFlag{Name: "api-port", EnvVar: "API_PORT", Value: 8000, Usage: "port for the read API HTTP server"}

	metricsPortFlag = cli.IntFlag{Name: "metrics-port", EnvVar: "METRICS_PORT", Value: 9100, Usage: "port for the /metrics HTTP server"}

	kafkaBrokersFlag = cli.StringSliceFlag{Name: "kafka-broker", EnvVar: "KAFKA_BROKERS", Usage: "kafka broker address; repeatable. If unset, event publication is disabled"}

	benchStartFlag = cli.Uint64Flag{Name: "start", Value: 1, Usage: "starting block height for the benchmark"}
	benchCountFlag = cli.Uint64Flag{Name: "count", Value: 100, Usage: "number of blocks to process in the benchmark"}
	benchModeFlag  = cli.StringFlag{Name: "mode", Value: "compare", Usage: "one of: sequential, parallel, compare"}
)

func init() {
	app.Name = "shark-indexer"
	app.Usage = "Ergo blockchain indexer"
	app.Flags = append(config.Flags, apiPortFlag, metricsPortFlag, kafkaBrokersFlag)
	app.Action = runAction
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run the ingestion pipeline and read API (default)",
			Action: runAction,
		},
		{
			Name:   "reset-db",
			Usage:  "drop and recreate the schema, then exit",
			Action: resetDBAction,
		},
		{
			Name:   "benchmark",
			Usage:  "benchmark the ingestion pipeline against a live node",
			Flags:  []cli.Flag{benchStartFlag, benchCountFlag, benchModeFlag},
			Action: benchmarkAction,
		},
	}
	sort.Sort(cli.FlagsByName(app.Flags))
}

func main() {
	if err := app.Run(os.Args); err != nil {
		logger.Crit("shark-indexer exited with error", "err", err)
	}
}

func buildComponents(ctx *cli.Context) (*config.Config, *node.Client, *store.Store, *metrics.Registry, *events.Publisher, error) {
	cfg := config.FromCLI(ctx)

	nc := node.New(cfg.Node, cfg.Redis)

	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	reg := metrics.NewRegistry()

	var pub *events.Publisher
	if brokers := ctx.GlobalStringSlice("kafka-broker"); len(brokers) > 0 {
		pub, err = events.New(brokers)
		if err != nil {
			st.Close()
			return nil, nil, nil, nil, nil, fmt.Errorf("start kafka publisher: %w", err)
		}
	}

	return cfg, nc, st, reg, pub, nil
}

func runAction(ctx *cli.Context) error {
	cfg, nc, st, reg, pub, err := buildComponents(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer pub.Close()

	if cfg.Indexer.ResetDB {
		logger.Warn("reset-db requested via run flags, dropping and recreating schema")
		if err := st.Reset(); err != nil {
			return fmt.Errorf("reset schema: %w", err)
		}
	} else if err := st.Migrate(); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	metrics.Serve(ctx.GlobalInt("metrics-port"))

	p := pipeline.New(nc, st, cfg.Indexer, reg, pub)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		p.Stop()
		cancel()
	}()

	go serveAPI(st, ctx.GlobalInt("api-port"))

	logger.Info("starting ingestion pipeline")
	return p.Run(runCtx)
}

func serveAPI(st *store.Store, port int) {
	srv := api.NewServer(st.DB())
	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting read API", "addr", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		logger.Error("read API server stopped", "err", err)
	}
}

func resetDBAction(ctx *cli.Context) error {
	cfg := config.FromCLI(ctx)
	st, err := store.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	logger.Warn("dropping and recreating schema")
	return st.Reset()
}

func benchmarkAction(ctx *cli.Context) error {
	cfg, nc, st, reg, pub, err := buildComponents(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer pub.Close()

	if err := st.Migrate(); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	start := ctx.Uint64("start")
	count := ctx.Uint64("count")
	mode := ctx.String("mode")
	bgCtx := context.Background()

	switch mode {
	case "sequential":
		cfg.Indexer.ParallelMode = false
		result, err := pipeline.RunBenchmark(bgCtx, nc, st, cfg.Indexer, reg, start, count, "sequential")
		if err != nil {
			return err
		}
		logger.Info("sequential benchmark complete", "duration", result.Duration, "blocksPerSecond", result.BlocksPerSecond)
	case "parallel":
		cfg.Indexer.ParallelMode = true
		result, err := pipeline.RunBenchmark(bgCtx, nc, st, cfg.Indexer, reg, start, count, "parallel")
		if err != nil {
			return err
		}
		logger.Info("parallel benchmark complete", "duration", result.Duration, "blocksPerSecond", result.BlocksPerSecond)
	default:
		result, err := pipeline.CompareBenchmarks(bgCtx, nc, st, cfg.Indexer, reg, start, count)
		if err != nil {
			return err
		}
		logger.Info("benchmark comparison complete",
			"sequentialDuration", result.Sequential.Duration,
			"parallelDuration", result.Parallel.Duration,
			"speedup", result.Speedup)
	}
	return nil
}
