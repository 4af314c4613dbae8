package pipeline

import (
	"context"
	"time"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/shark-indexer/indexer/internal/config"
	"github.com/shark-indexer/indexer/internal/log"
	"github.com/shark-indexer/indexer/internal/metrics"
	"github.com/shark-indexer/indexer/internal/node"
	"github.com/shark-indexer/indexer/internal/store"
)

var benchmarkLogger = log.NewModuleLogger(log.Pipeline)

// BenchmarkResult reports one timed run of the ingestion path over a
// fixed height range, grounded in the sequential-vs-parallel comparison
// harness of original_source/shark-indexer/benchmark_indexer.py.
type BenchmarkResult struct {
	RunID           string
	Mode            string
	StartHeight     uint64
	BlockCount      uint64
	Duration        time.Duration
	BlocksPerSecond float64
}

// BenchmarkCompareResult pairs a sequential and a parallel run over the
// same range, the way compare_modes did in the original script.
type BenchmarkCompareResult struct {
	Sequential BenchmarkResult
	Parallel   BenchmarkResult
	Speedup    float64
}

// RunBenchmark runs exactly one ingestion pass over [start, start+count-1]
// under cfg and reports its timing. The caller is responsible for running
// against a disposable database or range, since this performs real
// inserts.
func RunBenchmark(ctx context.Context, nc *node.Client, st *store.Store, cfg config.IndexerConfig, reg *metrics.Registry, start, count uint64, mode string) (BenchmarkResult, error) {
	runID, err := uuid.GenerateUUID()
	if err != nil {
		runID = "unknown"
	}

	nodeHeight, err := nc.GetCurrentHeight(ctx)
	if err != nil {
		return BenchmarkResult{}, err
	}
	if start+count > nodeHeight {
		adjusted := nodeHeight - start
		if adjusted < 1 {
			adjusted = 1
		}
		benchmarkLogger.Warn("requested range exceeds node height, adjusting",
			"runID", runID, "nodeHeight", nodeHeight, "requestedEnd", start+count, "adjustedCount", adjusted)
		count = adjusted
	}

	p := New(nc, st, cfg, reg, nil)

	begin := time.Now()
	var runErr error
	if cfg.ParallelMode {
		runErr = p.runParallel(ctx, start, start+count-1)
	} else {
		runErr = p.runSequential(ctx, start, start+count-1)
	}
	duration := time.Since(begin)
	if runErr != nil {
		return BenchmarkResult{}, runErr
	}

	bps := 0.0
	if duration > 0 {
		bps = float64(count) / duration.Seconds()
	}
	result := BenchmarkResult{
		RunID: runID, Mode: mode, StartHeight: start, BlockCount: count,
		Duration: duration, BlocksPerSecond: bps,
	}
	benchmarkLogger.Info("benchmark run complete", "runID", runID, "mode", mode,
		"duration", duration, "blocksPerSecond", bps)
	return result, nil
}

// CompareBenchmarks runs one sequential pass followed by one parallel
// pass over the same range and reports the speedup ratio, mirroring
// compare_modes in the original benchmark script.
func CompareBenchmarks(ctx context.Context, nc *node.Client, st *store.Store, baseCfg config.IndexerConfig, reg *metrics.Registry, start, count uint64) (BenchmarkCompareResult, error) {
	seqCfg := baseCfg
	seqCfg.ParallelMode = false
	seqCfg.BatchSize = 1
	seqCfg.MaxWorkers = 1

	parCfg := baseCfg
	parCfg.ParallelMode = true

	seq, err := RunBenchmark(ctx, nc, st, seqCfg, reg, start, count, "sequential")
	if err != nil {
		return BenchmarkCompareResult{}, err
	}
	par, err := RunBenchmark(ctx, nc, st, parCfg, reg, start, count, "parallel")
	if err != nil {
		return BenchmarkCompareResult{}, err
	}

	speedup := 0.0
	if par.Duration > 0 {
		speedup = seq.Duration.Seconds() / par.Duration.Seconds()
	}
	benchmarkLogger.Info("benchmark comparison", "sequential", seq.Duration, "parallel", par.Duration, "speedup", speedup)
	return BenchmarkCompareResult{Sequential: seq, Parallel: par, Speedup: speedup}, nil
}
