package pipeline

import (
	"context"
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/shark-indexer/indexer/internal/config"
	"github.com/shark-indexer/indexer/internal/log"
	"github.com/shark-indexer/indexer/internal/node"
)

var fetcherLogger = log.NewModuleLogger(log.Pipeline)

var (
	queueDepthGauge  = gometrics.NewRegisteredGauge("pipeline/queueDepth", gometrics.DefaultRegistry)
	fetchErrorsCounter = gometrics.NewRegisteredCounter("pipeline/fetchErrors", gometrics.DefaultRegistry)
)

type heightRange struct{ from, to uint64 }

// runFetchers launches cfg.FetcherWorkers tasks (default 5) that pull
// ranges of cfg.FetchBatchSize (capped at 20) and enqueue blocks into q
// strictly in height order within each range, following the
// producer/consumer shape of chaindata_fetcher.go's sendRequests /
// handleRequest split, but over an HTTP-fetched range rather than a
// local chain subscription.
func runFetchers(ctx context.Context, nc *node.Client, q *heightQueue, window heightRange, cfg config.IndexerConfig, cacheTTL time.Duration) error {
	chunks := make(chan heightRange, (int(window.to-window.from)/cfg.FetchBatchSize)+1)
	for start := window.from; start <= window.to; start += uint64(cfg.FetchBatchSize) {
		end := start + uint64(cfg.FetchBatchSize) - 1
		if end > window.to {
			end = window.to
		}
		chunks <- heightRange{from: start, to: end}
	}
	close(chunks)

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		firstErr error
	)
	workers := cfg.FetcherWorkers
	if workers < 1 {
		workers = 1
	}
	maxNodeConcurrency := cfg.MaxWorkers
	if maxNodeConcurrency <= 0 || maxNodeConcurrency > cfg.BatchSize {
		if cfg.BatchSize > 0 && cfg.BatchSize < 20 {
			maxNodeConcurrency = cfg.BatchSize
		} else {
			maxNodeConcurrency = 20
		}
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range chunks {
				select {
				case <-ctx.Done():
					return
				default:
				}
				blocks, err := nc.GetBlocksInRange(ctx, chunk.from, chunk.to, maxNodeConcurrency, cacheTTL)
				if err != nil {
					fetchErrorsCounter.Inc(1)
					fetcherLogger.Error("range fetch failed", "from", chunk.from, "to", chunk.to, "err", err)
					errOnce.Do(func() { firstErr = err })
					return
				}
				for _, blk := range blocks {
					backpressureSleep(q, cfg.BatchSize)
					select {
					case <-ctx.Done():
						return
					default:
					}
					q.push(blk)
					queueDepthGauge.Update(int64(q.depth()))
				}
			}
		}()
	}
	wg.Wait()
	return firstErr
}
