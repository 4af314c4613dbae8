// Package pipeline implements the ingestion pipeline: the outer control
// loop that drives both the sequential and parallel ingestion paths,
// reorg detection and recovery, and the mini-batch processor pool.
// Grounded in the producer/consumer shape of
// datasync/chaindatafetcher/chaindata_fetcher.go, generalized from a
// local chain subscription to a polled HTTP node.
package pipeline

import (
	"context"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/shark-indexer/indexer/internal/config"
	"github.com/shark-indexer/indexer/internal/events"
	"github.com/shark-indexer/indexer/internal/log"
	"github.com/shark-indexer/indexer/internal/metrics"
	"github.com/shark-indexer/indexer/internal/node"
	"github.com/shark-indexer/indexer/internal/store"
	"github.com/shark-indexer/indexer/internal/syncstatus"
)

var controlLogger = log.NewModuleLogger(log.Pipeline)

// Pipeline owns the long-running control loop.
type Pipeline struct {
	nc   *node.Client
	st   *store.Store
	cfg  config.IndexerConfig
	reg  *metrics.Registry
	pub  *events.Publisher // nil when Kafka publication is disabled

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Pipeline ready to Run. pub may be nil, in which case
// event publication is a no-op.
func New(nc *node.Client, st *store.Store, cfg config.IndexerConfig, reg *metrics.Registry, pub *events.Publisher) *Pipeline {
	return &Pipeline{
		nc:     nc,
		st:     st,
		cfg:    cfg,
		reg:    reg,
		pub:    pub,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Stop requests a graceful shutdown and blocks until the control loop
// has exited: every worker observes shutdown deterministically, and
// current work finishes before the process exits.
func (p *Pipeline) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

// Run executes the control loop until Stop is called or ctx is
// cancelled. Each tick:
//  1. refresh target_height from the node
//  2. detect and recover from a reorg, if the stored tip disagrees with
//     the node's view
//  3. if current_height >= target_height, sleep IdlePollInterval and loop
//  4. otherwise compute a window and dispatch to the sequential or
//     parallel path depending on cfg.ParallelMode and remaining depth
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.doneCh)

	for {
		select {
		case <-p.stopCh:
			controlLogger.Info("pipeline stop requested")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := p.tick(ctx); err != nil {
			controlLogger.Error("tick failed", "err", err)
			if !sleepOrStop(p.stopCh, ctx, 5*time.Second) {
				return nil
			}
			continue
		}
	}
}

func (p *Pipeline) tick(ctx context.Context) error {
	target, err := p.nc.GetCurrentHeight(ctx)
	if err != nil {
		return err
	}

	var current uint64
	var reorged bool

	err = p.st.WithSession(func(tx *gorm.DB) error {
		status, err := syncstatus.Load(tx)
		if err != nil {
			return err
		}
		current = status.CurrentHeight
		if err := syncstatus.SetTarget(tx, target); err != nil {
			return err
		}
		reorged, err = detectReorg(ctx, p.nc, tx, current)
		return err
	})
	if err != nil {
		return err
	}

	var reorgHappened bool
	var reorgDepth uint64
	if reorged {
		forkPoint, err := recoverReorg(ctx, p.nc, p.st, current)
		if err != nil {
			return err
		}
		reorgDepth = current - forkPoint
		current = forkPoint
		reorgHappened = true
	}

	if reorgHappened {
		p.reg.ReorgsHandled.Inc()
		p.reg.ReorgDepth.Observe(float64(reorgDepth))
		controlLogger.Warn("reorg recovered", "forkHeight", current, "depth", reorgDepth)
		p.pub.PublishReorgHandled(events.ReorgHandled{
			ForkHeight: current, PreviousHeight: current + reorgDepth,
			Depth: reorgDepth, Timestamp: time.Now().Unix(),
		})
	}
	p.reg.CurrentHeight.Set(float64(current))
	p.reg.TargetHeight.Set(float64(target))

	if current >= target {
		if err := p.st.WithSession(func(tx *gorm.DB) error { return syncstatus.SetSyncing(tx, false) }); err != nil {
			controlLogger.Warn("failed to mark idle", "err", err)
		}
		return waitOrStop(p.stopCh, ctx, p.cfg.IdlePollInterval)
	}
	if err := p.st.WithSession(func(tx *gorm.DB) error { return syncstatus.SetSyncing(tx, true) }); err != nil {
		controlLogger.Warn("failed to mark syncing", "err", err)
	}

	remaining := target - current
	batchSize := uint64(p.cfg.BatchSize)
	if batchSize == 0 {
		batchSize = 50
	}
	if remaining > 1000 {
		batchSize *= 2 // catch-up windows double in size once the gap exceeds 1000 blocks
	}
	windowEnd := current + batchSize
	if windowEnd > target {
		windowEnd = target
	}

	if !p.cfg.ParallelMode {
		return p.runSequential(ctx, current+1, windowEnd)
	}
	return p.runParallel(ctx, current+1, windowEnd)
}

// runSequential fetches and commits one block at a time, each through
// its own transaction, advancing the cursor after every block.
func (p *Pipeline) runSequential(ctx context.Context, from, to uint64) error {
	for h := from; h <= to; h++ {
		blocks, err := p.nc.GetBlocksInRange(ctx, h, h, 1, p.cfg.IdlePollInterval)
		if err != nil {
			return err
		}
		if len(blocks) == 0 {
			return nil // chain tip reached mid-window
		}
		if err := commitSolo(p.st, blocks[0], p.reg, p.pub, p.cfg.BulkInsert); err != nil {
			return err
		}
	}
	return nil
}

// runParallel runs a sequential prefix of cfg.SequentialSteps blocks (so
// the ordering guard always has a durable parent to anchor against
// before the pipelined tail starts), followed by a fetcher pool feeding
// a bounded queue drained by a processor pool that mini-batches and
// flushes.
func (p *Pipeline) runParallel(ctx context.Context, from, to uint64) error {
	prefixEnd := from - 1 + uint64(p.cfg.SequentialSteps)
	if prefixEnd > to {
		prefixEnd = to
	}
	if prefixEnd >= from {
		if err := p.runSequential(ctx, from, prefixEnd); err != nil {
			return err
		}
	}
	if prefixEnd >= to {
		return nil
	}

	tailFrom := prefixEnd + 1
	q := newHeightQueue(p.cfg.BatchSize * 2)
	shared := newProcessorShared(prefixEnd)

	errCh := make(chan error, 1)
	go func() {
		err := runFetchers(ctx, p.nc, q, heightRange{from: tailFrom, to: to}, p.cfg, p.cfg.IdlePollInterval)
		q.close()
		errCh <- err
	}()

	runProcessors(p.st, q, p.cfg, shared, p.reg, p.pub)
	return <-errCh
}

func waitOrStop(stopCh <-chan struct{}, ctx context.Context, d time.Duration) error {
	select {
	case <-stopCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func sleepOrStop(stopCh <-chan struct{}, ctx context.Context, d time.Duration) bool {
	select {
	case <-stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
