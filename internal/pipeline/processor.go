package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jinzhu/gorm"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/shark-indexer/indexer/internal/config"
	"github.com/shark-indexer/indexer/internal/events"
	"github.com/shark-indexer/indexer/internal/log"
	"github.com/shark-indexer/indexer/internal/metrics"
	"github.com/shark-indexer/indexer/internal/node"
	"github.com/shark-indexer/indexer/internal/store"
)

var processorLogger = log.NewModuleLogger(log.Pipeline)

const (
	miniBatchInactivityTimeout = 5 * time.Second
	consecutiveFailureLimit    = 3
)

var (
	checkpointGauge     = gometrics.NewRegisteredGauge("pipeline/checkpoint", gometrics.DefaultRegistry)
	miniBatchSizeGauge  = gometrics.NewRegisteredGauge("pipeline/miniBatchSize", gometrics.DefaultRegistry)
	soloFallbackCounter = gometrics.NewRegisteredCounter("pipeline/soloFallbacks", gometrics.DefaultRegistry)
)

// processorShared is the state every processor worker in a window's
// processor pool consults: the last durable height (so the ordering
// guard can reject a block whose parent context is missing) and the
// level-3 failure cascade flag (3 consecutive mini-batch failures
// switches the pool to individual processing for the remainder of the
// window).
type processorShared struct {
	lastDurable         uint64 // atomic
	consecutiveFailures int32  // atomic
	forceIndividual     int32  // atomic bool
}

func newProcessorShared(lastDurable uint64) *processorShared {
	return &processorShared{lastDurable: lastDurable}
}

func (s *processorShared) durable() uint64 { return atomic.LoadUint64(&s.lastDurable) }

func (s *processorShared) noteDurable(h uint64) {
	for {
		cur := atomic.LoadUint64(&s.lastDurable)
		if h <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&s.lastDurable, cur, h) {
			return
		}
	}
}

func (s *processorShared) individualMode() bool { return atomic.LoadInt32(&s.forceIndividual) == 1 }

func (s *processorShared) noteBatchFailure() {
	if atomic.AddInt32(&s.consecutiveFailures, 1) >= consecutiveFailureLimit {
		atomic.StoreInt32(&s.forceIndividual, 1)
	}
}

func (s *processorShared) resetFailures() {
	atomic.StoreInt32(&s.consecutiveFailures, 0)
}

// runProcessors launches cfg.ProcessorWorkers tasks that drain q,
// accumulating local mini-batches and flushing on size or inactivity,
// subject to the ordering guard and the failure cascade. Returns once q
// is closed and every worker has flushed its tail. pub may be nil.
func runProcessors(st *store.Store, q *heightQueue, cfg config.IndexerConfig, shared *processorShared, reg *metrics.Registry, pub *events.Publisher) {
	var wg sync.WaitGroup
	workers := cfg.ProcessorWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runOneProcessor(st, q, cfg, shared, reg, pub)
		}()
	}
	wg.Wait()
}

func runOneProcessor(st *store.Store, q *heightQueue, cfg config.IndexerConfig, shared *processorShared, reg *metrics.Registry, pub *events.Publisher) {
	processed := make(map[uint64]struct{})
	var miniBatch []*node.RawBlock

	dbBatchSize := cfg.DBBatchSize
	if dbBatchSize < 1 {
		dbBatchSize = 1
	}

	timer := time.NewTimer(miniBatchInactivityTimeout)
	defer timer.Stop()

	for {
		select {
		case blk, ok := <-q.Chan():
			if !ok {
				flushMiniBatch(st, &miniBatch, processed, shared, reg, pub, cfg.BulkInsert)
				return
			}
			admitBlock(st, blk, &miniBatch, processed, shared, dbBatchSize, reg, pub, cfg.BulkInsert)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(miniBatchInactivityTimeout)

		case <-timer.C:
			flushMiniBatch(st, &miniBatch, processed, shared, reg, pub, cfg.BulkInsert)
			timer.Reset(miniBatchInactivityTimeout)
		}
	}
}

// admitBlock implements the ordering guard: a block may only
// join the current mini-batch if its parent context is already
// established, either durably (h <= lastDurable+1) or within this
// processor's own run (h-1 already processed this tick). Otherwise, or
// once the level-3 cascade has forced individual mode, it is committed
// alone via the sequential path immediately.
func admitBlock(st *store.Store, blk *node.RawBlock, miniBatch *[]*node.RawBlock, processed map[uint64]struct{}, shared *processorShared, dbBatchSize int, reg *metrics.Registry, pub *events.Publisher, bulkInsert bool) {
	h := blk.Height
	lastDurable := shared.durable()
	_, parentProcessed := processed[h-1]

	orderable := h <= lastDurable+1 || parentProcessed || h == 1
	if shared.individualMode() || !orderable {
		soloFallbackCounter.Inc(1)
		if err := commitSolo(st, blk, reg, pub, bulkInsert); err != nil {
			processorLogger.Error("solo commit failed, will retry next tick", "height", h, "err", err)
			return
		}
		processed[h] = struct{}{}
		shared.noteDurable(h)
		checkpointGauge.Update(int64(h))
		return
	}

	*miniBatch = append(*miniBatch, blk)
	if len(*miniBatch) >= dbBatchSize {
		flushMiniBatch(st, miniBatch, processed, shared, reg, pub, bulkInsert)
	}
}

func flushMiniBatch(st *store.Store, miniBatch *[]*node.RawBlock, processed map[uint64]struct{}, shared *processorShared, reg *metrics.Registry, pub *events.Publisher, bulkInsert bool) {
	batch := *miniBatch
	*miniBatch = nil
	if len(batch) == 0 {
		return
	}
	miniBatchSizeGauge.Update(int64(len(batch)))

	err := st.WithBatchTransaction(len(batch), func(tx *gorm.DB) error {
		return commitBlocks(tx, batch, bulkInsert)
	})
	if err == nil {
		reg.BatchFlushes.Inc()
		reg.BlocksIndexed.Add(float64(len(batch)))
		shared.resetFailures()
		maxHeight := batch[0].Height
		for _, b := range batch {
			processed[b.Height] = struct{}{}
			if b.Height > maxHeight {
				maxHeight = b.Height
			}
			publishBlockCommitted(pub, b)
		}
		shared.noteDurable(maxHeight)
		checkpointGauge.Update(int64(maxHeight))
		return
	}

	// Level 2 of the failure cascade: discard the mini-batch result and
	// retry its blocks individually through the sequential path.
	reg.BatchFailures.Inc()
	shared.noteBatchFailure()
	processorLogger.Warn("mini-batch flush failed, falling back to solo commits", "size", len(batch), "err", err)
	for _, b := range batch {
		if cerr := commitSolo(st, b, reg, pub, bulkInsert); cerr != nil {
			processorLogger.Error("solo retry after mini-batch failure also failed; will retry next tick", "height", b.Height, "err", cerr)
			continue
		}
		processed[b.Height] = struct{}{}
		shared.noteDurable(b.Height)
		checkpointGauge.Update(int64(b.Height))
	}
}

// commitSolo commits exactly one block through the sequential path,
// used both by the dedicated sequential prefix and as the fallback
// target of the ordering guard and the failure cascade.
func commitSolo(st *store.Store, blk *node.RawBlock, reg *metrics.Registry, pub *events.Publisher, bulkInsert bool) error {
	err := st.WithSession(func(tx *gorm.DB) error {
		return commitBlocks(tx, []*node.RawBlock{blk}, bulkInsert)
	})
	if err != nil {
		reg.ConstraintFails.Inc()
		return err
	}
	reg.BlocksIndexed.Inc()
	reg.CurrentHeight.Set(float64(blk.Height))
	publishBlockCommitted(pub, blk)
	return nil
}

func publishBlockCommitted(pub *events.Publisher, blk *node.RawBlock) {
	pub.PublishBlockCommitted(events.BlockCommitted{
		Height:    blk.Height,
		BlockID:   blk.Header.ID,
		TxCount:   len(blk.BlockTransactions.Transactions),
		Timestamp: int64(blk.Header.Timestamp / 1000),
	})
}
