package pipeline

import (
	"context"

	"github.com/jinzhu/gorm"

	"github.com/shark-indexer/indexer/internal/log"
	"github.com/shark-indexer/indexer/internal/node"
	"github.com/shark-indexer/indexer/internal/store"
	"github.com/shark-indexer/indexer/internal/syncstatus"
)

var reorgLogger = log.NewModuleLogger(log.Pipeline)

// detectReorg compares the stored block at currentHeight against the
// node's current view and reports whether they disagree. Run at the top
// of each tick, after refreshing target_height and before advancing.
func detectReorg(ctx context.Context, nc *node.Client, db *gorm.DB, currentHeight uint64) (bool, error) {
	if currentHeight == 0 {
		return false, nil
	}
	var stored store.Block
	if err := db.Where("height = ? AND main_chain = ?", currentHeight, true).First(&stored).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, err
	}
	ids, err := nc.GetBlockIdsAtHeight(ctx, currentHeight, 0)
	if err != nil {
		return false, err
	}
	if len(ids) == 0 {
		return false, nil
	}
	return ids[0] != stored.ID, nil
}

// recoverReorg walks back from h-1 toward lower heights until it finds
// the highest h* where the node and the store agree, cascade-deletes
// every stored block above h*, resets the cursor, and returns h*. The
// chosen discipline is cascade delete, not a soft main_chain=false flag.
func recoverReorg(ctx context.Context, nc *node.Client, st *store.Store, h uint64) (uint64, error) {
	var forkPoint uint64
	err := st.WithSession(func(tx *gorm.DB) error {
		height := h - 1
		for height > 0 {
			var stored store.Block
			err := tx.Where("height = ? AND main_chain = ?", height, true).First(&stored).Error
			if err == gorm.ErrRecordNotFound {
				height--
				continue
			}
			if err != nil {
				return err
			}
			ids, err := nc.GetBlockIdsAtHeight(ctx, height, 0)
			if err != nil {
				return err
			}
			if len(ids) > 0 && ids[0] == stored.ID {
				break
			}
			height--
		}
		forkPoint = height
		reorgLogger.Warn("reorg detected, rolling back", "forkHeight", forkPoint, "previousHeight", h)

		if err := cascadeDeleteAbove(tx, forkPoint); err != nil {
			return err
		}
		return syncstatus.ResetTo(tx, forkPoint)
	})
	if err != nil {
		return 0, err
	}
	return forkPoint, nil
}

// cascadeDeleteAbove deletes every row descending from blocks with
// height > h, innermost tables first since FK constraints are declared
// RESTRICT and ownership is cascade-delete on reorg.
func cascadeDeleteAbove(tx *gorm.DB, h uint64) error {
	var blockIDs []string
	if err := tx.Model(&store.Block{}).Where("height > ?", h).Pluck("id", &blockIDs).Error; err != nil {
		return err
	}
	if len(blockIDs) == 0 {
		return nil
	}

	var txIDs []string
	if err := tx.Model(&store.Transaction{}).Where("block_id in (?)", blockIDs).Pluck("id", &txIDs).Error; err != nil {
		return err
	}

	if len(txIDs) > 0 {
		// Clear spent_by_tx_id pointers on surviving outputs that had
		// been spent by a transaction we are about to delete, before
		// that delete runs: outputs.spent_by_tx_id -> transactions(id)
		// is RESTRICT, so a surviving output still pointing at a
		// doomed transaction would block the Transaction delete below.
		if err := tx.Model(&store.Output{}).Where("spent_by_tx_id in (?)", txIDs).Update("spent_by_tx_id", nil).Error; err != nil {
			return err
		}

		var boxIDs []string
		if err := tx.Model(&store.Output{}).Where("tx_id in (?)", txIDs).Pluck("box_id", &boxIDs).Error; err != nil {
			return err
		}
		if len(boxIDs) > 0 {
			if err := tx.Where("box_id in (?)", boxIDs).Delete(&store.Asset{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("tx_id in (?)", txIDs).Delete(&store.Input{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tx_id in (?)", txIDs).Delete(&store.Output{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id in (?)", txIDs).Delete(&store.Transaction{}).Error; err != nil {
			return err
		}
	}
	if err := tx.Where("block_id in (?)", blockIDs).Delete(&store.MiningReward{}).Error; err != nil {
		return err
	}
	return tx.Where("id in (?)", blockIDs).Delete(&store.Block{}).Error
}
