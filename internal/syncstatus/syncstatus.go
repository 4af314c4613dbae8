// Package syncstatus implements the single-row durable cursor. It is
// the durable checkpoint the whole ingestion pipeline's restart-safety
// rests on — Advance must never be called until every row for a height
// is already committed in the same transaction.
package syncstatus

import (
	"time"

	"github.com/jinzhu/gorm"

	"github.com/shark-indexer/indexer/internal/log"
	"github.com/shark-indexer/indexer/internal/store"
)

var logger = log.NewModuleLogger(log.SyncStatus)

const singletonID = 1

// Load returns the singleton SyncStatus row, lazily creating it with
// zeros if it does not yet exist.
func Load(tx *gorm.DB) (*store.SyncStatus, error) {
	var row store.SyncStatus
	err := tx.Where("id = ?", singletonID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		row = store.SyncStatus{ID: singletonID}
		if createErr := tx.Create(&row).Error; createErr != nil {
			return nil, createErr
		}
		return &row, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Advance writes current_height = h within the caller's transaction.
// Must be called only after every dependent row for heights up to h is
// already part of the same, not-yet-committed transaction.
func Advance(tx *gorm.DB, h uint64, blockTime time.Time) error {
	return tx.Model(&store.SyncStatus{}).
		Where("id = ?", singletonID).
		Updates(map[string]interface{}{
			"current_height":  h,
			"last_block_time": blockTime,
		}).Error
}

// SetTarget records the chain tip as last observed from the node.
func SetTarget(tx *gorm.DB, target uint64) error {
	return tx.Model(&store.SyncStatus{}).
		Where("id = ?", singletonID).
		Update("target_height", target).Error
}

// SetSyncing flips is_syncing, used by the control loop to mark idle vs.
// actively-catching-up periods.
func SetSyncing(tx *gorm.DB, syncing bool) error {
	return tx.Model(&store.SyncStatus{}).
		Where("id = ?", singletonID).
		Update("is_syncing", syncing).Error
}

// ResetTo is used by reorg recovery to roll the cursor back to h* after
// diverging blocks are deleted.
func ResetTo(tx *gorm.DB, h uint64) error {
	logger.Warn("resetting sync cursor for reorg recovery", "height", h)
	return tx.Model(&store.SyncStatus{}).
		Where("id = ?", singletonID).
		Update("current_height", h).Error
}
