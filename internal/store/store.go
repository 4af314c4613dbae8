// Package store implements the persistence layer: a pooled connection to
// the relational store, a transactional session helper, a bulk-insert
// primitive that degrades to per-row inserts on constraint failure, and
// a health check. Grounded in the pooling/lifecycle shape of
// storage/database/db_manager.go (a single owning type exposing
// Close()/health over a driver-backed connection), rebuilt against
// jinzhu/gorm + go-sql-driver/mysql in place of a key-value store, since
// the relational invariants this indexer needs (foreign keys, joins
// across blocks/transactions/outputs) call for a relational engine.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"

	"github.com/shark-indexer/indexer/internal/config"
	"github.com/shark-indexer/indexer/internal/log"
)

var logger = log.NewModuleLogger(log.Store)

const bulkInsertChunkSize = 500

// Store owns the pooled database connection and exposes the persistence
// primitives C5 calls against it.
type Store struct {
	db  *gorm.DB
	cfg config.DBConfig
}

// Open establishes the pooled connection, sizing it per cfg (defaults:
// pool 20, overflow 30, recycle 1800s, pre-ping on borrow).
func Open(cfg config.DBConfig) (*Store, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	sqlDB := db.DB()
	sqlDB.SetMaxOpenConns(cfg.PoolSize + cfg.MaxOverflow)
	sqlDB.SetMaxIdleConns(cfg.PoolSize)
	sqlDB.SetConnMaxLifetime(cfg.PoolRecycle)

	return &Store{db: db, cfg: cfg}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *gorm.DB for read-only callers outside this
// package (the read API) that need direct query access rather than a
// transactional session.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// prePing issues a cheap round trip before a session borrows a
// connection, the way a SQLAlchemy pool_pre_ping would, so a connection
// killed by the server mid-idle (beyond PoolRecycle, or by a firewall)
// is detected before it ruins a transaction.
func (s *Store) prePing() error {
	return s.db.DB().Ping()
}

// WithSession runs fn inside a transactional scope: commit on return,
// rollback on error, release on every exit path.
func (s *Store) WithSession(fn func(tx *gorm.DB) error) error {
	if err := s.prePing(); err != nil {
		return errors.Wrap(err, "database unavailable")
	}
	tx := s.db.Begin()
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "begin transaction")
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

// WithBatchTransaction opens a session additionally tuned for
// multi-block mini-batch commits: READ COMMITTED isolation, and for
// large blockCount a larger sort buffer so the bulk multi-row inserts
// don't spill to disk.
func (s *Store) WithBatchTransaction(blockCount int, fn func(tx *gorm.DB) error) error {
	if err := s.prePing(); err != nil {
		return errors.Wrap(err, "database unavailable")
	}
	tx := s.db.BeginTx(context.Background(), &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "begin batch transaction")
	}
	if blockCount > 20 {
		if err := tx.Exec("SET SESSION sort_buffer_size = 4194304").Error; err != nil {
			logger.Warn("failed to raise sort_buffer_size hint", "err", err)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return errors.Wrap(err, "commit batch transaction")
	}
	return nil
}

// HealthCheck reports connection status and pool statistics.
func (s *Store) HealthCheck() (map[string]interface{}, error) {
	if err := s.prePing(); err != nil {
		return map[string]interface{}{"status": "down"}, err
	}
	stats := s.db.DB().Stats()
	return map[string]interface{}{
		"status": "up",
		"poolStats": map[string]interface{}{
			"openConnections": stats.OpenConnections,
			"inUse":           stats.InUse,
			"idle":            stats.Idle,
			"waitCount":       stats.WaitCount,
		},
	}, nil
}

// Row is a single record's column values, keyed by column name. Rows are
// plain value maps rather than typed structs at the bulk-insert
// boundary: the schema lives higher up, in the transformer, while
// bulkInsert itself stays structurally generic over any table.
type Row map[string]interface{}

// TableDescriptor names a table and the column order a bulk insert
// writes in.
type TableDescriptor struct {
	Name    string
	Columns []string
}

// InsertOutcome is the tagged result of a bulk insert, replacing
// exception-for-control-flow in the fallback path.
type InsertOutcome int

const (
	// BulkOK: every row was written by the multi-row INSERT.
	BulkOK InsertOutcome = iota
	// PartialConstraintViolation: the bulk statement failed on a
	// constraint; the per-row fallback ran and committed every
	// non-offending row.
	PartialConstraintViolation
	// Fatal: a non-constraint error occurred (connection loss, syntax);
	// insertion stopped at that chunk (or, in the per-row fallback, at
	// that row) and Err carries the cause.
	Fatal
)

// BulkInsertResult reports what happened for one BulkInsert call.
type BulkInsertResult struct {
	Outcome     InsertOutcome
	Inserted    int
	Skipped     int
	FailedRows  []Row
	Err         error
}

// BulkInsert writes rows to table within tx, chunked at ~500 rows per
// multi-row INSERT statement when bulk is true, or one row per INSERT
// when bulk is false (the INDEXER_BULK_INSERT=false path, useful when a
// table's rows are wide enough that a 500-row multi-INSERT risks
// exceeding max_allowed_packet). If a chunk fails with a constraint
// violation, it falls back to inserting that chunk's rows one at a time,
// flushing after each, so a single bad row never discards the rest of
// the batch.
func BulkInsert(tx *gorm.DB, table TableDescriptor, rows []Row, bulk bool) BulkInsertResult {
	chunkSize := 1
	if bulk {
		chunkSize = bulkInsertChunkSize
	}
	result := BulkInsertResult{Outcome: BulkOK}
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]
		if err := execMultiInsert(tx, table, chunk); err != nil {
			if !isConstraintViolation(err) {
				result.Outcome = Fatal
				result.Err = err
				return result
			}
			logger.Warn("bulk insert hit a constraint violation, falling back to per-row insert",
				"table", table.Name, "chunkSize", len(chunk), "err", err)
			inserted, skipped, failed, fallbackErr := fallbackPerRowInsert(tx, table, chunk)
			result.Inserted += inserted
			result.Skipped += skipped
			result.FailedRows = append(result.FailedRows, failed...)
			if result.Outcome == BulkOK {
				result.Outcome = PartialConstraintViolation
			}
			if fallbackErr != nil {
				result.Outcome = Fatal
				result.Err = fallbackErr
				return result
			}
			continue
		}
		result.Inserted += len(chunk)
	}
	return result
}

func execMultiInsert(tx *gorm.DB, table TableDescriptor, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table.Name)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(quoteAll(table.Columns), ", "))
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(rows)*len(table.Columns))
	placeholders := make([]string, 0, len(rows))
	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(table.Columns)), ",") + ")"
	for _, row := range rows {
		placeholders = append(placeholders, rowPlaceholder)
		for _, col := range table.Columns {
			args = append(args, row[col])
		}
	}
	sb.WriteString(strings.Join(placeholders, ", "))
	return tx.Exec(sb.String(), args...).Error
}

func fallbackPerRowInsert(tx *gorm.DB, table TableDescriptor, rows []Row) (inserted, skipped int, failed []Row, fatalErr error) {
	for _, row := range rows {
		err := execMultiInsert(tx, table, []Row{row})
		if err == nil {
			inserted++
			continue
		}
		if isConstraintViolation(err) {
			skipped++
			failed = append(failed, row)
			logger.Warn("skipping row after constraint violation", "table", table.Name, "err", err)
			continue
		}
		// A non-constraint error (connection loss, syntax) during the
		// fallback is unrecoverable for this chunk.
		return inserted, skipped, failed, err
	}
	return inserted, skipped, failed, nil
}

func quoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = "`" + c + "`"
	}
	return out
}

// isConstraintViolation classifies a MySQL driver error as a foreign-key
// or uniqueness violation (MySQL error numbers 1062 duplicate key, 1452
// FK constraint fails, 1451 FK on delete/update).
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Error 1062") ||
		strings.Contains(msg, "Error 1452") ||
		strings.Contains(msg, "Error 1451") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "foreign key constraint fails")
}

// UpsertAddressStats upserts one AddressStats row, widening
// first_active_time/last_active_time with LEAST/GREATEST instead of
// blindly overwriting them, since the same address is observed across
// many blocks over its lifetime (: AddressStats is "Upserted per
// address observed in a block").
func UpsertAddressStats(tx *gorm.DB, row Row) error {
	table := TableDescriptor{
		Name:    "address_stats",
		Columns: []string{"address", "first_active_time", "last_active_time", "address_type", "script_complexity"},
	}
	sqlStr := "INSERT INTO " + table.Name + " (" + strings.Join(quoteAll(table.Columns), ", ") +
		") VALUES (?, ?, ?, ?, ?) ON DUPLICATE KEY UPDATE " +
		"first_active_time = LEAST(first_active_time, VALUES(first_active_time)), " +
		"last_active_time = GREATEST(last_active_time, VALUES(last_active_time)), " +
		"address_type = VALUES(address_type), " +
		"script_complexity = VALUES(script_complexity)"
	args := make([]interface{}, len(table.Columns))
	for i, col := range table.Columns {
		args[i] = row[col]
	}
	return tx.Exec(sqlStr, args...).Error
}

// GetOutputValue looks up a previously-committed output's value by box
// ID, within tx so it observes the caller's own uncommitted writes too
// (read-your-writes within one mini-batch transaction). Returns ok=false
// if the box is unknown.
func GetOutputValue(tx *gorm.DB, boxID string) (uint64, bool) {
	var out Output
	err := tx.Select("value").Where("box_id = ?", boxID).First(&out).Error
	if err != nil {
		return 0, false
	}
	return out.Value, true
}

// MarkSpent sets spent_by_tx_id on an already-committed output. Called by
// the pipeline as the second pass of the cyclic Transaction<->Output
// relationship: never before both the creating and spending
// transactions are committed.
func MarkSpent(tx *gorm.DB, boxID, spendingTxID string) error {
	return tx.Model(&Output{}).Where("box_id = ?", boxID).Update("spent_by_tx_id", spendingTxID).Error
}
