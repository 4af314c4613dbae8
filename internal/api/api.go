// Package api implements a thin read API: a handful of paginated,
// read-only projections over the store, kept outside the ingestion
// pipeline's critical path. Routing uses httprouter's param-in-path
// idiom, with error classification and logging built on the same
// module-logger and pkg/errors conventions used throughout this
// repository.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/jinzhu/gorm"
	"github.com/julienschmidt/httprouter"

	"github.com/shark-indexer/indexer/internal/log"
	"github.com/shark-indexer/indexer/internal/store"
)

var logger = log.NewModuleLogger(log.API)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Server exposes the read API over the store's underlying database.
type Server struct {
	db *gorm.DB
}

// NewServer builds a Server. The caller is responsible for running
// migrations before serving traffic.
func NewServer(db *gorm.DB) *Server {
	return &Server{db: db}
}

// Handler returns the fully-wired httprouter.Router for this Server.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.GET("/blocks", s.listBlocks)
	r.GET("/blocks/:id", s.getBlock)
	r.GET("/transactions/:id", s.getTransaction)
	r.GET("/addresses/:address", s.getAddress)
	r.GET("/addresses/:address/balance", s.getAddressBalance)
	r.GET("/health", s.health)
	return r
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultLimit
	offset = 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.db.DB().Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listBlocks returns the most recent main-chain blocks, newest first,
// paginated via limit/offset.
func (s *Server) listBlocks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, offset := pagination(r)
	var blocks []store.Block
	err := s.db.Where("main_chain = ?", true).
		Order("height desc").
		Limit(limit).Offset(offset).
		Find(&blocks).Error
	if err != nil {
		logger.Error("list blocks failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list blocks")
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (s *Server) getBlock(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	var block store.Block
	err := s.db.Where("id = ? AND main_chain = ?", id, true).First(&block).Error
	if err == gorm.ErrRecordNotFound {
		writeError(w, http.StatusNotFound, "block not found")
		return
	}
	if err != nil {
		logger.Error("get block failed", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch block")
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// getTransaction returns a transaction and its inputs/outputs/assets.
func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	var tx store.Transaction
	err := s.db.Where("id = ? AND main_chain = ?", id, true).First(&tx).Error
	if err == gorm.ErrRecordNotFound {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		logger.Error("get transaction failed", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch transaction")
		return
	}

	var inputs []store.Input
	var outputs []store.Output
	if err := s.db.Where("tx_id = ?", id).Order("index_in_tx asc").Find(&inputs).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch inputs")
		return
	}
	if err := s.db.Where("tx_id = ?", id).Order("index_in_tx asc").Find(&outputs).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch outputs")
		return
	}
	var assets []store.Asset
	if len(outputs) > 0 {
		boxIDs := make([]string, len(outputs))
		for i, o := range outputs {
			boxIDs[i] = o.BoxID
		}
		if err := s.db.Where("box_id in (?)", boxIDs).Order("box_id asc, index_in_outputs asc").Find(&assets).Error; err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch assets")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transaction": tx,
		"inputs":      inputs,
		"outputs":     outputs,
		"assets":      assets,
	})
}

// getAddress returns the aggregate AddressStats row for an address,
// 404 if the address has never been observed.
func (s *Server) getAddress(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	address := ps.ByName("address")
	var stats store.AddressStats
	err := s.db.Where("address = ?", address).First(&stats).Error
	if err == gorm.ErrRecordNotFound {
		writeError(w, http.StatusNotFound, "address not found")
		return
	}
	if err != nil {
		logger.Error("get address failed", "address", address, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch address")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// getAddressBalance computes an address's current balance as the sum of
// unspent output values: Σ value WHERE address=? AND spent_by_tx_id IS
// NULL.
func (s *Server) getAddressBalance(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	address := ps.ByName("address")
	var total uint64
	row := s.db.Model(&store.Output{}).
		Where("address = ? AND spent_by_tx_id IS NULL", address).
		Select("COALESCE(SUM(value), 0)").Row()
	if err := row.Scan(&total); err != nil {
		logger.Error("get address balance failed", "address", address, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to compute balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": address,
		"balance": total,
	})
}
