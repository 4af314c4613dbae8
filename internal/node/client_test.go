package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shark-indexer/indexer/internal/config"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.NodeConfig{
		URL: srv.URL, Timeout: 2 * time.Second, MaxConnections: 4, Retries: 2,
	}, config.RedisConfig{Enabled: false})
}

func TestClient_GetInfo(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Info{FullHeight: 42})
	}))

	info, err := c.GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), info.FullHeight)

	height, err := c.GetCurrentHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), height)
}

func TestClient_GetBlock_AttachesHeight(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/blocks/abc123", r.URL.Path)
		_ = json.NewEncoder(w).Encode(RawBlock{Header: Header{ID: "abc123", Timestamp: 1, Difficulty: "1"}})
	}))

	blk, err := c.GetBlock(context.Background(), "abc123", 7, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), blk.Height)
	assert.Equal(t, "abc123", blk.Header.ID)
}

func TestClient_GetBlockIdsAtHeight_NotFound(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.GetBlockIdsAtHeight(context.Background(), 999, time.Minute)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestClient_RetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(Info{FullHeight: 100})
	}))

	info, err := c.GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), info.FullHeight)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestClient_MalformedPayload(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	_, err := c.GetInfo(context.Background())
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
}

func TestClient_GetBlocksInRange_SortsAndTruncatesAtTip(t *testing.T) {
	const tip = 3
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var height uint64
		if _, err := fmt.Sscanf(r.URL.Path, "/blocks/at/%d", &height); err == nil {
			if height > tip {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode([]string{fmt.Sprintf("block-%d", height)})
			return
		}
		// /blocks/{id}: id encodes its own height as "block-{h}".
		var h uint64
		if _, err := fmt.Sscanf(r.URL.Path, "/blocks/block-%d", &h); err == nil {
			_ = json.NewEncoder(w).Encode(RawBlock{
				Header: Header{ID: fmt.Sprintf("block-%d", h), Timestamp: 1, Difficulty: "1"},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	blocks, err := c.GetBlocksInRange(context.Background(), 1, 5, 4, time.Minute)
	require.NoError(t, err)
	assert.Len(t, blocks, tip)
	for i := 1; i < len(blocks); i++ {
		assert.Less(t, blocks[i-1].Height, blocks[i].Height)
	}
}
