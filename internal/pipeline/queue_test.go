package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shark-indexer/indexer/internal/node"
)

func TestHeightQueue_PushPopInOrder(t *testing.T) {
	q := newHeightQueue(4)
	q.push(&node.RawBlock{Height: 1})
	q.push(&node.RawBlock{Height: 2})

	blk, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, uint64(1), blk.Height)

	blk, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, uint64(2), blk.Height)
}

func TestHeightQueue_CloseDrainsThenSignalsDone(t *testing.T) {
	q := newHeightQueue(2)
	q.push(&node.RawBlock{Height: 1})
	q.close()

	blk, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, uint64(1), blk.Height)

	_, ok = q.pop()
	assert.False(t, ok)
}

func TestHeightQueue_Depth(t *testing.T) {
	q := newHeightQueue(8)
	assert.Equal(t, 0, q.depth())
	q.push(&node.RawBlock{Height: 1})
	q.push(&node.RawBlock{Height: 2})
	assert.Equal(t, 2, q.depth())
	q.pop()
	assert.Equal(t, 1, q.depth())
}

// backpressureSleep is a no-op below the threshold, and returns quickly
// for a small overshoot rather than ever blocking indefinitely.
func TestBackpressureSleep_BelowThreshold(t *testing.T) {
	q := newHeightQueue(8)
	q.push(&node.RawBlock{Height: 1})

	start := time.Now()
	backpressureSleep(q, 10) // depth 1, threshold 15: no sleep
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestBackpressureSleep_OverThresholdSleepsBounded(t *testing.T) {
	q := newHeightQueue(64)
	for i := 0; i < 40; i++ {
		q.push(&node.RawBlock{Height: uint64(i)})
	}

	start := time.Now()
	backpressureSleep(q, 10) // threshold 15, depth 40: sleeps, capped at 2s
	elapsed := time.Since(start)
	assert.Greater(t, elapsed, time.Duration(0))
	assert.LessOrEqual(t, elapsed, 2*time.Second+50*time.Millisecond)
}
