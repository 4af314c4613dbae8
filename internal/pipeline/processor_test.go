package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessorShared_NoteDurableIsMonotonic(t *testing.T) {
	s := newProcessorShared(10)
	assert.Equal(t, uint64(10), s.durable())

	s.noteDurable(15)
	assert.Equal(t, uint64(15), s.durable())

	s.noteDurable(12) // lower height must never move the cursor backwards
	assert.Equal(t, uint64(15), s.durable())
}

func TestProcessorShared_NoteDurableConcurrent(t *testing.T) {
	s := newProcessorShared(0)
	var wg sync.WaitGroup
	for h := uint64(1); h <= 100; h++ {
		wg.Add(1)
		go func(h uint64) {
			defer wg.Done()
			s.noteDurable(h)
		}(h)
	}
	wg.Wait()
	assert.Equal(t, uint64(100), s.durable())
}

// Three consecutive mini-batch failures force individual mode for the
// remainder of the window (the level-3 failure cascade).
func TestProcessorShared_FailureCascade(t *testing.T) {
	s := newProcessorShared(0)
	assert.False(t, s.individualMode())

	s.noteBatchFailure()
	assert.False(t, s.individualMode())
	s.noteBatchFailure()
	assert.False(t, s.individualMode())
	s.noteBatchFailure()
	assert.True(t, s.individualMode())
}

func TestProcessorShared_ResetFailuresClearsCascade(t *testing.T) {
	s := newProcessorShared(0)
	s.noteBatchFailure()
	s.noteBatchFailure()
	s.resetFailures()
	s.noteBatchFailure()
	s.noteBatchFailure()
	assert.False(t, s.individualMode()) // cascade counter was reset, so two more failures don't trip it
}
