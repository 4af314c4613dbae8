package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Every call site logs with alternating key/value pairs; none of the
// levels should panic regardless of argument shape.
func TestModuleLogger_AllLevels(t *testing.T) {
	logger := NewModuleLogger(Pipeline)
	assert.NotPanics(t, func() {
		logger.Debug("debug message", "height", uint64(1))
		logger.Info("info message", "blockID", "abc")
		logger.Warn("warn message", "err", "transient")
		logger.Error("error message", "err", "fatal")
	})
}

func TestNewModuleLogger_DistinctModules(t *testing.T) {
	a := NewModuleLogger(Store)
	b := NewModuleLogger(API)
	assert.NotSame(t, a, b)
}
