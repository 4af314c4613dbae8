package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewRegistry is called exactly once across this package's tests: it
// registers every collector against the process-wide default
// Prometheus registerer, and a second call would panic on duplicate
// registration.
func TestNewRegistry_AllCollectorsWired(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r)

	r.CurrentHeight.Set(123)
	assert.Equal(t, float64(123), testutil.ToFloat64(r.CurrentHeight))

	r.BlocksIndexed.Inc()
	r.BlocksIndexed.Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(r.BlocksIndexed))

	r.ReorgsHandled.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(r.ReorgsHandled))
}
