package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_SetGetExpiry(t *testing.T) {
	c := newLRUCache(16)

	var out []string
	assert.False(t, c.get("missing", &out))

	c.set("ids-at:100", 50*time.Millisecond, []string{"block-a", "block-b"})
	require.True(t, c.get("ids-at:100", &out))
	assert.Equal(t, []string{"block-a", "block-b"}, out)

	time.Sleep(80 * time.Millisecond)
	assert.False(t, c.get("ids-at:100", &out))
}

func TestNoopCache_AlwaysMisses(t *testing.T) {
	var c noopCache
	c.set("key", time.Minute, "value")
	var out string
	assert.False(t, c.get("key", &out))
}
