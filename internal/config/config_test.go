package config

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/urfave/cli.v1"
)

func TestCapInt(t *testing.T) {
	assert.Equal(t, 20, capInt(25, 20))
	assert.Equal(t, 10, capInt(10, 20))
	assert.Equal(t, 20, capInt(20, 20))
}

// FromCLI pulls every field from a populated cli.Context, honoring the
// flag defaults declared in Flags when nothing overrides them.
func TestFromCLI_Defaults(t *testing.T) {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range Flags {
		f.Apply(set)
	}
	app := cli.NewApp()
	ctx := cli.NewContext(app, set, nil)

	cfg := FromCLI(ctx)
	require.NotNil(t, cfg)
	assert.Equal(t, "http://127.0.0.1:9053", cfg.Node.URL)
	assert.Equal(t, 60*time.Second, cfg.Node.Timeout)
	assert.Equal(t, 20, cfg.Indexer.FetchBatchSize)
	assert.False(t, cfg.Redis.Enabled)
}

// indexer-fetch-batch-size is capped at 20 even when overridden higher.
func TestFromCLI_FetchBatchSizeIsCapped(t *testing.T) {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range Flags {
		f.Apply(set)
	}
	require.NoError(t, set.Parse([]string{"-indexer-fetch-batch-size", "500"}))
	app := cli.NewApp()
	ctx := cli.NewContext(app, set, nil)

	cfg := FromCLI(ctx)
	assert.Equal(t, 20, cfg.Indexer.FetchBatchSize)
}

// Setting redis-host enables the response-cache Redis backend.
func TestFromCLI_RedisEnabledWhenHostSet(t *testing.T) {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range Flags {
		f.Apply(set)
	}
	require.NoError(t, set.Parse([]string{"-redis-host", "cache.internal"}))
	app := cli.NewApp()
	ctx := cli.NewContext(app, set, nil)

	cfg := FromCLI(ctx)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache.internal", cfg.Redis.Host)
}
