// Package config builds the single process-wide Config value from CLI
// flags layered over environment variables, the way cmd/utils/flags.go
// and cmd/ranger/config.go assemble klaytn's node configuration. No
// package holds mutable config state of its own; every component takes a
// *Config (or a narrower sub-struct) at construction time.
package config

import (
	"time"

	"gopkg.in/urfave/cli.v1"
)

// NodeConfig configures the node-facing HTTP client (C1).
type NodeConfig struct {
	URL              string
	APIKey           string
	Timeout          time.Duration
	MaxConnections   int
	Retries          int
	CacheTTL         time.Duration
}

// DBConfig configures the relational persistence layer (C2).
type DBConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	PoolSize     int
	MaxOverflow  int
	PoolTimeout  time.Duration
	PoolRecycle  time.Duration
}

// RedisConfig configures the optional node-response cache.
type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
	Enabled  bool
}

// IndexerConfig configures the ingestion pipeline (C5).
type IndexerConfig struct {
	BatchSize        int
	MaxWorkers       int
	FetcherWorkers   int
	ProcessorWorkers int
	FetchBatchSize   int
	DBBatchSize      int
	ParallelMode     bool
	BulkInsert       bool
	SequentialSteps  int
	IdlePollInterval time.Duration
	ResetDB          bool
}

// Config is the single value every component is constructed from.
type Config struct {
	Node    NodeConfig
	DB      DBConfig
	Redis   RedisConfig
	Indexer IndexerConfig
}

// Flags is the full flag set registered on the CLI app; every flag
// carries an EnvVar so its environment variable equivalent is honored
// without any separate env-parsing pass.
var Flags = []cli.Flag{
	cli.StringFlag{Name: "node-url", EnvVar: "NODE_URL", Value: "http://127.0.0.1:9053", Usage: "base URL of the trusted node's HTTP API"},
	cli.StringFlag{Name: "node-api-key", EnvVar: "NODE_API_KEY", Usage: "optional api_key header for node requests"},
	cli.DurationFlag{Name: "node-timeout", EnvVar: "NODE_TIMEOUT", Value: 60 * time.Second, Usage: "total timeout for a single node HTTP request"},
	cli.IntFlag{Name: "node-max-connections", EnvVar: "NODE_MAX_CONNECTIONS", Value: 20, Usage: "max in-flight node HTTP requests"},
	cli.IntFlag{Name: "node-retries", EnvVar: "NODE_RETRIES", Value: 3, Usage: "max retry attempts for a transient node error"},
	cli.DurationFlag{Name: "node-cache-ttl", EnvVar: "NODE_CACHE_TTL", Value: 30 * time.Second, Usage: "TTL for the optional node response cache"},

	cli.StringFlag{Name: "db-host", EnvVar: "DB_HOST", Value: "127.0.0.1", Usage: "database host"},
	cli.IntFlag{Name: "db-port", EnvVar: "DB_PORT", Value: 3306, Usage: "database port"},
	cli.StringFlag{Name: "db-user", EnvVar: "DB_USER", Value: "shark", Usage: "database user"},
	cli.StringFlag{Name: "db-password", EnvVar: "DB_PASSWORD", Usage: "database password"},
	cli.StringFlag{Name: "db-name", EnvVar: "DB_NAME", Value: "shark_indexer", Usage: "database name"},
	cli.IntFlag{Name: "db-pool-size", EnvVar: "DB_POOL_SIZE", Value: 20, Usage: "connection pool size"},
	cli.IntFlag{Name: "db-max-overflow", EnvVar: "DB_MAX_OVERFLOW", Value: 30, Usage: "max overflow connections beyond the pool size"},
	cli.DurationFlag{Name: "db-pool-timeout", EnvVar: "DB_POOL_TIMEOUT", Value: 30 * time.Second, Usage: "max wait for a pooled connection"},
	cli.DurationFlag{Name: "db-pool-recycle", EnvVar: "DB_POOL_RECYCLE", Value: 1800 * time.Second, Usage: "max connection lifetime before recycling"},

	cli.StringFlag{Name: "redis-host", EnvVar: "REDIS_HOST", Usage: "optional redis host for the node response cache"},
	cli.IntFlag{Name: "redis-port", EnvVar: "REDIS_PORT", Value: 6379, Usage: "redis port"},
	cli.IntFlag{Name: "redis-db", EnvVar: "REDIS_DB", Value: 0, Usage: "redis logical database index"},
	cli.StringFlag{Name: "redis-password", EnvVar: "REDIS_PASSWORD", Usage: "redis password"},

	cli.IntFlag{Name: "indexer-batch-size", EnvVar: "INDEXER_BATCH_SIZE", Value: 50, Usage: "configured window size per outer tick"},
	cli.IntFlag{Name: "indexer-max-workers", EnvVar: "INDEXER_MAX_WORKERS", Value: 16, Usage: "upper bound on total pipeline goroutines"},
	cli.IntFlag{Name: "indexer-fetcher-workers", EnvVar: "INDEXER_FETCHER_WORKERS", Value: 5, Usage: "fetcher pool size"},
	cli.IntFlag{Name: "indexer-processor-workers", EnvVar: "INDEXER_PROCESSOR_WORKERS", Value: 10, Usage: "processor pool size"},
	cli.IntFlag{Name: "indexer-fetch-batch-size", EnvVar: "INDEXER_FETCH_BATCH_SIZE", Value: 20, Usage: "blocks per fetcher range request, capped at 20"},
	cli.IntFlag{Name: "indexer-db-batch-size", EnvVar: "INDEXER_DB_BATCH_SIZE", Value: 10, Usage: "blocks per mini-batch flush"},
	cli.BoolTFlag{Name: "indexer-parallel-mode", EnvVar: "INDEXER_PARALLEL_MODE", Usage: "enable the parallel ingestion path"},
	cli.BoolTFlag{Name: "indexer-bulk-insert", EnvVar: "INDEXER_BULK_INSERT", Usage: "enable bulk inserts with per-row fallback"},
	cli.IntFlag{Name: "indexer-sequential-steps", EnvVar: "INDEXER_SEQUENTIAL_STEPS", Value: 20, Usage: "blocks processed sequentially at the head of each window"},
	cli.BoolFlag{Name: "reset-db", EnvVar: "RESET_DB", Usage: "drop and recreate the schema before running"},
}

// FromCLI builds a Config from a populated cli.Context.
func FromCLI(ctx *cli.Context) *Config {
	return &Config{
		Node: NodeConfig{
			URL:            ctx.GlobalString("node-url"),
			APIKey:         ctx.GlobalString("node-api-key"),
			Timeout:        ctx.GlobalDuration("node-timeout"),
			MaxConnections: ctx.GlobalInt("node-max-connections"),
			Retries:        ctx.GlobalInt("node-retries"),
			CacheTTL:       ctx.GlobalDuration("node-cache-ttl"),
		},
		DB: DBConfig{
			Host:        ctx.GlobalString("db-host"),
			Port:        ctx.GlobalInt("db-port"),
			User:        ctx.GlobalString("db-user"),
			Password:    ctx.GlobalString("db-password"),
			Name:        ctx.GlobalString("db-name"),
			PoolSize:    ctx.GlobalInt("db-pool-size"),
			MaxOverflow: ctx.GlobalInt("db-max-overflow"),
			PoolTimeout: ctx.GlobalDuration("db-pool-timeout"),
			PoolRecycle: ctx.GlobalDuration("db-pool-recycle"),
		},
		Redis: RedisConfig{
			Host:     ctx.GlobalString("redis-host"),
			Port:     ctx.GlobalInt("redis-port"),
			DB:       ctx.GlobalInt("redis-db"),
			Password: ctx.GlobalString("redis-password"),
			Enabled:  ctx.GlobalString("redis-host") != "",
		},
		Indexer: IndexerConfig{
			BatchSize:        ctx.GlobalInt("indexer-batch-size"),
			MaxWorkers:       ctx.GlobalInt("indexer-max-workers"),
			FetcherWorkers:   ctx.GlobalInt("indexer-fetcher-workers"),
			ProcessorWorkers: ctx.GlobalInt("indexer-processor-workers"),
			FetchBatchSize:   capInt(ctx.GlobalInt("indexer-fetch-batch-size"), 20),
			DBBatchSize:      ctx.GlobalInt("indexer-db-batch-size"),
			ParallelMode:     ctx.GlobalBoolT("indexer-parallel-mode"),
			BulkInsert:       ctx.GlobalBoolT("indexer-bulk-insert"),
			SequentialSteps:  ctx.GlobalInt("indexer-sequential-steps"),
			IdlePollInterval: 10 * time.Second,
			ResetDB:          ctx.GlobalBool("reset-db"),
		},
	}
}

func capInt(v, max int) int {
	if v > max {
		return max
	}
	return v
}
