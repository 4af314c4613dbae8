package node

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis/v7"
	lru "github.com/hashicorp/golang-lru"

	"github.com/shark-indexer/indexer/internal/config"
)

// responseCache is the optional response cache fronting getBlock and
// getBlockIdsAtHeight. Keyed by endpoint+args, TTL-bounded.
// Implemented over either Redis (when configured) or an in-process LRU,
// behind one small interface so the client never branches on backend.
type responseCache interface {
	get(key string, out interface{}) bool
	set(key string, ttl time.Duration, val interface{})
}

// noopCache is used when caching is disabled entirely; every lookup is a
// miss and every store a no-op.
type noopCache struct{}

func (noopCache) get(string, interface{}) bool    { return false }
func (noopCache) set(string, time.Duration, interface{}) {}

// lruCache backs the cache with an in-process hashicorp/golang-lru when
// Redis is not configured, so getBlock/getBlockIdsAtHeight still benefit
// from caching across a burst of repeated lookups. Concurrent misses for
// the same key each go to the node; in-flight requests are not merged.
type lruCache struct {
	cache *lru.Cache
}

type lruEntry struct {
	data    []byte
	expires time.Time
}

func newLRUCache(size int) *lruCache {
	c, err := lru.New(size)
	if err != nil {
		// size <= 0 is a programmer error; fall back to a minimal cache
		// rather than panicking the whole client.
		c, _ = lru.New(128)
	}
	return &lruCache{cache: c}
}

func (l *lruCache) get(key string, out interface{}) bool {
	v, ok := l.cache.Get(key)
	if !ok {
		return false
	}
	entry := v.(lruEntry)
	if time.Now().After(entry.expires) {
		l.cache.Remove(key)
		return false
	}
	return json.Unmarshal(entry.data, out) == nil
}

func (l *lruCache) set(key string, ttl time.Duration, val interface{}) {
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	l.cache.Add(key, lruEntry{data: data, expires: time.Now().Add(ttl)})
}

// redisCache backs the cache with go-redis/v7 when REDIS_HOST is set,
// letting the cache survive restarts and be shared across indexer
// instances (e.g. a benchmark run alongside the live indexer).
type redisCache struct {
	client *redis.Client
}

func newRedisCache(cfg config.RedisConfig) *redisCache {
	return &redisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addrFor(cfg),
			DB:       cfg.DB,
			Password: cfg.Password,
		}),
	}
}

func addrFor(cfg config.RedisConfig) string {
	if cfg.Port == 0 {
		return cfg.Host + ":6379"
	}
	return cfg.Host + ":" + strconv.Itoa(cfg.Port)
}

func (r *redisCache) get(key string, out interface{}) bool {
	data, err := r.client.Get(key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func (r *redisCache) set(key string, ttl time.Duration, val interface{}) {
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	r.client.Set(key, data, ttl)
}

func newCache(cfg config.RedisConfig) responseCache {
	if cfg.Enabled {
		return newRedisCache(cfg)
	}
	return newLRUCache(4096)
}
