// Package node implements C1, the HTTP client to the trusted blockchain
// node: retries, pooled connections, bounded fan-out for range fetches,
// and an optional response cache. Grounded in the request/retry shape
// datasync/chaindatafetcher/chaindata_fetcher.go uses for its own
// node-facing calls (backoff loop, structured error logging).
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/shark-indexer/indexer/internal/config"
	"github.com/shark-indexer/indexer/internal/log"
)

var logger = log.NewModuleLogger(log.NodeClient)

const (
	retryBaseDelay = 1 * time.Second
	retryFactor    = 2
)

// Client is the pooled HTTP client to the node's JSON API.
type Client struct {
	baseURL string
	apiKey  string
	retries int
	cache   responseCache

	http *http.Client
	sem  chan struct{} // bounds concurrent in-flight HTTP calls
}

// New constructs a Client from NodeConfig, sizing the connection pool and
// the optional response cache from cfg.
func New(cfg config.NodeConfig, redisCfg config.RedisConfig) *Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConnections,
		MaxIdleConnsPerHost: cfg.MaxConnections,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		retries: cfg.Retries,
		cache:   newCache(redisCfg),
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		sem: make(chan struct{}, cfg.MaxConnections),
	}
}

// get performs one HTTP GET with exponential backoff retry on transient
// failure (base 1s, factor 2), classifying the terminal error into one
// of the three node error kinds.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	url := c.baseURL + path
	var lastErr error
	delay := retryBaseDelay
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "node request cancelled")
			case <-time.After(delay):
			}
			delay *= retryFactor
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return errors.Wrap(err, "build node request")
		}
		if c.apiKey != "" {
			req.Header.Set("api_key", c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = errors.Wrapf(ErrNodeUnavailable, "%s: %v", path, err)
			logger.Warn("node request failed, retrying", "path", path, "attempt", attempt, "err", err)
			continue
		}

		body, readErr := ioutil.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return errors.Wrapf(ErrNodeNotFound, "%s", path)
		case resp.StatusCode >= 500:
			lastErr = errors.Wrapf(ErrNodeUnavailable, "%s: status %d", path, resp.StatusCode)
			logger.Warn("node returned server error, retrying", "path", path, "status", resp.StatusCode, "attempt", attempt)
			continue
		case resp.StatusCode >= 400:
			return errors.Wrapf(ErrNodeMalformed, "%s: status %d", path, resp.StatusCode)
		}
		if readErr != nil {
			lastErr = errors.Wrapf(ErrNodeUnavailable, "%s: read body: %v", path, readErr)
			continue
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return errors.Wrapf(ErrNodeMalformed, "%s: decode body: %v", path, err)
		}
		return nil
	}
	return lastErr
}

// GetInfo fetches GET /info.
func (c *Client) GetInfo(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.get(ctx, "/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetCurrentHeight derives the chain tip height from GetInfo.
func (c *Client) GetCurrentHeight(ctx context.Context) (uint64, error) {
	info, err := c.GetInfo(ctx)
	if err != nil {
		return 0, err
	}
	return info.FullHeight, nil
}

// GetBlockIdsAtHeight fetches GET /blocks/at/{height}, consulting and
// populating the response cache.
func (c *Client) GetBlockIdsAtHeight(ctx context.Context, height uint64, ttl time.Duration) ([]string, error) {
	key := fmt.Sprintf("ids-at:%d", height)
	var ids []string
	if c.cache.get(key, &ids) {
		return ids, nil
	}
	if err := c.get(ctx, fmt.Sprintf("/blocks/at/%d", height), &ids); err != nil {
		return nil, err
	}
	c.cache.set(key, ttl, ids)
	return ids, nil
}

// GetBlock fetches GET /blocks/{id} and attaches the requested height,
// since the node's own response omits it.
func (c *Client) GetBlock(ctx context.Context, blockID string, height uint64, ttl time.Duration) (*RawBlock, error) {
	key := fmt.Sprintf("block:%s", blockID)
	var raw RawBlock
	if c.cache.get(key, &raw) {
		raw.Height = height
		return &raw, nil
	}
	if err := c.get(ctx, fmt.Sprintf("/blocks/%s", blockID), &raw); err != nil {
		return nil, err
	}
	raw.Height = height
	c.cache.set(key, ttl, raw)
	return &raw, nil
}

// getBlockAtHeight resolves the (usually singular) main-chain block ID at
// a height and fetches its full payload.
func (c *Client) getBlockAtHeight(ctx context.Context, height uint64, ttl time.Duration) (*RawBlock, error) {
	ids, err := c.GetBlockIdsAtHeight(ctx, height, ttl)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.Wrapf(ErrNodeNotFound, "height %d", height)
	}
	return c.GetBlock(ctx, ids[0], height, ttl)
}

// GetBlocksInRange fetches blocks for heights [from, to] with at most
// maxConcurrency in-flight requests, returning them sorted ascending by
// height. A NodeNotFound for any height within the range is treated as
// "chain tip reached" and simply truncates the result rather than failing
// the whole range.
func (c *Client) GetBlocksInRange(ctx context.Context, from, to uint64, maxConcurrency int, ttl time.Duration) ([]*RawBlock, error) {
	if to < from {
		return nil, nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	n := int(to - from + 1)
	results := make([]*RawBlock, n)
	errs := make([]error, n)

	sem := make(chan struct{}, maxConcurrency)
	done := make(chan int, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			sem <- struct{}{}
			defer func() { <-sem; done <- i }()
			height := from + uint64(i)
			blk, err := c.getBlockAtHeight(ctx, height, ttl)
			results[i] = blk
			errs[i] = err
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	var out []*RawBlock
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			if IsNotFound(errs[i]) {
				break
			}
			return nil, errs[i]
		}
		out = append(out, results[i])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out, nil
}
