package inventory

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/case-engine/pkg/models"
	"github.com/ekaya-inc/case-engine/pkg/retry"
)

// CacheConfig tunes the snapshot cache.
type CacheConfig struct {
	Size         int
	TTL          time.Duration
	FetchTimeout time.Duration
	Retry        *retry.Config
}

// DefaultCacheConfig returns a 64-entry, 5 minute cache with the engine-wide retry policy.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Size:         64,
		TTL:          5 * time.Minute,
		FetchTimeout: DefaultHTTPTimeout,
		Retry:        retry.DefaultConfig(),
	}
}

// Cache holds immutable snapshots keyed by query. Concurrent misses for the
// same query share one fetch; Invalidate drops everything so the next read
// goes back to the source.
type Cache struct {
	source       Source
	snapshots    *expirable.LRU[string, *Snapshot]
	group        singleflight.Group
	version      atomic.Uint64
	generation   atomic.Uint64
	fetchTimeout time.Duration
	retry        *retry.Config
	now          func() time.Time
	logger       *zap.Logger
}

// NewCache creates a snapshot cache in front of source.
func NewCache(source Source, cfg CacheConfig, logger *zap.Logger) *Cache {
	defaults := DefaultCacheConfig()
	if cfg.Size < 1 {
		cfg.Size = defaults.Size
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}
	if cfg.Retry == nil {
		cfg.Retry = defaults.Retry
	}
	return &Cache{
		source:       source,
		snapshots:    expirable.NewLRU[string, *Snapshot](cfg.Size, nil, cfg.TTL),
		fetchTimeout: cfg.FetchTimeout,
		retry:        cfg.Retry,
		now:          time.Now,
		logger:       logger.Named("inventory-cache"),
	}
}

func cacheKey(query models.InventoryQuery) string {
	return strings.ToLower(query.AreaHint) + "|" + strings.ToLower(query.DomainHint)
}

// Get returns the cached snapshot for query, fetching it on a miss.
// Transient source failures are retried before an error is returned.
func (c *Cache) Get(ctx context.Context, query models.InventoryQuery) (*Snapshot, error) {
	key := cacheKey(query)
	if snap, ok := c.snapshots.Get(key); ok {
		return snap, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetch(ctx, key, query)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) fetch(ctx context.Context, key string, query models.InventoryQuery) (*Snapshot, error) {
	// The fetch is shared by every waiter, so it must not die with the first caller.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	generation := c.generation.Load()
	start := time.Now()

	entities, err := retry.DoWithResultIfRetryable(fetchCtx, c.retry, func() ([]models.InventoryEntity, error) {
		return c.source.Fetch(fetchCtx, query)
	})
	if err != nil {
		c.logger.Warn("Inventory fetch failed",
			zap.String("source", c.source.Name()),
			zap.String("area_hint", query.AreaHint),
			zap.Error(err))
		return nil, fmt.Errorf("fetch inventory from %s: %w", c.source.Name(), err)
	}

	snap := NewSnapshot(c.version.Add(1), query, entities, c.now())
	if c.generation.Load() == generation {
		c.snapshots.Add(key, snap)
	}

	c.logger.Debug("Inventory snapshot fetched",
		zap.String("source", c.source.Name()),
		zap.Uint64("version", snap.Version),
		zap.Int("entities", snap.Len()),
		zap.Duration("elapsed", time.Since(start)))

	return snap, nil
}

// Invalidate purges all snapshots. Fetches already in flight complete for
// their waiters but are not cached.
func (c *Cache) Invalidate() {
	c.generation.Add(1)
	c.snapshots.Purge()
	c.logger.Info("Inventory cache invalidated")
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	return c.snapshots.Len()
}
