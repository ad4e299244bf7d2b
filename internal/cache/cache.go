// Package cache keeps per-category pools of content items ready to serve.
//
// Pools live in the shared store. A pop that leaves a pool below its watermark
// spawns a background fill; a pop on an empty pool fills synchronously once.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/sync/errgroup"

	"meme_bot/internal/filter"
	"meme_bot/internal/metrics"
	"meme_bot/internal/model"
	"meme_bot/internal/source"
	"meme_bot/internal/storage"
)

// Store is the subset of storage.Storage the cache needs.
type Store interface {
	PushItems(ctx context.Context, category model.Category, items []model.Item, ttl time.Duration) (int, error)
	PopItem(ctx context.Context, category model.Category) (*model.Item, error)
	PoolLen(ctx context.Context, category model.Category) (int, error)
}

// Options tune a single category pool.
type Options struct {
	BatchSize int
	Watermark int
}

// DefaultOptions holds the batch size and watermark of every category.
var DefaultOptions = map[model.Category]Options{
	model.CategoryMeme:    {BatchSize: 50, Watermark: 5},
	model.CategoryJoke:    {BatchSize: 30, Watermark: 3},
	model.CategoryDadJoke: {BatchSize: 10, Watermark: 3},
	model.CategoryLore:    {BatchSize: 25, Watermark: 5},
}

const (
	DefaultTTL = 2 * time.Hour

	fetchAttempts        = 3
	defaultRetryBase     = 500 * time.Millisecond
	defaultRetryMax      = 4 * time.Second
	defaultRefillTimeout = 2 * time.Minute
)

// Config configures a Cache. Zero values select the defaults.
type Config struct {
	TTL           time.Duration
	Options       map[model.Category]Options
	Filter        *filter.Set
	RetryBase     time.Duration
	RetryMax      time.Duration
	RefillTimeout time.Duration
}

// Cache serves content items from store-backed pools.
type Cache struct {
	store   Store
	sources source.Set
	cfg     Config
	retry   retrypolicy.RetryPolicy[[]model.Item]
	metrics *metrics.Metrics
	log     *slog.Logger

	wg sync.WaitGroup
}

// New creates a cache over store, filled from sources.
func New(store Store, sources source.Set, cfg Config, m *metrics.Metrics, log *slog.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Options == nil {
		cfg.Options = DefaultOptions
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.RetryMax <= cfg.RetryBase {
		cfg.RetryMax = max(defaultRetryMax, 2*cfg.RetryBase)
	}
	if cfg.RefillTimeout <= 0 {
		cfg.RefillTimeout = defaultRefillTimeout
	}

	return &Cache{
		store:   store,
		sources: sources,
		cfg:     cfg,
		retry: retrypolicy.NewBuilder[[]model.Item]().
			WithBackoff(cfg.RetryBase, cfg.RetryMax).
			WithMaxRetries(fetchAttempts - 1).
			Build(),
		metrics: m,
		log:     log,
	}
}

func (c *Cache) options(category model.Category) Options {
	if o, ok := c.cfg.Options[category]; ok {
		return o
	}
	return Options{BatchSize: 10, Watermark: 1}
}

// Fill fetches count items from the category's source and appends the ones
// that pass the shape check and the content filter; NSFW items are dropped.
// It returns the number of items added. Failures are logged and reported as
// zero.
func (c *Cache) Fill(ctx context.Context, category model.Category, count int) int {
	src, ok := c.sources[category]
	if !ok {
		c.log.Warn("no source for category", "category", category)
		return 0
	}

	items, err := failsafe.With(c.retry).WithContext(ctx).Get(func() ([]model.Item, error) {
		return src.Fetch(ctx, count)
	})
	if err != nil {
		c.metrics.Refill(string(category), "failed")
		c.log.Warn("fill failed", "category", category,
			"error", fmt.Errorf("%w: %w", model.ErrUpstreamUnavailable, err))
		return 0
	}

	accepted := make([]model.Item, 0, len(items))
	for _, it := range items {
		it.Category = category
		if !it.Valid() || it.NSFW || !c.cfg.Filter.Match(it) {
			continue
		}
		accepted = append(accepted, it)
	}
	rejected := len(items) - len(accepted)
	c.metrics.Fetched(string(category), len(accepted), rejected)

	if len(accepted) == 0 {
		c.metrics.Refill(string(category), "empty")
		c.log.Warn("fill produced no usable items", "category", category, "fetched", len(items))
		return 0
	}

	size, err := c.store.PushItems(ctx, category, accepted, c.cfg.TTL)
	if err != nil {
		c.metrics.Refill(string(category), "failed")
		c.log.Error("store items", "category", category, "error", err)
		return 0
	}

	c.metrics.Refill(string(category), "ok")
	c.metrics.Pool(string(category), size)
	c.log.Debug("pool filled", "category", category, "added", len(accepted), "rejected", rejected, "size", size)
	return len(accepted)
}

// Pop removes and returns the head item of a category pool. An empty pool is
// filled synchronously once; if it stays empty Pop returns
// model.ErrPoolExhausted.
func (c *Cache) Pop(ctx context.Context, category model.Category) (model.Item, error) {
	it, err := c.store.PopItem(ctx, category)
	if errors.Is(err, storage.ErrNotFound) {
		c.metrics.Pop(string(category), "miss")
		if c.Fill(ctx, category, c.options(category).BatchSize) == 0 {
			return model.Item{}, fmt.Errorf("pop %s: %w", category, model.ErrPoolExhausted)
		}
		it, err = c.store.PopItem(ctx, category)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return model.Item{}, fmt.Errorf("pop %s: %w", category, model.ErrPoolExhausted)
	}
	if err != nil {
		c.metrics.Pop(string(category), "error")
		return model.Item{}, fmt.Errorf("pop %s: %w", category, err)
	}

	c.metrics.Pop(string(category), "hit")
	c.refillIfLow(ctx, category)
	return *it, nil
}

func (c *Cache) refillIfLow(ctx context.Context, category model.Category) {
	n, err := c.store.PoolLen(ctx, category)
	if err != nil {
		c.log.Warn("read pool length", "category", category, "error", err)
		return
	}
	c.metrics.Pool(string(category), n)
	if n >= c.options(category).Watermark {
		return
	}
	c.Refill(ctx, category)
}

// Refill starts a background fill of one batch. The caller's cancellation does
// not stop it; it is bounded by the refill timeout instead. Overlapping
// refills for the same category are allowed.
func (c *Cache) Refill(ctx context.Context, category model.Category) {
	batch := c.options(category).BatchSize
	c.wg.Go(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RefillTimeout)
		defer cancel()

		added := c.Fill(ctx, category, batch)
		c.log.Debug("background refill finished", "category", category, "added", added)
	})
}

// Wait blocks until all background refills have returned.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Len returns the current length of a category pool.
func (c *Cache) Len(ctx context.Context, category model.Category) (int, error) {
	return c.store.PoolLen(ctx, category)
}

// Warm tops up every pool that is below its watermark, concurrently, and
// waits for all fills to finish. A failing category does not stop the others;
// the first error is returned once every fill is done.
func (c *Cache) Warm(ctx context.Context) error {
	var g errgroup.Group
	for category := range c.sources {
		g.Go(func() error {
			return c.topUp(ctx, category)
		})
	}
	return g.Wait()
}

func (c *Cache) topUp(ctx context.Context, category model.Category) error {
	n, err := c.store.PoolLen(ctx, category)
	if err != nil {
		return fmt.Errorf("warm %s: %w", category, err)
	}
	if n >= c.options(category).Watermark {
		return nil
	}
	added := c.Fill(ctx, category, c.options(category).BatchSize)
	c.log.Info("pool warmed", "category", category, "had", n, "added", added)
	return nil
}
