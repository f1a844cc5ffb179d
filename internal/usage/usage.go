// Package usage is the side-channel Usage Counters subsystem (spec.md
// §4.13): a cache-first read path so Ranking's hot queries never block
// on a durable read, a pending-writes map flushed on a timer or a
// threshold, and a background prefetch task that backfills the cache
// for ids a caller asked about but hadn't been seen yet.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/types"
)

const bucket = "usage"

// Config tunes cache size, flush cadence, and prefetch cadence.
type Config struct {
	CacheSize       int           // bounded LRU entries, default 10,000
	FlushInterval   time.Duration // default 60s
	FlushThreshold  int           // default 1000 pending entries
	PrefetchInterval time.Duration // default 5s
}

// DefaultConfig matches spec.md §4.13's documented defaults.
func DefaultConfig() Config {
	return Config{
		CacheSize:        10000,
		FlushInterval:    60 * time.Second,
		FlushThreshold:   1000,
		PrefetchInterval: 5 * time.Second,
	}
}

// Counters is the cache-first Usage Counters subsystem. The durable
// store is internal/kv, keyed by entity_id under a dedicated bucket
// separate from every primary and accelerator store.
type Counters struct {
	kv  *kv.Store
	cfg Config
	log *slog.Logger

	cache *lru.Cache[string, types.UsageCounter]

	mu       sync.Mutex
	pending  map[string]types.UsageCounter
	prefetch map[string]struct{}
	paused   atomic.Bool
}

// JobName identifies this job to the admin job registry.
const JobName = "usage_counters"

// Name reports this job's admin-facing name.
func (c *Counters) Name() string { return JobName }

// Pause stops Run's scheduled flush/prefetch ticks until Resume is
// called. RecordAccess's threshold-triggered auto-flush still fires
// regardless, since that path exists to bound memory, not to serve a
// schedule.
func (c *Counters) Pause() { c.paused.Store(true) }

// Resume clears a prior Pause.
func (c *Counters) Resume() { c.paused.Store(false) }

// Paused reports whether Run is currently skipping ticks.
func (c *Counters) Paused() bool { return c.paused.Load() }

// New wires a Counters subsystem over the given durable store.
func New(k *kv.Store, cfg Config, log *slog.Logger) (*Counters, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	cache, err := lru.New[string, types.UsageCounter](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("usage: new lru: %w", err)
	}
	return &Counters{
		kv:       k,
		cfg:      cfg,
		log:      log.With("component", "usage"),
		cache:    cache,
		pending:  make(map[string]types.UsageCounter),
		prefetch: make(map[string]struct{}),
	}, nil
}

var tracer = otel.Tracer("github.com/agentmemory/memoryd/usage")

var usageMetrics struct {
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
	flushes     metric.Int64Counter
	prefetches  metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/agentmemory/memoryd/usage")
	usageMetrics.cacheHits, _ = m.Int64Counter("memoryd.usage.cache_hits", metric.WithUnit("{read}"))
	usageMetrics.cacheMisses, _ = m.Int64Counter("memoryd.usage.cache_misses", metric.WithUnit("{read}"))
	usageMetrics.flushes, _ = m.Int64Counter("memoryd.usage.flushes", metric.WithUnit("{batch}"))
	usageMetrics.prefetches, _ = m.Int64Counter("memoryd.usage.prefetches", metric.WithUnit("{entity}"))
}

// GetBatchCached is the hot read path Ranking calls. It never touches
// the durable store: cache hits return immediately, cache misses
// return the zero-value counter (count=0, last_accessed=nil) and
// enqueue the id for the next prefetch pass.
func (c *Counters) GetBatchCached(ctx context.Context, entityIDs []string) map[string]types.UsageCounter {
	_, span := tracer.Start(ctx, "usage.GetBatchCached")
	defer span.End()

	out := make(map[string]types.UsageCounter, len(entityIDs))
	var misses []string

	c.mu.Lock()
	for _, id := range entityIDs {
		if counter, ok := c.cache.Get(id); ok {
			out[id] = counter
			continue
		}
		out[id] = types.UsageCounter{EntityID: id}
		misses = append(misses, id)
	}
	for _, id := range misses {
		c.prefetch[id] = struct{}{}
	}
	c.mu.Unlock()

	usageMetrics.cacheHits.Add(ctx, int64(len(entityIDs)-len(misses)))
	usageMetrics.cacheMisses.Add(ctx, int64(len(misses)))
	return out
}

// RecordAccess updates the cache immediately and queues a durable
// write. The durable store is never touched synchronously.
func (c *Counters) RecordAccess(ctx context.Context, entityID string) {
	_, span := tracer.Start(ctx, "usage.RecordAccess")
	defer span.End()

	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	counter, ok := c.cache.Get(entityID)
	if !ok {
		counter = types.UsageCounter{EntityID: entityID}
	}
	counter.AccessCount++
	counter.LastAccessed = &now
	c.cache.Add(entityID, counter)
	c.pending[entityID] = counter

	if len(c.pending) >= c.cfg.FlushThreshold {
		pending := c.takePendingLocked()
		go c.flush(context.WithoutCancel(ctx), pending)
	}
}

// takePendingLocked drains and resets the pending-writes map. Caller
// must hold c.mu.
func (c *Counters) takePendingLocked() map[string]types.UsageCounter {
	pending := c.pending
	c.pending = make(map[string]types.UsageCounter)
	return pending
}

// flush durably persists a batch of pending counters in a single
// atomic write.
func (c *Counters) flush(ctx context.Context, pending map[string]types.UsageCounter) {
	if len(pending) == 0 {
		return
	}
	writes := make([]kv.Write, 0, len(pending))
	for id, counter := range pending {
		body, err := json.Marshal(counter)
		if err != nil {
			c.log.Warn("usage: marshal counter failed", "entity_id", id, "error", err)
			continue
		}
		writes = append(writes, kv.Write{Bucket: bucket, Key: []byte(id), Value: body})
	}
	if err := c.kv.Batch(ctx, writes); err != nil {
		c.log.Warn("usage: flush failed", "entries", len(writes), "error", err)
		return
	}
	usageMetrics.flushes.Add(ctx, 1)
}

// FlushNow forces an immediate flush of any pending writes, used at
// shutdown and by tests.
func (c *Counters) FlushNow(ctx context.Context) error {
	c.mu.Lock()
	pending := c.takePendingLocked()
	c.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	writes := make([]kv.Write, 0, len(pending))
	for id, counter := range pending {
		body, err := json.Marshal(counter)
		if err != nil {
			return fmt.Errorf("usage: flush-now: marshal %s: %w", id, err)
		}
		writes = append(writes, kv.Write{Bucket: bucket, Key: []byte(id), Value: body})
	}
	if err := c.kv.Batch(ctx, writes); err != nil {
		return fmt.Errorf("usage: flush-now: %w", err)
	}
	usageMetrics.flushes.Add(ctx, 1)
	return nil
}

// PrefetchNow drains the prefetch queue, reads the durable counters in
// a single pass, and populates the cache. Returns the number of ids
// prefetched.
func (c *Counters) PrefetchNow(ctx context.Context) (int, error) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.prefetch))
	for id := range c.prefetch {
		ids = append(ids, id)
	}
	c.prefetch = make(map[string]struct{})
	c.mu.Unlock()

	for _, id := range ids {
		value, found, err := c.kv.Get(ctx, bucket, []byte(id))
		if err != nil {
			return 0, fmt.Errorf("usage: prefetch %s: %w", id, err)
		}
		var counter types.UsageCounter
		if found {
			if err := json.Unmarshal(value, &counter); err != nil {
				return 0, fmt.Errorf("usage: prefetch %s: unmarshal: %w", id, err)
			}
		} else {
			counter = types.UsageCounter{EntityID: id}
		}
		c.mu.Lock()
		if _, alreadyHot := c.cache.Get(id); !alreadyHot {
			c.cache.Add(id, counter)
		}
		c.mu.Unlock()
	}
	usageMetrics.prefetches.Add(ctx, int64(len(ids)))
	return len(ids), nil
}

// Run drives the background flush and prefetch tasks on their
// configured intervals until ctx is canceled.
func (c *Counters) Run(ctx context.Context) {
	flushTicker := time.NewTicker(c.cfg.FlushInterval)
	defer flushTicker.Stop()
	prefetchTicker := time.NewTicker(c.cfg.PrefetchInterval)
	defer prefetchTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-flushTicker.C:
			if c.Paused() {
				continue
			}
			if err := c.FlushNow(ctx); err != nil {
				c.log.Warn("usage: scheduled flush failed", "error", err)
			}
		case <-prefetchTicker.C:
			if c.Paused() {
				continue
			}
			if _, err := c.PrefetchNow(ctx); err != nil {
				c.log.Warn("usage: scheduled prefetch failed", "error", err)
			}
		}
	}
}
