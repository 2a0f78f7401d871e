// cache/ttl_cache.go
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	logger "github.com/framelane/aegis/logging"
)

const (
	DefaultTTL           = 180 * time.Second
	DefaultSweepInterval = 60 * time.Second
	DefaultStaleGrace    = 24 * time.Hour

	warmConcurrency = 8
)

// TTLCache is an in-memory key/value store with one unified TTL across
// every cached kind, stale-while-revalidate reads up to a grace period,
// and an optional durable mirror for cross-restart recall.
//
// Expired entries are hidden from Get but kept until the grace period
// runs out so GetStale can still serve them; only beyond-grace entries
// are actually purged, lazily on read and by the background sweep.
type TTLCache struct {
	mu      sync.RWMutex
	entries map[string]Entry

	defaultTTL    time.Duration
	sweepInterval time.Duration
	staleGrace    time.Duration
	mirror        Mirror
	now           func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	staleHits atomic.Int64
	evictions atomic.Int64
	sweeps    atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a TTLCache.
type Option func(*TTLCache)

func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *TTLCache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

func WithSweepInterval(interval time.Duration) Option {
	return func(c *TTLCache) {
		if interval > 0 {
			c.sweepInterval = interval
		}
	}
}

func WithStaleGrace(grace time.Duration) Option {
	return func(c *TTLCache) {
		if grace > 0 {
			c.staleGrace = grace
		}
	}
}

// WithMirror attaches a durable mirror. Mirror traffic is best-effort.
func WithMirror(m Mirror) Option {
	return func(c *TTLCache) {
		c.mirror = m
	}
}

// WithClock overrides the clock used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *TTLCache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(opts ...Option) *TTLCache {
	c := &TTLCache{
		entries:       make(map[string]Entry),
		defaultTTL:    DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		staleGrace:    DefaultStaleGrace,
		now:           time.Now,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartSweeper launches the background sweep loop. It returns immediately;
// the loop stops when ctx is cancelled or Close is called.
func (c *TTLCache) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				c.sweep(c.now())
			}
		}
	}()
}

// Close stops the background sweeper. Safe to call more than once.
func (c *TTLCache) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// Set stores value under key. A non-positive ttl falls back to the unified
// default; an empty kind is recorded as generic.
func (c *TTLCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, kind string) {
	if key == "" || value == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if kind == "" {
		kind = KindGeneric
	}
	entry := Entry{
		Key:       key,
		Value:     value,
		CreatedAt: c.now(),
		TTL:       ttl,
		Kind:      kind,
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	c.mirrorStore(ctx, entry)
}

// Get returns the live value for key. Expired entries are invisible even
// when still inside the stale grace window.
func (c *TTLCache) Get(ctx context.Context, key string) (interface{}, bool) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		if value, found := c.promoteFromMirror(ctx, key, now); found {
			c.hits.Add(1)
			return value, true
		}
		c.misses.Add(1)
		return nil, false
	}
	if entry.Expired(now) {
		if entry.BeyondGrace(now, c.staleGrace) {
			c.purge(key, entry.CreatedAt)
		}
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return entry.Value, true
}

// StaleValue is a GetStale result. IsStale marks values served past their
// TTL but within the grace period.
type StaleValue struct {
	Value   interface{} `json:"value"`
	IsStale bool        `json:"is_stale"`
}

// GetStale serves expired entries up to the grace period past expiry.
// Beyond the grace period the entry is purged and the read misses.
func (c *TTLCache) GetStale(ctx context.Context, key string) (*StaleValue, bool) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if !entry.Expired(now) {
		c.hits.Add(1)
		return &StaleValue{Value: entry.Value}, true
	}
	if entry.BeyondGrace(now, c.staleGrace) {
		c.purge(key, entry.CreatedAt)
		c.misses.Add(1)
		return nil, false
	}

	c.staleHits.Add(1)
	return &StaleValue{Value: entry.Value, IsStale: true}, true
}

// Invalidate removes key from the live store and the mirror.
func (c *TTLCache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	_, existed := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if c.mirror != nil {
		if err := c.mirror.Delete(ctx, key); err != nil {
			logger.Warn("Failed to invalidate mirrored entry",
				zap.Error(err),
				zap.String("key", key))
		}
	}
	if existed {
		logger.Debug("Cache entry invalidated", zap.String("key", key))
	}
}

// InvalidateByPrefix removes every key with the given prefix from the live
// store and the mirror, returning how many live entries were removed.
func (c *TTLCache) InvalidateByPrefix(ctx context.Context, prefix string) int {
	c.mu.Lock()
	var doomed []string
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			doomed = append(doomed, key)
		}
	}
	for _, key := range doomed {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if c.mirror != nil {
		if err := c.mirror.DeleteByPrefix(ctx, prefix); err != nil {
			logger.Warn("Failed to invalidate mirrored entries",
				zap.Error(err),
				zap.String("prefix", prefix))
		}
	}
	if len(doomed) > 0 {
		logger.Debug("Cache entries invalidated",
			zap.String("prefix", prefix),
			zap.Int("count", len(doomed)))
	}
	return len(doomed)
}

// Loader fetches the value for a cold key during Warm.
type Loader func(ctx context.Context, key string) (interface{}, error)

// Warm concurrently loads every key that lacks a currently valid entry.
// Keys that are already warm are skipped and their loader never runs.
func (c *TTLCache) Warm(ctx context.Context, keys []string, loader Loader) error {
	now := c.now()

	var cold []string
	c.mu.RLock()
	for _, key := range keys {
		if entry, ok := c.entries[key]; ok && !entry.Expired(now) {
			continue
		}
		cold = append(cold, key)
	}
	c.mu.RUnlock()
	if len(cold) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmConcurrency)
	for _, key := range cold {
		key := key
		g.Go(func() error {
			value, err := loader(gctx, key)
			if err != nil {
				return fmt.Errorf("failed to warm cache key %q: %w", key, err)
			}
			c.Set(gctx, key, value, 0, KindGeneric)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Debug("Cache warmed", zap.Int("keys", len(cold)))
	return nil
}

// EnsureConsistency sweeps dead entries, evicts structurally invalid ones,
// and re-syncs the mirror from the live store.
func (c *TTLCache) EnsureConsistency(ctx context.Context) {
	now := c.now()
	c.sweep(now)

	if c.mirror == nil {
		return
	}

	c.mu.RLock()
	live := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		if !entry.Expired(now) {
			live = append(live, entry)
		}
	}
	c.mu.RUnlock()

	for _, entry := range live {
		c.mirrorStore(ctx, entry)
	}
	logger.Debug("Cache consistency pass completed", zap.Int("mirrored", len(live)))
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size      int   `json:"size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	StaleHits int64 `json:"stale_hits"`
	Evictions int64 `json:"evictions"`
	Sweeps    int64 `json:"sweeps"`
}

func (c *TTLCache) GetStats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Size:      size,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		StaleHits: c.staleHits.Load(),
		Evictions: c.evictions.Load(),
		Sweeps:    c.sweeps.Load(),
	}
}

// sweep purges beyond-grace and malformed entries. The write lock is taken
// per key so a long scan never stalls foreground reads and writes.
func (c *TTLCache) sweep(now time.Time) {
	c.mu.RLock()
	var doomed []string
	for key, entry := range c.entries {
		if entry.BeyondGrace(now, c.staleGrace) || !entry.structurallyValid() {
			doomed = append(doomed, key)
		}
	}
	c.mu.RUnlock()

	for _, key := range doomed {
		c.mu.Lock()
		if entry, ok := c.entries[key]; ok &&
			(entry.BeyondGrace(now, c.staleGrace) || !entry.structurallyValid()) {
			delete(c.entries, key)
			c.evictions.Add(1)
		}
		c.mu.Unlock()
	}

	c.sweeps.Add(1)
	if len(doomed) > 0 {
		logger.Debug("Cache sweep completed", zap.Int("purged", len(doomed)))
	}
}

// purge removes key only if the stored entry is still the one observed by
// the caller; a concurrent Set wins.
func (c *TTLCache) purge(key string, createdAt time.Time) {
	c.mu.Lock()
	if current, ok := c.entries[key]; ok && current.CreatedAt.Equal(createdAt) {
		delete(c.entries, key)
		c.evictions.Add(1)
	}
	c.mu.Unlock()
}

// promoteFromMirror restores a missing key from the durable mirror. Only
// structurally valid, unexpired entries are promoted; anything else stays
// a miss. A concurrent Set wins over the mirrored copy.
func (c *TTLCache) promoteFromMirror(ctx context.Context, key string, now time.Time) (interface{}, bool) {
	if c.mirror == nil {
		return nil, false
	}
	entry, err := c.mirror.Load(ctx, key)
	if err != nil {
		logger.Warn("Failed to consult cache mirror",
			zap.Error(err),
			zap.String("key", key))
		return nil, false
	}
	if entry == nil || !entry.structurallyValid() || entry.Expired(now) {
		return nil, false
	}

	c.mu.Lock()
	if current, ok := c.entries[key]; ok {
		c.mu.Unlock()
		if current.Expired(now) {
			return nil, false
		}
		return current.Value, true
	}
	c.entries[key] = *entry
	c.mu.Unlock()

	logger.Debug("Cache entry promoted from mirror", zap.String("key", key))
	return entry.Value, true
}

func (c *TTLCache) mirrorStore(ctx context.Context, entry Entry) {
	if c.mirror == nil {
		return
	}
	if err := c.mirror.Store(ctx, entry); err != nil {
		logger.Warn("Failed to mirror cache entry",
			zap.Error(err),
			zap.String("key", entry.Key))
	}
}
