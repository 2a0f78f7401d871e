package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMirror struct {
	mu            sync.Mutex
	stored        map[string]Entry
	deleted       []string
	deletedPrefix []string
	failStore     bool
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{stored: make(map[string]Entry)}
}

func (m *fakeMirror) Store(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStore {
		return errors.New("mirror unavailable")
	}
	m.stored[entry.Key] = entry
	return nil
}

func (m *fakeMirror) Load(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.stored[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *fakeMirror) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.stored, key)
		m.deleted = append(m.deleted, key)
	}
	return nil
}

func (m *fakeMirror) DeleteByPrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.stored {
		if strings.HasPrefix(key, prefix) {
			delete(m.stored, key)
		}
	}
	m.deletedPrefix = append(m.deletedPrefix, prefix)
	return nil
}

func newTestCache(opts ...Option) (*TTLCache, *time.Time) {
	current := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	opts = append(opts, WithClock(func() time.Time { return current }))
	return New(opts...), &current
}

func TestGetHidesExpiredButGetStaleServesIt(t *testing.T) {
	c, clock := newTestCache()
	ctx := context.Background()

	c.Set(ctx, "video:1", "grant-payload", 100*time.Millisecond, KindAccess)

	value, ok := c.Get(ctx, "video:1")
	require.True(t, ok)
	assert.Equal(t, "grant-payload", value)

	*clock = clock.Add(150 * time.Millisecond)

	_, ok = c.Get(ctx, "video:1")
	assert.False(t, ok)

	stale, ok := c.GetStale(ctx, "video:1")
	require.True(t, ok)
	assert.True(t, stale.IsStale)
	assert.Equal(t, "grant-payload", stale.Value)
}

func TestGetStaleFreshEntryIsNotStale(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute, KindGeneric)

	stale, ok := c.GetStale(ctx, "k")
	require.True(t, ok)
	assert.False(t, stale.IsStale)
	assert.Equal(t, "v", stale.Value)
}

func TestBeyondGracePurges(t *testing.T) {
	c, clock := newTestCache(WithStaleGrace(time.Hour))
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute, KindGeneric)
	*clock = clock.Add(time.Minute + time.Hour + time.Second)

	_, ok := c.GetStale(ctx, "k")
	assert.False(t, ok)

	c.mu.RLock()
	_, present := c.entries["k"]
	c.mu.RUnlock()
	assert.False(t, present)
	assert.Equal(t, int64(1), c.GetStats().Evictions)
}

func TestSetDefaultsTTLAndKind(t *testing.T) {
	c, clock := newTestCache()
	ctx := context.Background()

	c.Set(ctx, "k", "v", 0, "")

	c.mu.RLock()
	entry := c.entries["k"]
	c.mu.RUnlock()
	assert.Equal(t, DefaultTTL, entry.TTL)
	assert.Equal(t, KindGeneric, entry.Kind)

	*clock = clock.Add(DefaultTTL - time.Second)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)

	*clock = clock.Add(2 * time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestSetIgnoresEmptyKeyAndNilValue(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()

	c.Set(ctx, "", "v", time.Minute, KindGeneric)
	c.Set(ctx, "k", nil, time.Minute, KindGeneric)

	assert.Equal(t, 0, c.GetStats().Size)
}

func TestInvalidateRemovesLiveAndMirrored(t *testing.T) {
	mirror := newFakeMirror()
	c, _ := newTestCache(WithMirror(mirror))
	ctx := context.Background()

	c.Set(ctx, "subscription:alice", "premium", time.Minute, KindSubscription)
	require.Contains(t, mirror.stored, "subscription:alice")

	c.Invalidate(ctx, "subscription:alice")

	_, ok := c.Get(ctx, "subscription:alice")
	assert.False(t, ok)
	assert.NotContains(t, mirror.stored, "subscription:alice")
	assert.Contains(t, mirror.deleted, "subscription:alice")
}

func TestInvalidateByPrefix(t *testing.T) {
	mirror := newFakeMirror()
	c, _ := newTestCache(WithMirror(mirror))
	ctx := context.Background()

	c.Set(ctx, "subscription:alice", "premium", time.Minute, KindSubscription)
	c.Set(ctx, "subscription:bob", "free", time.Minute, KindSubscription)
	c.Set(ctx, "access:video-1", "grant", time.Minute, KindAccess)

	removed := c.InvalidateByPrefix(ctx, "subscription:")
	assert.Equal(t, 2, removed)

	_, ok := c.Get(ctx, "subscription:alice")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "access:video-1")
	assert.True(t, ok)
	assert.Contains(t, mirror.deletedPrefix, "subscription:")
}

func TestWarmSkipsWarmKeys(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()

	c.Set(ctx, "warm-key", "already-here", time.Minute, KindGeneric)

	var mu sync.Mutex
	loaded := make(map[string]int)
	loader := func(_ context.Context, key string) (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		loaded[key]++
		return "loaded:" + key, nil
	}

	err := c.Warm(ctx, []string{"warm-key", "cold-1", "cold-2"}, loader)
	require.NoError(t, err)

	assert.NotContains(t, loaded, "warm-key")
	assert.Equal(t, 1, loaded["cold-1"])
	assert.Equal(t, 1, loaded["cold-2"])

	value, ok := c.Get(ctx, "warm-key")
	require.True(t, ok)
	assert.Equal(t, "already-here", value)

	value, ok = c.Get(ctx, "cold-1")
	require.True(t, ok)
	assert.Equal(t, "loaded:cold-1", value)
}

func TestWarmReloadsExpiredKeys(t *testing.T) {
	c, clock := newTestCache()
	ctx := context.Background()

	c.Set(ctx, "k", "old", time.Minute, KindGeneric)
	*clock = clock.Add(2 * time.Minute)

	loader := func(_ context.Context, key string) (interface{}, error) {
		return "fresh", nil
	}
	require.NoError(t, c.Warm(ctx, []string{"k"}, loader))

	value, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "fresh", value)
}

func TestWarmPropagatesLoaderFailure(t *testing.T) {
	c, _ := newTestCache()

	loader := func(_ context.Context, key string) (interface{}, error) {
		return nil, errors.New("upstream down")
	}
	err := c.Warm(context.Background(), []string{"cold"}, loader)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cold")
}

func TestEnsureConsistencyEvictsMalformedAndResyncsMirror(t *testing.T) {
	mirror := newFakeMirror()
	c, _ := newTestCache(WithMirror(mirror))
	ctx := context.Background()

	c.Set(ctx, "good", "v", time.Minute, KindGeneric)

	// Simulate a corrupted entry that bypassed Set.
	c.mu.Lock()
	c.entries["bad"] = Entry{Key: "bad", Value: nil, TTL: 0}
	c.mu.Unlock()

	mirror.mu.Lock()
	mirror.stored = make(map[string]Entry)
	mirror.mu.Unlock()

	c.EnsureConsistency(ctx)

	c.mu.RLock()
	_, badPresent := c.entries["bad"]
	c.mu.RUnlock()
	assert.False(t, badPresent)

	mirror.mu.Lock()
	_, goodMirrored := mirror.stored["good"]
	mirror.mu.Unlock()
	assert.True(t, goodMirrored)
}

func TestSweepKeepsInGraceEntries(t *testing.T) {
	c, clock := newTestCache(WithStaleGrace(time.Hour))
	ctx := context.Background()

	c.Set(ctx, "in-grace", "v", time.Minute, KindGeneric)
	c.Set(ctx, "beyond", "v", time.Minute, KindGeneric)
	c.Set(ctx, "fresh", "v", time.Hour, KindGeneric)

	// Both one-minute entries are expired after the jump, but only the
	// backdated one has outlived the grace period.
	*clock = clock.Add(30 * time.Minute)
	c.mu.Lock()
	entry := c.entries["beyond"]
	entry.CreatedAt = entry.CreatedAt.Add(-6 * time.Hour)
	c.entries["beyond"] = entry
	c.mu.Unlock()

	c.sweep(c.now())

	c.mu.RLock()
	_, inGrace := c.entries["in-grace"]
	_, beyond := c.entries["beyond"]
	_, fresh := c.entries["fresh"]
	c.mu.RUnlock()

	assert.True(t, inGrace)
	assert.False(t, beyond)
	assert.True(t, fresh)
	assert.Equal(t, int64(1), c.GetStats().Sweeps)
}

func TestGetPromotesValidMirrorEntry(t *testing.T) {
	mirror := newFakeMirror()
	c, clock := newTestCache(WithMirror(mirror))
	ctx := context.Background()

	mirror.stored["restored"] = Entry{
		Key:       "restored",
		Value:     "from-mirror",
		CreatedAt: *clock,
		TTL:       time.Minute,
		Kind:      KindGeneric,
	}

	value, ok := c.Get(ctx, "restored")
	require.True(t, ok)
	assert.Equal(t, "from-mirror", value)

	// Promoted into the live store.
	c.mu.RLock()
	_, present := c.entries["restored"]
	c.mu.RUnlock()
	assert.True(t, present)
}

func TestGetIgnoresExpiredMirrorEntry(t *testing.T) {
	mirror := newFakeMirror()
	c, clock := newTestCache(WithMirror(mirror))
	ctx := context.Background()

	mirror.stored["dead"] = Entry{
		Key:       "dead",
		Value:     "v",
		CreatedAt: clock.Add(-time.Hour),
		TTL:       time.Minute,
		Kind:      KindGeneric,
	}

	_, ok := c.Get(ctx, "dead")
	assert.False(t, ok)
}

func TestMirrorFailuresDoNotSurface(t *testing.T) {
	mirror := newFakeMirror()
	mirror.failStore = true
	c, _ := newTestCache(WithMirror(mirror))
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute, KindGeneric)

	value, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestGetStatsCounters(t *testing.T) {
	c, clock := newTestCache()
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute, KindGeneric)
	c.Get(ctx, "k")
	c.Get(ctx, "absent")
	*clock = clock.Add(2 * time.Minute)
	c.GetStale(ctx, "k")

	stats := c.GetStats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.StaleHits)
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _ := newTestCache()
	c.StartSweeper(context.Background())
	c.Close()
	c.Close()
}
