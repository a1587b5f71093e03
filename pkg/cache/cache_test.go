package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/enrich/pkg/cache"
)

func newCache(shared cache.Store) *cache.Cache {
	return cache.New(cache.DefaultConfig(), shared, nil)
}

func TestCache_PositiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newCache(nil)

	key := c.CellKey("row-1", "company")
	c.Set(ctx, key, "Acme")

	hit := c.Get(ctx, key)
	require.True(t, hit.Found)
	assert.False(t, hit.Negative)
	assert.Equal(t, "Acme", hit.Value)
}

func TestCache_MissIsNotFound(t *testing.T) {
	c := newCache(nil)
	hit := c.Get(context.Background(), c.CellKey("row-x", "title"))
	assert.False(t, hit.Found)
}

func TestCache_NegativeEntry(t *testing.T) {
	ctx := context.Background()
	c := newCache(nil)

	key := c.CellKey("row-1", "title")
	c.SetNegative(ctx, key)

	hit := c.Get(ctx, key)
	require.True(t, hit.Found)
	assert.True(t, hit.Negative)
	assert.Nil(t, hit.Value)
}

func TestCache_ExpiryIsAMiss(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := newCache(nil).WithClock(func() time.Time { return now })

	key := c.CellKey("row-1", "company")
	c.Set(ctx, key, "Acme")

	now = now.Add(2 * time.Hour)
	assert.False(t, c.Get(ctx, key).Found)
}

func TestCache_NegativeTTLShorterThanPositive(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := newCache(nil).WithClock(func() time.Time { return now })

	neg := c.CellKey("row-1", "title")
	pos := c.CellKey("row-1", "company")
	c.SetNegative(ctx, neg)
	c.Set(ctx, pos, "Acme")

	now = now.Add(10 * time.Minute)
	assert.False(t, c.Get(ctx, neg).Found, "negative entry expires after 5 minutes")
	assert.True(t, c.Get(ctx, pos).Found, "positive entry survives")
}

func TestCache_InvalidateAllBumpsVersion(t *testing.T) {
	ctx := context.Background()
	c := newCache(nil)

	key := c.CellKey("row-1", "company")
	c.Set(ctx, key, "Acme")

	c.InvalidateAll()
	assert.False(t, c.Get(ctx, c.CellKey("row-1", "company")).Found,
		"new version must not see old entries")
}

func TestCache_KeyShapes(t *testing.T) {
	c := newCache(nil)
	assert.Equal(t, "cell:v1:row-1:company", c.CellKey("row-1", "company"))
	assert.Equal(t, "prov:v1:row-1:hunter", c.ProviderKey("row-1", "hunter"))
}

func TestCache_Batch(t *testing.T) {
	ctx := context.Background()
	c := newCache(nil)

	k1 := c.CellKey("row-1", "name")
	k2 := c.CellKey("row-1", "company")
	c.SetMultiple(ctx, map[string]any{k1: "Jane Doe", k2: "Acme"})

	hits := c.GetMultiple(ctx, []string{k1, k2, c.CellKey("row-1", "title")})
	assert.Len(t, hits, 2)
	assert.Equal(t, "Jane Doe", hits[k1].Value)
	assert.Equal(t, "Acme", hits[k2].Value)
}

func TestMemoryStore_CapacityEviction(t *testing.T) {
	ctx := context.Background()
	s := cache.NewMemoryStore(2)
	now := time.Now()
	entry := func(v string) *cache.Entry {
		return &cache.Entry{Value: v, StoredAt: now, ExpiresAt: now.Add(time.Hour)}
	}
	require.NoError(t, s.Set(ctx, "a", entry("1"), time.Hour))
	require.NoError(t, s.Set(ctx, "b", entry("2"), time.Hour))
	require.NoError(t, s.Set(ctx, "c", entry("3"), time.Hour))

	assert.Equal(t, 2, s.Len())
	_, found, _ := s.Get(ctx, "a")
	assert.False(t, found, "oldest entry evicted at capacity")
}

// flakyStore fails every call, simulating a shared store outage.
type flakyStore struct{}

var errDown = errors.New("redis down")

func (flakyStore) Get(context.Context, string) (*cache.Entry, bool, error) {
	return nil, false, errDown
}
func (flakyStore) Set(context.Context, string, *cache.Entry, time.Duration) error { return errDown }
func (flakyStore) GetMultiple(context.Context, []string) (map[string]*cache.Entry, error) {
	return nil, errDown
}
func (flakyStore) SetMultiple(context.Context, map[string]*cache.Entry, time.Duration) error {
	return errDown
}

func TestCache_SharedStoreOutageFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	c := newCache(flakyStore{})

	key := c.CellKey("row-1", "company")
	c.Set(ctx, key, "Acme")

	hit := c.Get(ctx, key)
	require.True(t, hit.Found, "memory fallback must be authoritative during outage")
	assert.Equal(t, "Acme", hit.Value)
}

func TestCache_DisabledIsAlwaysMiss(t *testing.T) {
	cfg := cache.DefaultConfig()
	cfg.Enabled = false
	c := cache.New(cfg, nil, nil)

	ctx := context.Background()
	key := c.CellKey("row-1", "company")
	c.Set(ctx, key, "Acme")
	assert.False(t, c.Get(ctx, key).Found)
}
