package apikeys_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/enrich/pkg/apikeys"
	"github.com/rowforge/enrich/pkg/provider"
)

func newManager(t *testing.T, store apikeys.StateStore, keys ...string) *apikeys.Manager {
	t.Helper()
	return apikeys.NewManager("hunter", keys, store, apikeys.DefaultConfig(), nil)
}

func TestGetKey_FirstActive(t *testing.T) {
	m := newManager(t, nil, "k1", "k2")
	key, err := m.GetKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "k1", key)
}

func TestMarkExhausted_Rotates(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, "k1", "k2")
	m.MarkExhausted(ctx, "k1", "429 too many requests")

	key, err := m.GetKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "k2", key)
}

func TestGetKey_AllExhausted(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, "k1")
	m.MarkExhausted(ctx, "k1", "quota exceeded")
	_, err := m.GetKey(ctx)
	assert.ErrorIs(t, err, apikeys.ErrAllKeysExhausted)
}

func TestGetKey_RecoversAfterCooldown(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := newManager(t, nil, "k1").WithClock(func() time.Time { return now })
	m.MarkExhausted(ctx, "k1", "quota exceeded")

	_, err := m.GetKey(ctx)
	require.ErrorIs(t, err, apikeys.ErrAllKeysExhausted)

	now = now.Add(apikeys.DefaultConfig().RecoveryTime + time.Minute)
	key, err := m.GetKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "k1", key)
}

func TestMarkError_PromotesToExhausted(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, "k1", "k2")
	for i := 0; i < apikeys.DefaultConfig().MaxErrorsBeforeSwitch; i++ {
		m.MarkError(ctx, "k1", errors.New("connection reset"))
	}
	key, err := m.GetKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "k2", key)
}

func TestWithKey_RotatesOnRateLimitOnly(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, "k1", "k2")

	var used []string
	err := m.WithKey(ctx, func(key string) error {
		used = append(used, key)
		if key == "k1" {
			return &provider.HTTPError{Provider: "hunter", Code: 429}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, used)

	// The exhausted key's state is visible.
	states := m.States()
	assert.Equal(t, apikeys.StatusExhausted, states[0].Status)
	assert.Equal(t, apikeys.StatusActive, states[1].Status)
}

func TestWithKey_NonQuotaErrorBubbles(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, "k1", "k2")

	boom := errors.New("malformed response")
	calls := 0
	err := m.WithKey(ctx, func(key string) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "non-quota errors must not rotate")
}

func TestWithKey_QuotaMarkerInBody(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, "k1", "k2")

	err := m.WithKey(ctx, func(key string) error {
		if key == "k1" {
			return errors.New("upstream said: monthly quota exceeded")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, apikeys.StatusExhausted, m.States()[0].Status)
}

func TestWithKey_AllExhausted(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil, "k1", "k2")
	err := m.WithKey(ctx, func(key string) error {
		return provider.ErrRateLimited
	})
	assert.ErrorIs(t, err, apikeys.ErrAllKeysExhausted)
}

func TestPersistence_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := apikeys.NewMemoryStateStore()

	m1 := newManager(t, store, "k1", "k2")
	m1.MarkExhausted(ctx, "k1", "quota exceeded")

	// A second manager (another worker) restores the exhausted state.
	m2 := newManager(t, store, "k1", "k2")
	key, err := m2.GetKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "k2", key)
	assert.Equal(t, apikeys.StatusExhausted, m2.States()[0].Status)
}

func TestMemoryStateStore_ConcurrentManagers(t *testing.T) {
	ctx := context.Background()
	store := apikeys.NewMemoryStateStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := newManager(t, store, "k1", "k2")
			m.MarkExhausted(ctx, "k1", "quota exceeded")
			_, _ = m.GetKey(ctx)
		}()
	}
	wg.Wait()

	states, err := store.Load(ctx, "hunter")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, apikeys.StatusExhausted, states[0].Status)
}

type failingStore struct{}

func (failingStore) Load(context.Context, string) ([]apikeys.KeyState, error) {
	return nil, errors.New("store down")
}
func (failingStore) Save(context.Context, string, []apikeys.KeyState) error {
	return errors.New("store down")
}

func TestPersistenceFailure_FallsBackLocally(t *testing.T) {
	ctx := context.Background()
	m := apikeys.NewManager("hunter", []string{"k1", "k2"}, failingStore{}, apikeys.DefaultConfig(), nil)

	m.MarkExhausted(ctx, "k1", "quota exceeded")
	key, err := m.GetKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "k2", key, "local state must keep working when the store is down")
}

func TestIsQuotaError(t *testing.T) {
	assert.True(t, apikeys.IsQuotaError("Rate limit reached for requests"))
	assert.True(t, apikeys.IsQuotaError("monthly QUOTA EXCEEDED"))
	assert.False(t, apikeys.IsQuotaError("connection refused"))
}
