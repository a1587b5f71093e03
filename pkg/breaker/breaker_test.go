package breaker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/enrich/pkg/breaker"
	"github.com/rowforge/enrich/pkg/provider"
)

func testConfig() breaker.Config {
	cfg := breaker.DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.MinimumRequests = 3
	cfg.SuccessThreshold = 2
	cfg.ResetTimeout = 50 * time.Millisecond
	return cfg
}

var errBoom = errors.New("upstream 502")

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	m := breaker.NewManager(testConfig(), nil)

	for i := 0; i < 3; i++ {
		err := m.Execute("serp", func() error { return errBoom })
		require.ErrorIs(t, err, errBoom)
	}
	assert.False(t, m.Available("serp"), "breaker must be open after threshold failures")

	// Open breaker rejects without invoking the call.
	invoked := false
	err := m.Execute("serp", func() error { invoked = true; return nil })
	assert.ErrorIs(t, err, provider.ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	m := breaker.NewManager(testConfig(), nil)

	closed := make(chan string, 1)
	m.OnClose(func(name string) { closed <- name })

	for i := 0; i < 3; i++ {
		_ = m.Execute("hunter", func() error { return errBoom })
	}
	require.False(t, m.Available("hunter"))

	time.Sleep(80 * time.Millisecond)
	assert.True(t, m.Available("hunter"), "breaker should admit probes after reset timeout")

	// SuccessThreshold consecutive probe successes close the breaker.
	require.NoError(t, m.Execute("hunter", func() error { return nil }))
	require.NoError(t, m.Execute("hunter", func() error { return nil }))
	assert.True(t, m.Available("hunter"))

	select {
	case name := <-closed:
		assert.Equal(t, "hunter", name)
	case <-time.After(time.Second):
		t.Fatal("OnClose hook not invoked")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	m := breaker.NewManager(testConfig(), nil)
	for i := 0; i < 3; i++ {
		_ = m.Execute("whois", func() error { return errBoom })
	}
	time.Sleep(80 * time.Millisecond)

	err := m.Execute("whois", func() error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	assert.False(t, m.Available("whois"), "half-open failure must reopen the breaker")
}

func TestBreaker_AllCloseHooksRun(t *testing.T) {
	m := breaker.NewManager(testConfig(), nil)

	var calls atomic.Int32
	m.OnClose(func(string) { calls.Add(1) })
	m.OnClose(func(string) { calls.Add(1) })

	for i := 0; i < 3; i++ {
		_ = m.Execute("serp", func() error { return errBoom })
	}
	time.Sleep(80 * time.Millisecond)
	require.NoError(t, m.Execute("serp", func() error { return nil }))
	require.NoError(t, m.Execute("serp", func() error { return nil }))

	assert.EqualValues(t, 2, calls.Load(), "every registered hook fires on close")
}

func TestBreaker_LatencySamplesFloored(t *testing.T) {
	// A zero-valued config, e.g. an overlay that never sets the sample
	// window, must not break latency recording.
	m := breaker.NewManager(breaker.Config{Enabled: true}, nil)
	require.NoError(t, m.Execute("serp", func() error { return nil }))
	assert.EqualValues(t, 1, m.Metrics("serp").Requests)
}

func TestBreaker_CancellationsAreNotFailures(t *testing.T) {
	m := breaker.NewManager(testConfig(), nil)
	for i := 0; i < 10; i++ {
		_ = m.Execute("serp", func() error { return context.Canceled })
	}
	assert.True(t, m.Available("serp"), "abandoned calls must not trip the breaker")
	assert.Zero(t, m.Metrics("serp").Failures)
}

func TestBreaker_RejectionsAreNotFailures(t *testing.T) {
	m := breaker.NewManager(testConfig(), nil)
	for i := 0; i < 10; i++ {
		_ = m.Execute("linkedin", func() error { return provider.ErrBudgetExceeded })
	}
	assert.True(t, m.Available("linkedin"), "budget rejections must not trip the breaker")
	assert.Zero(t, m.Metrics("linkedin").Failures)
}

func TestBreaker_MinimumRequestsGuard(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	cfg.MinimumRequests = 5
	m := breaker.NewManager(cfg, nil)

	// Two failures but below the minimum request count: stays closed.
	_ = m.Execute("github", func() error { return errBoom })
	_ = m.Execute("github", func() error { return errBoom })
	assert.True(t, m.Available("github"))
}

func TestBreaker_HealthScore(t *testing.T) {
	m := breaker.NewManager(testConfig(), nil)

	assert.Equal(t, 0.5, m.HealthScore("fresh"), "unseen providers score neutral")

	for i := 0; i < 5; i++ {
		_ = m.Execute("good", func() error { return nil })
	}
	_ = m.Execute("bad", func() error { return nil })
	_ = m.Execute("bad", func() error { return errBoom })

	assert.Greater(t, m.HealthScore("good"), m.HealthScore("bad"))

	for i := 0; i < 3; i++ {
		_ = m.Execute("down", func() error { return errBoom })
	}
	assert.Zero(t, m.HealthScore("down"), "open breaker scores zero")
}

func TestBreaker_DisabledPassesThrough(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	m := breaker.NewManager(cfg, nil)
	for i := 0; i < 10; i++ {
		_ = m.Execute("x", func() error { return errBoom })
	}
	assert.True(t, m.Available("x"))
}
