// Package breaker tracks per-provider health. Each provider gets its own
// circuit breaker (sony/gobreaker) plus a rolling latency window; the
// planner and executor use the resulting health score to prefer the
// healthiest provider among equally priced candidates.
//
// Failures counted against a breaker: timeouts, 5xx, transport faults,
// and rate-limit exhaustion after every key has been tried. Explicit
// not-found answers, budget/breaker rejections and caller cancellations
// never count.
package breaker

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rowforge/enrich/pkg/provider"
)

// Config holds breaker parameters shared by every provider.
type Config struct {
	Enabled           bool
	FailureThreshold  uint32        // failures within Window that trip the breaker
	ResetTimeout      time.Duration // open → half-open delay
	SuccessThreshold  uint32        // consecutive half-open successes to close
	Window            time.Duration // rolling window for failure counting
	MinimumRequests   uint32        // minimum requests in window before tripping
	MaxLatencySamples int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		SuccessThreshold:  2,
		Window:            60 * time.Second,
		MinimumRequests:   3,
		MaxLatencySamples: 128,
	}
}

// Metrics is a snapshot of one provider's health counters.
type Metrics struct {
	Requests  uint32        `json:"requests"`
	Successes uint32        `json:"successes"`
	Failures  uint32        `json:"failures"`
	ErrorRate float64       `json:"error_rate"`
	P50       time.Duration `json:"p50_latency"`
	State     string        `json:"state"`
}

type providerBreaker struct {
	cb *gobreaker.CircuitBreaker

	mu        sync.Mutex
	latencies []time.Duration
	next      int
	filled    bool
	successes uint32
	failures  uint32
}

// Manager owns one breaker per provider name.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	breakers map[string]*providerBreaker
	onClose  []func(providerName string)
}

// NewManager creates a breaker manager.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxLatencySamples <= 0 {
		cfg.MaxLatencySamples = DefaultConfig().MaxLatencySamples
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.With("component", "breaker"),
		breakers: make(map[string]*providerBreaker),
	}
}

// OnClose registers a hook invoked whenever a provider's breaker returns
// to closed after an outage.
func (m *Manager) OnClose(fn func(providerName string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = append(m.onClose, fn)
}

func (m *Manager) get(name string) *providerBreaker {
	m.mu.RLock()
	pb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return pb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pb, ok = m.breakers[name]; ok {
		return pb
	}

	pb = &providerBreaker{
		latencies: make([]time.Duration, m.cfg.MaxLatencySamples),
	}
	pb.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: m.cfg.SuccessThreshold,
		Interval:    m.cfg.Window,
		Timeout:     m.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= m.cfg.MinimumRequests &&
				counts.TotalFailures >= m.cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || provider.Classify(err) == provider.ClassRejected
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Info("breaker state change",
				"provider", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateClosed && from != gobreaker.StateClosed {
				m.mu.RLock()
				hooks := append([]func(string){}, m.onClose...)
				m.mu.RUnlock()
				for _, hook := range hooks {
					hook(name)
				}
			}
		},
	})
	m.breakers[name] = pb
	return pb
}

// Available reports whether the provider accepts calls right now. An open
// breaker rejects everything; half-open admits limited probes via Execute.
func (m *Manager) Available(name string) bool {
	if !m.cfg.Enabled {
		return true
	}
	return m.get(name).cb.State() != gobreaker.StateOpen
}

// Execute runs fn under the provider's breaker, recording latency on
// completion. Open-state rejections surface as provider.ErrCircuitOpen.
func (m *Manager) Execute(name string, fn func() error) error {
	if !m.cfg.Enabled {
		return fn()
	}
	pb := m.get(name)
	start := time.Now()
	_, err := pb.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return provider.ErrCircuitOpen
	}
	pb.record(time.Since(start), err == nil || provider.Classify(err) == provider.ClassRejected)
	return err
}

func (pb *providerBreaker) record(latency time.Duration, success bool) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.latencies[pb.next] = latency
	pb.next++
	if pb.next == len(pb.latencies) {
		pb.next = 0
		pb.filled = true
	}
	if success {
		pb.successes++
	} else {
		pb.failures++
	}
}

// Metrics returns the provider's health snapshot.
func (m *Manager) Metrics(name string) Metrics {
	pb := m.get(name)
	pb.mu.Lock()
	defer pb.mu.Unlock()

	total := pb.successes + pb.failures
	var errorRate float64
	if total > 0 {
		errorRate = float64(pb.failures) / float64(total)
	}
	return Metrics{
		Requests:  total,
		Successes: pb.successes,
		Failures:  pb.failures,
		ErrorRate: errorRate,
		P50:       pb.p50Locked(),
		State:     pb.cb.State().String(),
	}
}

func (pb *providerBreaker) p50Locked() time.Duration {
	n := pb.next
	if pb.filled {
		n = len(pb.latencies)
	}
	if n == 0 {
		return 0
	}
	samples := make([]time.Duration, n)
	copy(samples, pb.latencies[:n])
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return samples[n/2]
}

// HealthScore grades a provider in [0,1]: success rate dominates, with a
// latency term so a slow-but-correct provider ranks below a fast one.
// Providers with no history score a neutral 0.5.
func (m *Manager) HealthScore(name string) float64 {
	metrics := m.Metrics(name)
	if metrics.State == gobreaker.StateOpen.String() {
		return 0
	}
	if metrics.Requests == 0 {
		return 0.5
	}
	successRate := 1 - metrics.ErrorRate
	latencyScore := 1.0 / (1.0 + metrics.P50.Seconds())
	return successRate*0.7 + latencyScore*0.3
}
