// Package apikeys manages the rotating pool of API keys for one provider.
// Keys move between active, exhausted and error states; exhausted keys
// recover after a configurable cool-down. State is persisted to a shared
// store best-effort so that parallel workers converge on the same pool
// view, and falls back to process-local state when the store is down.
package apikeys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rowforge/enrich/pkg/provider"
)

// Status is the lifecycle state of one key.
type Status string

const (
	StatusActive    Status = "active"
	StatusExhausted Status = "exhausted"
	StatusError     Status = "error"
)

// KeyState tracks one key in the pool.
type KeyState struct {
	Key         string     `json:"key"`
	Status      Status     `json:"status"`
	ErrorCount  int        `json:"error_count"`
	ExhaustedAt *time.Time `json:"exhausted_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// StateStore persists per-provider key state. Any failure is treated as
// "no state available"; the manager never blocks a call on persistence.
type StateStore interface {
	Load(ctx context.Context, providerName string) ([]KeyState, error)
	Save(ctx context.Context, providerName string, states []KeyState) error
}

// ErrAllKeysExhausted means every key in the pool is out of quota.
var ErrAllKeysExhausted = errors.New("all api keys exhausted")

// Config tunes rotation behavior.
type Config struct {
	RecoveryTime          time.Duration // exhausted → active cool-down
	MaxErrorsBeforeSwitch int           // error count that promotes to exhausted
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RecoveryTime:          15 * time.Minute,
		MaxErrorsBeforeSwitch: 3,
	}
}

// quotaMarkers are substrings of upstream error bodies that mean the key
// is out of quota even when the status code is ambiguous.
var quotaMarkers = []string{
	"quota exceeded",
	"rate limit",
	"too many requests",
	"usage limit",
	"credits exhausted",
	"plan limit",
}

// IsQuotaError reports whether an error message carries a known quota marker.
func IsQuotaError(msg string) bool {
	m := strings.ToLower(msg)
	for _, marker := range quotaMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}

// Manager rotates keys for a single provider.
type Manager struct {
	providerName string
	cfg          Config
	store        StateStore
	logger       *slog.Logger

	mu    sync.Mutex
	keys  []*KeyState
	clock func() time.Time
}

// NewManager creates a manager for the given comma-separated key list.
// Previously persisted state is merged in; unknown persisted keys are
// dropped, new keys start active.
func NewManager(providerName string, keys []string, store StateStore, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		providerName: providerName,
		cfg:          cfg,
		store:        store,
		logger:       logger.With("component", "apikeys", "provider", providerName),
		clock:        time.Now,
	}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k != "" {
			m.keys = append(m.keys, &KeyState{Key: k, Status: StatusActive})
		}
	}
	m.restore(context.Background())
	return m
}

// WithClock overrides the clock for deterministic tests.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

func (m *Manager) restore(ctx context.Context) {
	if m.store == nil {
		return
	}
	persisted, err := m.store.Load(ctx, m.providerName)
	if err != nil {
		m.logger.Warn("key state restore failed, using local state", "error", err)
		return
	}
	byKey := make(map[string]KeyState, len(persisted))
	for _, s := range persisted {
		byKey[s.Key] = s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if s, ok := byKey[k.Key]; ok {
			*k = s
		}
	}
}

func (m *Manager) persistLocked(ctx context.Context) {
	if m.store == nil {
		return
	}
	states := make([]KeyState, len(m.keys))
	for i, k := range m.keys {
		states[i] = *k
	}
	if err := m.store.Save(ctx, m.providerName, states); err != nil {
		m.logger.Warn("key state persist failed", "error", err)
	}
}

// GetKey returns the first active key, recovering exhausted keys whose
// cool-down has elapsed.
func (m *Manager) GetKey(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getKeyLocked(ctx)
}

func (m *Manager) getKeyLocked(ctx context.Context) (string, error) {
	for _, k := range m.keys {
		if k.Status == StatusActive {
			return k.Key, nil
		}
	}
	// Recover cooled-down keys.
	now := m.clock()
	recovered := false
	for _, k := range m.keys {
		if k.Status == StatusExhausted && k.ExhaustedAt != nil &&
			now.Sub(*k.ExhaustedAt) >= m.cfg.RecoveryTime {
			k.Status = StatusActive
			k.ErrorCount = 0
			k.ExhaustedAt = nil
			recovered = true
		}
	}
	if recovered {
		m.persistLocked(ctx)
		for _, k := range m.keys {
			if k.Status == StatusActive {
				return k.Key, nil
			}
		}
	}
	return "", fmt.Errorf("%s: %w", m.providerName, ErrAllKeysExhausted)
}

// MarkExhausted takes a key out of rotation for the recovery period.
func (m *Manager) MarkExhausted(ctx context.Context, key, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markExhaustedLocked(ctx, key, reason)
}

func (m *Manager) markExhaustedLocked(ctx context.Context, key, reason string) {
	for _, k := range m.keys {
		if k.Key == key {
			now := m.clock()
			k.Status = StatusExhausted
			k.ExhaustedAt = &now
			k.LastError = reason
			m.logger.Info("key exhausted", "reason", reason)
			m.persistLocked(ctx)
			return
		}
	}
}

// MarkError increments a key's error count, promoting it to exhausted
// once MaxErrorsBeforeSwitch is reached.
func (m *Manager) MarkError(ctx context.Context, key string, callErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.Key == key {
			k.ErrorCount++
			k.LastError = callErr.Error()
			if k.ErrorCount >= m.cfg.MaxErrorsBeforeSwitch {
				m.markExhaustedLocked(ctx, key, fmt.Sprintf("%d consecutive errors", k.ErrorCount))
			} else {
				m.persistLocked(ctx)
			}
			return
		}
	}
}

// WithKey runs fn with each active key at most once, rotating only on
// rate-limit/quota errors. Any other error bubbles up after one attempt.
func (m *Manager) WithKey(ctx context.Context, fn func(key string) error) error {
	tried := make(map[string]bool)
	for {
		key, err := m.GetKey(ctx)
		if err != nil {
			return err
		}
		if tried[key] {
			return fmt.Errorf("%s: %w", m.providerName, ErrAllKeysExhausted)
		}
		tried[key] = true

		callErr := fn(key)
		if callErr == nil {
			return nil
		}
		switch provider.Classify(callErr) {
		case provider.ClassRateLimited:
			m.MarkExhausted(ctx, key, callErr.Error())
			continue
		default:
			if IsQuotaError(callErr.Error()) {
				m.MarkExhausted(ctx, key, callErr.Error())
				continue
			}
			m.MarkError(ctx, key, callErr)
			return callErr
		}
	}
}

// States returns a copy of all key states.
func (m *Manager) States() []KeyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]KeyState, len(m.keys))
	for i, k := range m.keys {
		out[i] = *k
	}
	return out
}
