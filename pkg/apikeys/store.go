package apikeys

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateKeyPrefix = "apikey:state:"
	stateTTL       = 7 * 24 * time.Hour
)

// RedisStateStore persists key states in a shared redis instance so every
// worker sees the same exhaustion view.
type RedisStateStore struct {
	client redis.UniversalClient
}

// NewRedisStateStore wraps an existing redis client.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (s *RedisStateStore) Load(ctx context.Context, providerName string) ([]KeyState, error) {
	raw, err := s.client.Get(ctx, stateKeyPrefix+providerName).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load key state: %w", err)
	}
	var states []KeyState
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, fmt.Errorf("decode key state: %w", err)
	}
	return states, nil
}

func (s *RedisStateStore) Save(ctx context.Context, providerName string, states []KeyState) error {
	raw, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("encode key state: %w", err)
	}
	if err := s.client.Set(ctx, stateKeyPrefix+providerName, raw, stateTTL).Err(); err != nil {
		return fmt.Errorf("save key state: %w", err)
	}
	return nil
}

// MemoryStateStore is a process-local StateStore used in tests and when
// no shared store is configured. Safe for use by multiple managers.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string][]KeyState
}

// NewMemoryStateStore creates an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string][]KeyState)}
}

func (s *MemoryStateStore) Load(_ context.Context, providerName string) ([]KeyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]KeyState(nil), s.states[providerName]...), nil
}

func (s *MemoryStateStore) Save(_ context.Context, providerName string, states []KeyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[providerName] = append([]KeyState(nil), states...)
	return nil
}
