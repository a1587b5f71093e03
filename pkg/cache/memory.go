package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is the in-process LRU tier, capped by entry count. Entries
// carry their own expiry; the LRU's TTL is only an upper bound used for
// self-cleaning.
type MemoryStore struct {
	lru   *expirable.LRU[string, *Entry]
	clock func() time.Time
}

// NewMemoryStore creates an LRU-backed store with the given capacity.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryStore{
		lru:   expirable.NewLRU[string, *Entry](maxEntries, nil, 2*time.Hour),
		clock: time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	entry, ok := s.lru.Get(key)
	if !ok || entry.Expired(s.clock()) {
		return nil, false, nil
	}
	return entry, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, entry *Entry, _ time.Duration) error {
	s.lru.Add(key, entry)
	return nil
}

func (s *MemoryStore) GetMultiple(ctx context.Context, keys []string) (map[string]*Entry, error) {
	out := make(map[string]*Entry, len(keys))
	for _, key := range keys {
		if entry, found, _ := s.Get(ctx, key); found {
			out[key] = entry
		}
	}
	return out, nil
}

func (s *MemoryStore) SetMultiple(ctx context.Context, entries map[string]*Entry, ttl time.Duration) error {
	for key, entry := range entries {
		_ = s.Set(ctx, key, entry, ttl)
	}
	return nil
}

// Len returns the number of live entries, for capacity tests.
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}
