package ephemeral

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memItem struct {
	value     string
	hash      map[string]int64
	list      []string
	expiresAt time.Time
}

func (i *memItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryStore is an in-process Store for tests and single-node runs
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memItem
	now   func() time.Time
}

// NewMemoryStore creates an empty store using the wall clock
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*memItem),
		now:   time.Now,
	}
}

// SetClock replaces the clock used for expiry
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// get returns a live item, evicting it when expired. Caller holds mu.
func (s *MemoryStore) get(key string) (*memItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if item.expired(s.now()) {
		delete(s.items, key)
		return nil, false
	}
	return item, true
}

func (s *MemoryStore) hash(key string) *memItem {
	item, ok := s.get(key)
	if !ok || item.hash == nil {
		item = &memItem{hash: make(map[string]int64)}
		s.items[key] = item
	}
	return item
}

func (s *MemoryStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.hash(key)
	item.hash[field] += delta
	return item.hash[field], nil
}

func (s *MemoryStore) HIncrByMany(ctx context.Context, key string, values map[string]int64) error {
	if len(values) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.hash(key)
	for field, delta := range values {
		item.hash[field] += delta
	}
	return nil
}

func (s *MemoryStore) HGet(ctx context.Context, key, field string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.get(key)
	if !ok || item.hash == nil {
		return 0, false, nil
	}
	v, ok := item.hash[field]
	return v, ok, nil
}

func (s *MemoryStore) HDrain(ctx context.Context, key string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.get(key)
	delete(s.items, key)
	if !ok || item.hash == nil {
		return map[string]int64{}, nil
	}
	return item.hash, nil
}

func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.get(key); ok {
		return false, nil
	}
	item := &memItem{value: value}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = item
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.get(key)
	if !ok || item.hash != nil || item.list != nil {
		return "", false, nil
	}
	return item.value, true, nil
}

func (s *MemoryStore) GetDel(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.get(key)
	if !ok || item.hash != nil || item.list != nil {
		return "", false, nil
	}
	delete(s.items, key)
	return item.value, true, nil
}

func (s *MemoryStore) PushTrim(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.get(key)
	if !ok || item.list == nil {
		item = &memItem{list: []string{}}
		s.items[key] = item
	}
	item.list = append([]string{value}, item.list...)
	if maxLen > 0 && int64(len(item.list)) > maxLen {
		item.list = item.list[:maxLen]
	}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) LRange(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.get(key)
	if !ok {
		return []string{}, nil
	}
	return append([]string(nil), item.list...), nil
}

func (s *MemoryStore) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key := range s.items {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := s.get(key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
