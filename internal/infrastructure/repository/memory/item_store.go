package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sharplines/odds-fabric/internal/domain/store"
)

type itemKey struct {
	pk string
	sk string
}

// ItemStore is the in-process store.Store. Writes replace whole items
// atomically under one lock, which satisfies the per-item atomicity the
// collectors rely on.
type ItemStore struct {
	mu    sync.RWMutex
	items map[itemKey]store.Item
	now   func() time.Time
}

func NewItemStore() *ItemStore {
	return &ItemStore{
		items: make(map[itemKey]store.Item),
		now:   time.Now,
	}
}

func (s *ItemStore) GetItem(_ context.Context, pk, sk string) (store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemKey{pk: pk, sk: sk}]
	if !ok {
		return store.Item{}, store.ErrNotFound
	}
	return cloneItem(item), nil
}

func (s *ItemStore) PutItem(_ context.Context, item store.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = s.now().UTC()
	}
	s.items[itemKey{pk: item.PK, sk: item.SK}] = cloneItem(item)
	return nil
}

// Query scans the sparse secondary index: only items with a matching
// IndexKey participate. Results are ordered by sort key.
func (s *ItemStore) Query(_ context.Context, indexKey string, sortRange store.SortRange) ([]store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Item
	for _, item := range s.items {
		if item.IndexKey == "" || item.IndexKey != indexKey {
			continue
		}
		if sortRange.From != "" && item.SK < sortRange.From {
			continue
		}
		if sortRange.To != "" && item.SK > sortRange.To {
			continue
		}
		out = append(out, cloneItem(item))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SK < out[j].SK })
	return out, nil
}

func (s *ItemStore) UpdateItem(_ context.Context, pk, sk string, attrs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := itemKey{pk: pk, sk: sk}
	item, ok := s.items[key]
	if !ok {
		return store.ErrNotFound
	}

	item = cloneItem(item)
	if item.Attributes == nil {
		item.Attributes = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		item.Attributes[k] = v
	}
	item.UpdatedAt = s.now().UTC()
	s.items[key] = item
	return nil
}

func cloneItem(item store.Item) store.Item {
	if item.Attributes == nil {
		return item
	}
	attrs := make(map[string]any, len(item.Attributes))
	for k, v := range item.Attributes {
		attrs[k] = v
	}
	item.Attributes = attrs
	return item
}
