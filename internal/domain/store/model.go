package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("item not found")

// Item is one record in the shared data store, keyed by a two-part composite
// key. IndexKey is optional; only items that set it appear in secondary
// index queries (the index is sparse).
type Item struct {
	PK         string
	SK         string
	IndexKey   string
	Attributes map[string]any
	UpdatedAt  time.Time
}

// SortRange bounds a query on the sort key. Zero values mean unbounded.
type SortRange struct {
	From string
	To   string
}

// Store is the only shared mutable resource in the fabric. It guarantees
// per-item atomic writes; concurrent writers to the same key must be
// idempotent, which holds because collectors scope their keys by sport and
// job family.
type Store interface {
	GetItem(ctx context.Context, pk, sk string) (Item, error)
	PutItem(ctx context.Context, item Item) error
	Query(ctx context.Context, indexKey string, sortRange SortRange) ([]Item, error)
	UpdateItem(ctx context.Context, pk, sk string, attrs map[string]any) error
}
