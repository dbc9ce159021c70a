package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sharplines/odds-fabric/internal/domain/store"
)

func TestItemStoreGetMissing(t *testing.T) {
	t.Parallel()

	s := NewItemStore()
	if _, err := s.GetItem(context.Background(), "analysis#nba", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestItemStorePutGetRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewItemStore()
	ctx := context.Background()

	in := store.Item{
		PK:         "analysis#nba",
		SK:         "power-rating#games",
		IndexKey:   "analysis#nba",
		Attributes: map[string]any{"duration_ms": int64(120)},
		UpdatedAt:  time.Date(2026, time.January, 5, 14, 0, 0, 0, time.UTC),
	}
	if err := s.PutItem(ctx, in); err != nil {
		t.Fatalf("PutItem: %v", err)
	}

	got, err := s.GetItem(ctx, in.PK, in.SK)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.Attributes["duration_ms"] != int64(120) {
		t.Fatalf("attributes = %v", got.Attributes)
	}

	// Mutating a read result must not leak back into the store.
	got.Attributes["duration_ms"] = int64(999)
	again, err := s.GetItem(ctx, in.PK, in.SK)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if again.Attributes["duration_ms"] != int64(120) {
		t.Fatal("stored item mutated through read result")
	}
}

func TestItemStoreSparseIndexQuery(t *testing.T) {
	t.Parallel()

	s := NewItemStore()
	ctx := context.Background()

	items := []store.Item{
		{PK: "analysis#nba", SK: "a#games", IndexKey: "analysis#nba"},
		{PK: "analysis#nba", SK: "b#games", IndexKey: "analysis#nba"},
		{PK: "analysis#nba", SK: "c#games"}, // no index key: invisible to queries
		{PK: "analysis#nhl", SK: "a#games", IndexKey: "analysis#nhl"},
	}
	for _, item := range items {
		if err := s.PutItem(ctx, item); err != nil {
			t.Fatalf("PutItem: %v", err)
		}
	}

	got, err := s.Query(ctx, "analysis#nba", store.SortRange{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("query returned %d items, want 2", len(got))
	}
	if got[0].SK != "a#games" || got[1].SK != "b#games" {
		t.Fatalf("order = %q, %q", got[0].SK, got[1].SK)
	}
}

func TestItemStoreQuerySortRange(t *testing.T) {
	t.Parallel()

	s := NewItemStore()
	ctx := context.Background()

	for _, sk := range []string{"a", "b", "c", "d"} {
		if err := s.PutItem(ctx, store.Item{PK: "p", SK: sk, IndexKey: "idx"}); err != nil {
			t.Fatalf("PutItem: %v", err)
		}
	}

	got, err := s.Query(ctx, "idx", store.SortRange{From: "b", To: "c"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 || got[0].SK != "b" || got[1].SK != "c" {
		t.Fatalf("range query = %+v, want b and c", got)
	}
}

func TestItemStoreUpdateMergesAttributes(t *testing.T) {
	t.Parallel()

	s := NewItemStore()
	ctx := context.Background()

	if err := s.PutItem(ctx, store.Item{
		PK:         "p",
		SK:         "s",
		Attributes: map[string]any{"kept": "yes", "replaced": "old"},
	}); err != nil {
		t.Fatalf("PutItem: %v", err)
	}

	if err := s.UpdateItem(ctx, "p", "s", map[string]any{"replaced": "new", "added": 1}); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	got, err := s.GetItem(ctx, "p", "s")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.Attributes["kept"] != "yes" || got.Attributes["replaced"] != "new" || got.Attributes["added"] != 1 {
		t.Fatalf("attributes = %v", got.Attributes)
	}

	if err := s.UpdateItem(ctx, "p", "missing", map[string]any{"x": 1}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("update missing item err = %v, want ErrNotFound", err)
	}
}
