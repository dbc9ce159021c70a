package memory

import (
	"context"
	"testing"
	"time"

	"github.com/sharplines/odds-fabric/internal/domain/deadletter"
)

func TestDeadLetterRepositoryListNewestFirstBySource(t *testing.T) {
	t.Parallel()

	repo := NewDeadLetterRepository()
	ctx := context.Background()
	at := time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)

	entries := []deadletter.Entry{
		{ID: "dl-1", Source: deadletter.SourceDispatcher, Reason: deadletter.ReasonAttemptsExhausted, DeadAt: at},
		{ID: "dl-2", Source: deadletter.SourceWorkQueue, Reason: deadletter.ReasonMaxReceiveCount, DeadAt: at.Add(time.Minute)},
		{ID: "dl-3", Source: deadletter.SourceDispatcher, Reason: deadletter.ReasonAttemptsExhausted, DeadAt: at.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := repo.Add(ctx, e); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	got, err := repo.List(ctx, deadletter.SourceDispatcher, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].ID != "dl-3" || got[1].ID != "dl-1" {
		t.Fatalf("order = %s, %s; want dl-3, dl-1", got[0].ID, got[1].ID)
	}

	all, err := repo.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("entries = %d, want 3", len(all))
	}

	limited, err := repo.List(ctx, "", 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "dl-3" {
		t.Fatalf("limited = %v", limited)
	}
}
