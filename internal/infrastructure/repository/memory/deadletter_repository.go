package memory

import (
	"context"
	"sync"

	"github.com/sharplines/odds-fabric/internal/domain/deadletter"
)

type DeadLetterRepository struct {
	mu      sync.RWMutex
	entries []deadletter.Entry
}

func NewDeadLetterRepository() *DeadLetterRepository {
	return &DeadLetterRepository{}
}

func (r *DeadLetterRepository) Add(_ context.Context, entry deadletter.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

// List returns entries newest first, filtered by source when one is given.
func (r *DeadLetterRepository) List(_ context.Context, source deadletter.Source, limit int) ([]deadletter.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]deadletter.Entry, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		entry := r.entries[i]
		if source != "" && entry.Source != source {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
