package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/sharplines/odds-fabric/internal/domain/dispatch"
)

// DispatchRepository keeps the dispatch audit trail in process. One record
// per dispatch ID; later events for the same dispatch overwrite status and
// error while preserving the first-seen order.
type DispatchRepository struct {
	mu    sync.RWMutex
	byID  map[string]dispatch.Event
	order []string
}

func NewDispatchRepository() *DispatchRepository {
	return &DispatchRepository{byID: make(map[string]dispatch.Event)}
}

func (r *DispatchRepository) UpsertEvent(_ context.Context, event dispatch.Event) error {
	if strings.TrimSpace(event.DispatchID) == "" {
		return errors.New("dispatch id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[event.DispatchID]; !ok {
		r.order = append(r.order, event.DispatchID)
	}
	r.byID[event.DispatchID] = event
	return nil
}

func (r *DispatchRepository) ListRecent(_ context.Context, jobName string, limit int) ([]dispatch.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]dispatch.Event, 0, len(r.order))
	for _, id := range r.order {
		event := r.byID[id]
		if jobName != "" && event.JobName != jobName {
			continue
		}
		out = append(out, event)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
