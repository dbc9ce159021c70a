package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/sharplines/odds-fabric/internal/domain/deadletter"
	"github.com/sharplines/odds-fabric/internal/domain/workqueue"
	"github.com/sharplines/odds-fabric/internal/platform/logging"
)

// MemoryQueueConfig mirrors the knobs of the redis-backed queue so the two
// are swappable in tests and single-process deployments.
type MemoryQueueConfig struct {
	VisibilityTimeout time.Duration
	MaxReceiveCount   int
}

func (c MemoryQueueConfig) withDefaults() MemoryQueueConfig {
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 30 * time.Second
	}
	if c.MaxReceiveCount <= 0 {
		c.MaxReceiveCount = 3
	}
	return c
}

type memoryEntry struct {
	item      workqueue.Item
	receipt   string
	invisible time.Time
}

// MemoryQueue is an in-process workqueue.Queue with the visibility and
// redrive semantics of the redis queue: a received item stays invisible for
// the visibility window, a nacked or expired item becomes receivable again,
// and an item received more than MaxReceiveCount times moves to the
// dead-letter repository instead of being redelivered.
type MemoryQueue struct {
	mu          sync.Mutex
	entries     []*memoryEntry
	cfg         MemoryQueueConfig
	deadletters deadletter.Repository
	logger      *logging.Logger
	now         func() time.Time
}

func NewMemoryQueue(cfg MemoryQueueConfig, deadletters deadletter.Repository, logger *logging.Logger) *MemoryQueue {
	if logger == nil {
		logger = logging.Default()
	}

	return &MemoryQueue{
		cfg:         cfg.withDefaults(),
		deadletters: deadletters,
		logger:      logger,
		now:         time.Now,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, item workqueue.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, &memoryEntry{item: item})
	return nil
}

func (q *MemoryQueue) ReceiveBatch(ctx context.Context, maxItems int, wait time.Duration) ([]workqueue.Delivery, error) {
	if maxItems <= 0 {
		maxItems = 1
	}

	deadline := q.now().Add(wait)
	for {
		deliveries := q.receiveVisible(ctx, maxItems)
		if len(deliveries) > 0 {
			return deliveries, nil
		}
		if wait <= 0 || !q.now().Before(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) receiveVisible(ctx context.Context, maxItems int) []workqueue.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []workqueue.Delivery
	kept := q.entries[:0]
	for _, e := range q.entries {
		if len(out) >= maxItems || now.Before(e.invisible) {
			kept = append(kept, e)
			continue
		}

		e.item.ReceiveCount++
		if e.item.ReceiveCount > q.cfg.MaxReceiveCount {
			q.redrive(ctx, e.item)
			continue
		}

		e.receipt = uuid.NewString()
		e.invisible = now.Add(q.cfg.VisibilityTimeout)
		out = append(out, workqueue.Delivery{Item: e.item, Receipt: e.receipt})
		kept = append(kept, e)
	}
	q.entries = kept
	return out
}

func (q *MemoryQueue) Ack(_ context.Context, d workqueue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.receipt == d.Receipt && e.receipt != "" {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return errors.Newf("unknown receipt %q", d.Receipt)
}

// Nack makes the item immediately receivable again instead of waiting out
// the visibility window.
func (q *MemoryQueue) Nack(_ context.Context, d workqueue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.receipt == d.Receipt && e.receipt != "" {
			e.receipt = ""
			e.invisible = time.Time{}
			return nil
		}
	}
	return errors.Newf("unknown receipt %q", d.Receipt)
}

func (q *MemoryQueue) redrive(ctx context.Context, item workqueue.Item) {
	if q.deadletters == nil {
		return
	}

	entry := deadletter.Entry{
		ID:         uuid.NewString(),
		Source:     deadletter.SourceWorkQueue,
		Reason:     deadletter.ReasonMaxReceiveCount,
		JobName:    "generate-analysis",
		Payload:    item.Payload(),
		Attempts:   item.ReceiveCount - 1,
		EnqueuedAt: item.EnqueuedAt,
		DeadAt:     q.now().UTC(),
	}
	if err := q.deadletters.Add(ctx, entry); err != nil {
		q.logger.WarnContext(ctx, "dead-letter redrive failed", "item_id", item.ID, "error", err)
	}
}
