package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/cockroachdb/errors"

	"github.com/sharplines/odds-fabric/internal/domain/job"
	"github.com/sharplines/odds-fabric/internal/domain/store"
	"github.com/sharplines/odds-fabric/internal/domain/workqueue"
	"github.com/sharplines/odds-fabric/internal/platform/logging"
)

// WorkerConfig sizes the drain loop. BatchSize must not exceed what the queue
// returns per receive; PollWait is the long-poll window handed to the queue.
// InvokeTimeout only applies when the worker's job carries no budget.
type WorkerConfig struct {
	PoolSize      int
	BatchSize     int
	PollWait      time.Duration
	InvokeTimeout time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.PollWait <= 0 {
		c.PollWait = 10 * time.Second
	}
	if c.InvokeTimeout <= 0 {
		c.InvokeTimeout = 14 * time.Minute
	}
	return c
}

// BatchOutcome reports one drained batch. Acked and Nacked sum to the batch
// size; Superseded counts items acked without invocation because a fresher
// run already covered them.
type BatchOutcome struct {
	Acked      int
	Nacked     int
	Superseded int
}

// WorkerService drains the analysis work queue. Each delivery is processed on
// its own pool goroutine and acked or nacked individually, so one failing
// item returns to the queue without dragging its batchmates back with it.
type WorkerService struct {
	queue       workqueue.Queue
	invoker     HandlerInvoker
	analysisJob job.Job
	store       store.Store
	cfg         WorkerConfig
	logger      *logging.Logger
	pool        *ants.Pool
	now         func() time.Time
}

func NewWorkerService(
	queue workqueue.Queue,
	invoker HandlerInvoker,
	analysisJob job.Job,
	dataStore store.Store,
	cfg WorkerConfig,
	logger *logging.Logger,
) (*WorkerService, error) {
	if queue == nil {
		return nil, errors.Wrap(ErrInvalidInput, "worker queue is required")
	}
	if invoker == nil {
		return nil, errors.Wrap(ErrInvalidInput, "worker invoker is required")
	}
	if analysisJob.Handler == "" {
		return nil, errors.Wrap(ErrInvalidInput, "worker job handler is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg = cfg.withDefaults()

	pool, err := ants.NewPool(cfg.PoolSize, ants.WithNonblocking(false))
	if err != nil {
		return nil, errors.Wrap(err, "create worker pool")
	}

	return &WorkerService{
		queue:       queue,
		invoker:     invoker,
		analysisJob: analysisJob,
		store:       dataStore,
		cfg:         cfg,
		logger:      logger,
		pool:        pool,
		now:         time.Now,
	}, nil
}

// Run drains the queue until ctx is canceled.
func (s *WorkerService) Run(ctx context.Context) error {
	defer s.pool.Release()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deliveries, err := s.queue.ReceiveBatch(ctx, s.cfg.BatchSize, s.cfg.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.WarnContext(ctx, "receive batch failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if len(deliveries) == 0 {
			continue
		}

		s.ProcessBatch(ctx, deliveries)
	}
}

// ProcessBatch fans the deliveries out over the pool and waits for all of
// them to settle.
func (s *WorkerService) ProcessBatch(ctx context.Context, deliveries []workqueue.Delivery) BatchOutcome {
	ctx, span := startUsecaseSpan(ctx, "usecase.WorkerService.ProcessBatch")
	defer span.End()

	var (
		mu      sync.Mutex
		outcome BatchOutcome
		wg      sync.WaitGroup
	)

	for _, d := range deliveries {
		d := d
		wg.Add(1)
		submit := func() {
			defer wg.Done()

			acked, superseded := s.processOne(ctx, d)

			mu.Lock()
			defer mu.Unlock()
			if acked {
				outcome.Acked++
				if superseded {
					outcome.Superseded++
				}
			} else {
				outcome.Nacked++
			}
		}
		if err := s.pool.Submit(submit); err != nil {
			// Pool released mid-shutdown: run inline so the item still
			// settles.
			submit()
		}
	}

	wg.Wait()
	return outcome
}

// processOne settles a single delivery. Returns (acked, superseded).
func (s *WorkerService) processOne(ctx context.Context, d workqueue.Delivery) (bool, bool) {
	if s.isSuperseded(ctx, d.Item) {
		if err := s.queue.Ack(ctx, d); err != nil {
			s.logger.WarnContext(ctx, "ack superseded item failed", "item_id", d.Item.ID, "error", err)
			return false, false
		}
		return true, true
	}

	// The job's wall-clock budget bounds the invocation; InvokeTimeout is
	// the fallback for a job registered without one.
	timeout := s.analysisJob.Budget.Timeout
	if timeout <= 0 {
		timeout = s.cfg.InvokeTimeout
	}
	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	result, err := s.invoker.Invoke(invokeCtx, s.analysisJob.Handler, d.Item.Payload())
	cancel()

	if err != nil || !result.Success {
		if err == nil {
			err = errors.Newf("handler %s reported failure", s.analysisJob.Handler)
		}
		s.logger.WarnContext(ctx, "analysis item failed",
			"item_id", d.Item.ID,
			"receive_count", d.Item.ReceiveCount,
			"error", err,
		)
		if nackErr := s.queue.Nack(ctx, d); nackErr != nil {
			s.logger.WarnContext(ctx, "nack failed", "item_id", d.Item.ID, "error", nackErr)
		}
		return false, false
	}

	s.markCompleted(ctx, d.Item, result)

	if err := s.queue.Ack(ctx, d); err != nil {
		s.logger.WarnContext(ctx, "ack failed", "item_id", d.Item.ID, "error", err)
		return false, false
	}
	return true, false
}

// isSuperseded reports whether a fresher loader run already produced this
// item's analysis. Missing store state means not superseded; errors are
// treated the same so a store outage degrades to duplicate work, never lost
// work.
func (s *WorkerService) isSuperseded(ctx context.Context, item workqueue.Item) bool {
	if s.store == nil {
		return false
	}

	existing, err := s.store.GetItem(ctx, analysisPK(item), analysisSK(item))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.WarnContext(ctx, "staleness check failed", "item_id", item.ID, "error", err)
		}
		return false
	}

	return !existing.UpdatedAt.Before(item.SnapshotAt)
}

func (s *WorkerService) markCompleted(ctx context.Context, item workqueue.Item, result InvocationResult) {
	if s.store == nil {
		return
	}

	record := store.Item{
		PK:       analysisPK(item),
		SK:       analysisSK(item),
		IndexKey: "analysis#" + item.Sport,
		Attributes: map[string]any{
			"item_id":     item.ID,
			"sport":       item.Sport,
			"model":       item.Model,
			"bet_type":    item.BetType,
			"duration_ms": result.DurationMs,
			"snapshot_at": item.SnapshotAt.UTC().Format(time.RFC3339),
		},
		UpdatedAt: s.now().UTC(),
	}
	if err := s.store.PutItem(ctx, record); err != nil {
		s.logger.WarnContext(ctx, "record analysis completion failed", "item_id", item.ID, "error", err)
	}
}

func analysisPK(item workqueue.Item) string {
	return "analysis#" + item.Sport
}

func analysisSK(item workqueue.Item) string {
	return fmt.Sprintf("%s#%s", item.Model, item.BetType)
}
