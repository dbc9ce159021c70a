package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/sharplines/odds-fabric/internal/domain/dispatch"
	"github.com/sharplines/odds-fabric/internal/domain/job"
	"github.com/sharplines/odds-fabric/internal/domain/schedule"
	"github.com/sharplines/odds-fabric/internal/platform/backoff"
	"github.com/sharplines/odds-fabric/internal/platform/logging"
)

// InvocationResult is what the fabric observes about a handler run. The
// handler's internals are opaque; success and duration are the whole signal.
type InvocationResult struct {
	Success    bool
	DurationMs int64
}

// HandlerInvoker starts one isolated handler invocation and waits for its
// terminal result. Implementations must honor ctx cancellation, which is how
// the per-job wall-clock budget is enforced.
type HandlerInvoker interface {
	Invoke(ctx context.Context, ref job.HandlerRef, payload job.Payload) (InvocationResult, error)
}

type noopInvoker struct{}

func (noopInvoker) Invoke(context.Context, job.HandlerRef, job.Payload) (InvocationResult, error) {
	return InvocationResult{Success: true}, nil
}

func NewNoopInvoker() HandlerInvoker {
	return noopInvoker{}
}

// Firing is one due (job, payload) pair produced by a tick.
type Firing struct {
	Rule    schedule.Rule
	Job     job.Job
	Payload job.Payload
}

type DispatcherConfig struct {
	TickInterval time.Duration
	MaxParallel  int
	RetryBase    time.Duration
	RetryMax     time.Duration
}

// DispatcherService evaluates every schedule rule against a shared clock
// tick and fires the due ones. Rules are independent: coincident triggers
// run in parallel with no ordering guarantee, and nothing prevents a fire
// from overlapping the previous invocation of the same rule.
type DispatcherService struct {
	registry     *job.Registry
	rules        []schedule.Rule
	invoker      HandlerInvoker
	retrySvc     *RetryService
	dispatchRepo dispatch.Repository
	cfg          DispatcherConfig
	logger       *logging.Logger
	now          func() time.Time
}

var dispatchIDUnsafeRegex = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func NewDispatcherService(
	registry *job.Registry,
	rules []schedule.Rule,
	invoker HandlerInvoker,
	retrySvc *RetryService,
	dispatchRepo dispatch.Repository,
	cfg DispatcherConfig,
	logger *logging.Logger,
) (*DispatcherService, error) {
	if registry == nil {
		return nil, fmt.Errorf("dispatcher requires a job registry")
	}
	if !registry.Sealed() {
		return nil, fmt.Errorf("dispatcher requires a sealed registry")
	}
	if invoker == nil {
		invoker = NewNoopInvoker()
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 16
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = time.Minute
	}

	// Every rule must resolve at startup; a dangling job name is a
	// configuration error, never a runtime one.
	for _, r := range rules {
		if _, err := registry.Lookup(r.JobName); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
	}

	return &DispatcherService{
		registry:     registry,
		rules:        rules,
		invoker:      invoker,
		retrySvc:     retrySvc,
		dispatchRepo: dispatchRepo,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// OnTick returns the firings due at the given instant. It performs no side
// effects; RunTick is the effectful wrapper.
func (s *DispatcherService) OnTick(now time.Time) []Firing {
	due := make([]Firing, 0, 4)
	for _, r := range s.rules {
		if !r.Due(now) {
			continue
		}

		j, err := s.registry.Lookup(r.JobName)
		if err != nil {
			// Unreachable after the constructor check; keep the rule from
			// silently vanishing if it ever regresses.
			s.logger.Error("due rule resolves to unknown job", "rule", r.Name, "job", r.JobName)
			continue
		}

		due = append(due, Firing{Rule: r, Job: j, Payload: r.Payload.Clone()})
	}

	return due
}

// RunTick fires everything due at now, each firing in its own goroutine,
// and waits for the tick's firings to finish. Run drives it without
// blocking the clock.
func (s *DispatcherService) RunTick(ctx context.Context, now time.Time) int {
	due := s.OnTick(now)
	if len(due) == 0 {
		return 0
	}

	p := pool.New().WithMaxGoroutines(s.cfg.MaxParallel)
	for _, firing := range due {
		firing := firing
		p.Go(func() {
			s.fire(ctx, firing, now)
		})
	}
	p.Wait()

	return len(due)
}

// Run ticks once per TickInterval, aligned to the interval boundary, until
// ctx ends. Each tick's firings run on their own goroutine so a slow or
// retrying invocation never delays the clock: the next tick is evaluated on
// time even while earlier firings are still in flight. In-flight firings
// are drained before Run returns.
func (s *DispatcherService) Run(ctx context.Context) error {
	first := s.now().UTC().Truncate(s.cfg.TickInterval).Add(s.cfg.TickInterval)
	timer := time.NewTimer(time.Until(first))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	var inflight sync.WaitGroup
	launch := func(now time.Time) {
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			s.RunTick(ctx, now)
		}()
	}

	launch(s.now().UTC())
	for {
		select {
		case <-ctx.Done():
			inflight.Wait()
			return ctx.Err()
		case tick := <-ticker.C:
			launch(tick.UTC())
		}
	}
}

// Rules exposes the schedule set for the operational API.
func (s *DispatcherService) Rules() []schedule.Rule {
	out := make([]schedule.Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// TriggerRule fires one rule immediately, bypassing its trigger spec but not
// its retry policy. Used by the operator surface for backfills.
func (s *DispatcherService) TriggerRule(ctx context.Context, ruleName string) error {
	for _, r := range s.rules {
		if r.Name != ruleName {
			continue
		}

		j, err := s.registry.Lookup(r.JobName)
		if err != nil {
			return err
		}
		s.fire(ctx, Firing{Rule: r, Job: j, Payload: r.Payload.Clone()}, s.now().UTC())
		return nil
	}

	return fmt.Errorf("%w: rule=%s", ErrNotFound, ruleName)
}

// fire drives one firing through invocation, retries and dead-lettering.
// Transient failures are re-invoked with jittered backoff until the job's
// retry policy says otherwise; nothing propagates to the caller.
func (s *DispatcherService) fire(ctx context.Context, f Firing, firedAt time.Time) {
	dispatchID := buildDispatchID(f.Rule.Name, firedAt)
	s.recordEvent(ctx, dispatch.Event{
		DispatchID: dispatchID,
		JobName:    f.Job.Name,
		RuleName:   f.Rule.Name,
		HandlerRef: f.Job.Handler.String(),
		Status:     dispatch.StatusSent,
		Payload:    f.Payload,
		OccurredAt: firedAt.UTC(),
	})

	var lastErr error
	for attempt := 1; ; attempt++ {
		result, err := s.invokeOnce(ctx, f.Job, f.Payload)
		if err == nil && result.Success {
			s.recordEvent(ctx, dispatch.Event{
				DispatchID: dispatchID,
				JobName:    f.Job.Name,
				RuleName:   f.Rule.Name,
				HandlerRef: f.Job.Handler.String(),
				Status:     dispatch.StatusCompleted,
				Payload:    f.Payload,
				Attempt:    attempt,
				DurationMs: result.DurationMs,
				OccurredAt: s.now().UTC(),
			})
			return
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("handler reported failure for job=%s", f.Job.Name)
		}

		action, decideErr := s.retrySvc.OnInvocationResult(ctx, f.Job, f.Payload, false, attempt, firedAt, lastErr)
		if decideErr != nil {
			s.logger.ErrorContext(ctx, "retry decision failed", "job", f.Job.Name, "error", decideErr)
		}

		errMessage := lastErr.Error()
		s.recordEvent(ctx, dispatch.Event{
			DispatchID:   dispatchID,
			JobName:      f.Job.Name,
			RuleName:     f.Rule.Name,
			HandlerRef:   f.Job.Handler.String(),
			Status:       dispatch.StatusFailed,
			Payload:      f.Payload,
			Attempt:      attempt,
			DurationMs:   result.DurationMs,
			ErrorMessage: errMessage,
			OccurredAt:   s.now().UTC(),
		})

		if action != ActionRetry {
			return
		}

		delay := backoff.ExponentialJitter(s.cfg.RetryBase, s.cfg.RetryMax, attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// invokeOnce runs the handler inside the job's wall-clock budget. The budget
// is enforced by context cancellation; there is no cooperative signal beyond
// that.
func (s *DispatcherService) invokeOnce(ctx context.Context, j job.Job, payload job.Payload) (InvocationResult, error) {
	invokeCtx, cancel := context.WithTimeout(ctx, j.Budget.Timeout)
	defer cancel()

	return s.invoker.Invoke(invokeCtx, j.Handler, payload)
}

func (s *DispatcherService) recordEvent(ctx context.Context, event dispatch.Event) {
	if s.dispatchRepo == nil || strings.TrimSpace(event.DispatchID) == "" {
		return
	}

	traceID, spanID := traceMetaFromContext(ctx)
	event.TraceID = traceID
	event.SpanID = spanID
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}

	if err := s.dispatchRepo.UpsertEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "record dispatch event failed",
			"dispatch_id", event.DispatchID,
			"status", event.Status,
			"error", err,
		)
	}
}

func buildDispatchID(ruleName string, firedAt time.Time) string {
	slot := firedAt.UTC().Truncate(time.Minute).Format("20060102T150405Z")
	return sanitizeDispatchSegment(ruleName) + "-" + slot
}

func sanitizeDispatchSegment(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return dispatchIDUnsafeRegex.ReplaceAllString(value, "-")
}
