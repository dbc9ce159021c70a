package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sharplines/odds-fabric/internal/domain/dispatch"
	"github.com/sharplines/odds-fabric/internal/domain/job"
	"github.com/sharplines/odds-fabric/internal/domain/schedule"
)

type scriptedInvoker struct {
	mu       sync.Mutex
	failures int
	calls    []job.Payload
}

func (i *scriptedInvoker) Invoke(_ context.Context, _ job.HandlerRef, payload job.Payload) (InvocationResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.calls = append(i.calls, payload)
	if i.failures > 0 {
		i.failures--
		return InvocationResult{}, errors.New("simulated transient failure")
	}
	return InvocationResult{Success: true, DurationMs: 12}, nil
}

func (i *scriptedInvoker) callCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.calls)
}

type dispatchRecorder struct {
	mu     sync.Mutex
	events []dispatch.Event
}

func (r *dispatchRecorder) UpsertEvent(_ context.Context, event dispatch.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *dispatchRecorder) ListRecent(_ context.Context, jobName string, limit int) ([]dispatch.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]dispatch.Event, 0, len(r.events))
	for _, e := range r.events {
		if jobName != "" && e.JobName != jobName {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *dispatchRecorder) statuses() []dispatch.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]dispatch.Status, len(r.events))
	for i, e := range r.events {
		out[i] = e.Status
	}
	return out
}

func newTestDispatcher(t *testing.T, rules []schedule.Rule, invoker HandlerInvoker, recorder *dispatchRecorder, dlq *deadLetterRecorder) *DispatcherService {
	t.Helper()

	registry := job.NewRegistry()
	jobs := map[string]job.Job{}
	for _, r := range rules {
		if _, ok := jobs[r.JobName]; ok {
			continue
		}
		j := job.Job{
			Name:    r.JobName,
			Handler: job.HandlerRef("/v1/internal/handlers/" + r.JobName),
			Budget:  job.Budget{Timeout: 5 * time.Second},
			Retry:   job.RetryPolicy{MaxAttempts: 2, MaxAge: time.Hour},
		}
		jobs[r.JobName] = j
		if _, err := registry.Register(j); err != nil {
			t.Fatalf("register %s: %v", r.JobName, err)
		}
	}
	registry.Seal()

	retrySvc := NewRetryService(dlq, nil, nil)
	svc, err := NewDispatcherService(registry, rules, invoker, retrySvc, recorder, DispatcherConfig{
		RetryBase: time.Millisecond,
		RetryMax:  2 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	return svc
}

func mustTestRule(t *testing.T, name, jobName string, trigger schedule.Trigger, payload job.Payload, createdAt time.Time) schedule.Rule {
	t.Helper()

	r, err := schedule.NewRule(name, jobName, trigger, payload, nil, createdAt)
	if err != nil {
		t.Fatalf("new rule %s: %v", name, err)
	}
	return r
}

func TestDispatcher_RateRuleDueSet(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	rule := mustTestRule(t, "odds-4h", "collect-odds", schedule.Rate(4*time.Hour), job.Payload{"sport": "nfl"}, createdAt)
	svc := newTestDispatcher(t, []schedule.Rule{rule}, &scriptedInvoker{}, &dispatchRecorder{}, &deadLetterRecorder{})

	if due := svc.OnTick(createdAt.Add(time.Hour)); len(due) != 0 {
		t.Fatalf("expected no firings at T+1h, got %d", len(due))
	}
	for _, offset := range []time.Duration{4 * time.Hour, 8 * time.Hour, 12 * time.Hour} {
		due := svc.OnTick(createdAt.Add(offset))
		if len(due) != 1 {
			t.Fatalf("expected one firing at T+%s, got %d", offset, len(due))
		}
		if due[0].Job.Name != "collect-odds" {
			t.Fatalf("unexpected job %s", due[0].Job.Name)
		}
		if due[0].Payload["sport"] != "nfl" {
			t.Fatalf("payload not carried: %+v", due[0].Payload)
		}
	}
}

func TestDispatcher_CoincidentRulesAllFire(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	rules := []schedule.Rule{
		mustTestRule(t, "odds-hourly", "collect-odds", schedule.Rate(time.Hour), job.Payload{"sport": "nfl"}, createdAt),
		mustTestRule(t, "news-hourly", "collect-news", schedule.Rate(time.Hour), job.Payload{"sport": "nba"}, createdAt),
	}
	invoker := &scriptedInvoker{}
	svc := newTestDispatcher(t, rules, invoker, &dispatchRecorder{}, &deadLetterRecorder{})

	fired := svc.RunTick(context.Background(), createdAt.Add(time.Hour))
	if fired != 2 {
		t.Fatalf("expected 2 firings, got %d", fired)
	}
	if invoker.callCount() != 2 {
		t.Fatalf("expected 2 invocations, got %d", invoker.callCount())
	}
}

func TestDispatcher_RecordsSentAndCompleted(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	rule := mustTestRule(t, "odds-hourly", "collect-odds", schedule.Rate(time.Hour), nil, createdAt)
	recorder := &dispatchRecorder{}
	svc := newTestDispatcher(t, []schedule.Rule{rule}, &scriptedInvoker{}, recorder, &deadLetterRecorder{})

	svc.RunTick(context.Background(), createdAt.Add(time.Hour))

	statuses := recorder.statuses()
	if len(statuses) != 2 || statuses[0] != dispatch.StatusSent || statuses[1] != dispatch.StatusCompleted {
		t.Fatalf("unexpected event sequence: %v", statuses)
	}
}

func TestDispatcher_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	rule := mustTestRule(t, "odds-hourly", "collect-odds", schedule.Rate(time.Hour), nil, createdAt)
	invoker := &scriptedInvoker{failures: 2}
	recorder := &dispatchRecorder{}
	dlq := &deadLetterRecorder{}
	svc := newTestDispatcher(t, []schedule.Rule{rule}, invoker, recorder, dlq)

	svc.RunTick(context.Background(), createdAt.Add(time.Hour))

	if invoker.callCount() != 3 {
		t.Fatalf("expected 3 attempts (2 failures + success), got %d", invoker.callCount())
	}
	if dlq.len() != 0 {
		t.Fatalf("expected no dead letters, got %d", dlq.len())
	}

	statuses := recorder.statuses()
	last := statuses[len(statuses)-1]
	if last != dispatch.StatusCompleted {
		t.Fatalf("expected terminal completed event, got %v", statuses)
	}
}

func TestDispatcher_ExhaustedRetriesDeadLetter(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	rule := mustTestRule(t, "odds-hourly", "collect-odds", schedule.Rate(time.Hour), job.Payload{"sport": "nhl"}, createdAt)
	invoker := &scriptedInvoker{failures: 10}
	dlq := &deadLetterRecorder{}
	svc := newTestDispatcher(t, []schedule.Rule{rule}, invoker, &dispatchRecorder{}, dlq)

	svc.RunTick(context.Background(), createdAt.Add(time.Hour))

	// MaxAttempts=2 allows the initial attempt plus two retries.
	if invoker.callCount() != 3 {
		t.Fatalf("expected 3 attempts before dead-letter, got %d", invoker.callCount())
	}
	if dlq.len() != 1 {
		t.Fatalf("expected 1 dead letter, got %d", dlq.len())
	}
	if dlq.entries[0].Payload["sport"] != "nhl" {
		t.Fatalf("dead letter payload mismatch: %+v", dlq.entries[0].Payload)
	}
}

func TestDispatcher_TriggerRuleBypassesTrigger(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	rule := mustTestRule(t, "odds-hourly", "collect-odds", schedule.Rate(time.Hour), nil, createdAt)
	invoker := &scriptedInvoker{}
	svc := newTestDispatcher(t, []schedule.Rule{rule}, invoker, &dispatchRecorder{}, &deadLetterRecorder{})

	if err := svc.TriggerRule(context.Background(), "odds-hourly"); err != nil {
		t.Fatalf("trigger rule: %v", err)
	}
	if invoker.callCount() != 1 {
		t.Fatalf("expected 1 invocation, got %d", invoker.callCount())
	}

	if err := svc.TriggerRule(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown rule, got %v", err)
	}
}

func TestNewDispatcher_RequiresSealedRegistryAndResolvableRules(t *testing.T) {
	t.Parallel()

	registry := job.NewRegistry()
	if _, err := registry.Register(job.Job{
		Name:    "collect-odds",
		Handler: "/v1/internal/handlers/collect-odds",
		Budget:  job.Budget{Timeout: time.Second},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	rule := mustTestRule(t, "odds-hourly", "collect-odds", schedule.Rate(time.Hour), nil, time.Now())

	if _, err := NewDispatcherService(registry, []schedule.Rule{rule}, nil, NewRetryService(nil, nil, nil), nil, DispatcherConfig{}, nil); err == nil {
		t.Fatal("expected error for unsealed registry")
	}

	registry.Seal()
	dangling := mustTestRule(t, "ghost", "collect-ghost", schedule.Rate(time.Hour), nil, time.Now())
	if _, err := NewDispatcherService(registry, []schedule.Rule{dangling}, nil, NewRetryService(nil, nil, nil), nil, DispatcherConfig{}, nil); err == nil {
		t.Fatal("expected error for rule bound to unknown job")
	}
}

type gatedInvoker struct {
	mu      sync.Mutex
	started int
	release chan struct{}
}

func newGatedInvoker() *gatedInvoker {
	return &gatedInvoker{release: make(chan struct{})}
}

func (i *gatedInvoker) Invoke(ctx context.Context, _ job.HandlerRef, _ job.Payload) (InvocationResult, error) {
	i.mu.Lock()
	i.started++
	i.mu.Unlock()

	select {
	case <-i.release:
	case <-ctx.Done():
	}
	return InvocationResult{Success: true}, nil
}

func (i *gatedInvoker) startedCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.started
}

func TestDispatcher_TicksFireWhileInvocationInFlight(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	rule := mustTestRule(t, "odds-every-minute", "collect-odds",
		schedule.Calendar(schedule.CalendarSpec{}), nil, createdAt)

	invoker := newGatedInvoker()
	svc := newTestDispatcher(t, []schedule.Rule{rule}, invoker, &dispatchRecorder{}, &deadLetterRecorder{})
	svc.cfg.TickInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	// The first invocation blocks on the gate. Later ticks must still
	// evaluate and fire while it is in flight.
	deadline := time.Now().Add(2 * time.Second)
	for invoker.startedCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d invocations started; ticks are waiting on the in-flight one", invoker.startedCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	close(invoker.release)
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}
