package deadletter

import (
	"context"
	"time"

	"github.com/sharplines/odds-fabric/internal/domain/job"
)

// Source distinguishes the two independent dead-letter paths in the fabric:
// schedule-triggered invocations that exhausted their retry policy, and
// queue-fed work items that exceeded their max receive count.
type Source string

const (
	SourceDispatcher Source = "dispatcher"
	SourceWorkQueue  Source = "workqueue"
)

// Reason records why a payload landed here.
type Reason string

const (
	ReasonAttemptsExhausted Reason = "attempts_exhausted"
	ReasonMaxAgeExceeded    Reason = "max_age_exceeded"
	ReasonNoRetryPolicy     Reason = "no_retry_configured"
	ReasonMaxReceiveCount   Reason = "max_receive_count"
)

// Entry is a terminally failed payload held for operator inspection. The
// fabric never retries an entry; replay is a manual operation.
type Entry struct {
	ID          string
	Source      Source
	Reason      Reason
	JobName     string
	Payload     job.Payload
	Attempts    int
	LastError   string
	EnqueuedAt  time.Time
	DeadAt      time.Time
}

type Repository interface {
	Add(ctx context.Context, entry Entry) error
	List(ctx context.Context, source Source, limit int) ([]Entry, error)
}
