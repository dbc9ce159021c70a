package dispatch

import (
	"context"
	"time"

	"github.com/sharplines/odds-fabric/internal/domain/job"
)

type Status string

const (
	StatusSent      Status = "sent"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Event is one observation of a job invocation: sent when the dispatcher
// hands the payload to the handler, then completed or failed with the
// terminal result. Events with the same DispatchID upsert into one row.
type Event struct {
	DispatchID   string
	JobName      string
	RuleName     string
	HandlerRef   string
	Status       Status
	Payload      job.Payload
	Attempt      int
	DurationMs   int64
	ErrorMessage string
	OccurredAt   time.Time
	TraceID      string
	SpanID       string
}

type Repository interface {
	UpsertEvent(ctx context.Context, event Event) error
	ListRecent(ctx context.Context, jobName string, limit int) ([]Event, error)
}
