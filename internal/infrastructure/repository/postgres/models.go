package postgres

import "time"

type dispatchEventModel struct {
	DispatchID string    `db:"dispatch_id"`
	JobName    string    `db:"job_name"`
	RuleName   string    `db:"rule_name"`
	HandlerRef string    `db:"handler_ref"`
	Status     string    `db:"status"`
	Payload    string    `db:"payload"`
	Attempt    int       `db:"attempt"`
	DurationMs int64     `db:"duration_ms"`
	LastError  *string   `db:"last_error"`
	TraceID    *string   `db:"trace_id"`
	SpanID     *string   `db:"span_id"`
	OccurredAt time.Time `db:"occurred_at"`
}

type deadLetterModel struct {
	ID         string    `db:"id"`
	Source     string    `db:"source"`
	Reason     string    `db:"reason"`
	JobName    string    `db:"job_name"`
	Payload    string    `db:"payload"`
	Attempts   int       `db:"attempts"`
	LastError  *string   `db:"last_error"`
	EnqueuedAt time.Time `db:"enqueued_at"`
	DeadAt     time.Time `db:"dead_at"`
}

type fabricItemModel struct {
	PK         string    `db:"pk"`
	SK         string    `db:"sk"`
	IndexKey   *string   `db:"index_key"`
	Attributes string    `db:"attributes"`
	UpdatedAt  time.Time `db:"updated_at"`
}
