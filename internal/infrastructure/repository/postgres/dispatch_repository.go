package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/sharplines/odds-fabric/internal/domain/dispatch"
)

type DispatchRepository struct {
	db *sqlx.DB
}

func NewDispatchRepository(db *sqlx.DB) *DispatchRepository {
	return &DispatchRepository{db: db}
}

const upsertDispatchQuery = `
INSERT INTO job_dispatches (
    dispatch_id, job_name, rule_name, handler_ref, status, payload,
    attempt, duration_ms, last_error, trace_id, span_id, occurred_at
) VALUES (
    :dispatch_id, :job_name, :rule_name, :handler_ref, :status, :payload,
    :attempt, :duration_ms, :last_error, :trace_id, :span_id, :occurred_at
)
ON CONFLICT (dispatch_id) DO UPDATE SET
    status = EXCLUDED.status,
    attempt = GREATEST(job_dispatches.attempt, EXCLUDED.attempt),
    duration_ms = EXCLUDED.duration_ms,
    last_error = CASE
        WHEN EXCLUDED.status = 'failed' THEN EXCLUDED.last_error
        ELSE NULL
    END,
    trace_id = COALESCE(EXCLUDED.trace_id, job_dispatches.trace_id),
    span_id = COALESCE(EXCLUDED.span_id, job_dispatches.span_id),
    occurred_at = EXCLUDED.occurred_at`

func (r *DispatchRepository) UpsertEvent(ctx context.Context, event dispatch.Event) error {
	dispatchID := strings.TrimSpace(event.DispatchID)
	if dispatchID == "" {
		return errors.New("dispatch id is required")
	}

	occurredAt := event.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	payloadJSON, err := marshalPayload(event.Payload)
	if err != nil {
		return errors.Wrap(err, "marshal dispatch payload")
	}

	model := dispatchEventModel{
		DispatchID: dispatchID,
		JobName:    event.JobName,
		RuleName:   event.RuleName,
		HandlerRef: event.HandlerRef,
		Status:     string(event.Status),
		Payload:    payloadJSON,
		Attempt:    event.Attempt,
		DurationMs: event.DurationMs,
		LastError:  optionalString(event.ErrorMessage),
		TraceID:    optionalString(event.TraceID),
		SpanID:     optionalString(event.SpanID),
		OccurredAt: occurredAt,
	}

	if _, err := r.db.NamedExecContext(ctx, upsertDispatchQuery, model); err != nil {
		return errors.Wrapf(err, "upsert dispatch %s", dispatchID)
	}
	return nil
}

const listDispatchesQuery = `
SELECT dispatch_id, job_name, rule_name, handler_ref, status, payload,
       attempt, duration_ms, last_error, trace_id, span_id, occurred_at
FROM job_dispatches
WHERE ($1 = '' OR job_name = $1)
ORDER BY occurred_at DESC
LIMIT $2`

func (r *DispatchRepository) ListRecent(ctx context.Context, jobName string, limit int) ([]dispatch.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	var models []dispatchEventModel
	if err := r.db.SelectContext(ctx, &models, listDispatchesQuery, strings.TrimSpace(jobName), limit); err != nil {
		return nil, errors.Wrap(err, "list dispatches")
	}

	out := make([]dispatch.Event, 0, len(models))
	for _, m := range models {
		payload, err := unmarshalPayload(m.Payload)
		if err != nil {
			return nil, errors.Wrapf(err, "dispatch %s", m.DispatchID)
		}
		out = append(out, dispatch.Event{
			DispatchID:   m.DispatchID,
			JobName:      m.JobName,
			RuleName:     m.RuleName,
			HandlerRef:   m.HandlerRef,
			Status:       dispatch.Status(m.Status),
			Payload:      payload,
			Attempt:      m.Attempt,
			DurationMs:   m.DurationMs,
			ErrorMessage: stringValue(m.LastError),
			TraceID:      stringValue(m.TraceID),
			SpanID:       stringValue(m.SpanID),
			OccurredAt:   m.OccurredAt,
		})
	}
	return out, nil
}
