package postgres

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/sharplines/odds-fabric/internal/domain/deadletter"
)

type DeadLetterRepository struct {
	db *sqlx.DB
}

func NewDeadLetterRepository(db *sqlx.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

const insertDeadLetterQuery = `
INSERT INTO dead_letters (
    id, source, reason, job_name, payload, attempts, last_error, enqueued_at, dead_at
) VALUES (
    :id, :source, :reason, :job_name, :payload, :attempts, :last_error, :enqueued_at, :dead_at
)
ON CONFLICT (id) DO NOTHING`

func (r *DeadLetterRepository) Add(ctx context.Context, entry deadletter.Entry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("dead letter id is required")
	}

	payloadJSON, err := marshalPayload(entry.Payload)
	if err != nil {
		return errors.Wrap(err, "marshal dead letter payload")
	}

	model := deadLetterModel{
		ID:         entry.ID,
		Source:     string(entry.Source),
		Reason:     string(entry.Reason),
		JobName:    entry.JobName,
		Payload:    payloadJSON,
		Attempts:   entry.Attempts,
		LastError:  optionalString(entry.LastError),
		EnqueuedAt: entry.EnqueuedAt.UTC(),
		DeadAt:     entry.DeadAt.UTC(),
	}

	if _, err := r.db.NamedExecContext(ctx, insertDeadLetterQuery, model); err != nil {
		return errors.Wrapf(err, "insert dead letter %s", entry.ID)
	}
	return nil
}

const listDeadLettersQuery = `
SELECT id, source, reason, job_name, payload, attempts, last_error, enqueued_at, dead_at
FROM dead_letters
WHERE ($1 = '' OR source = $1)
ORDER BY dead_at DESC
LIMIT $2`

func (r *DeadLetterRepository) List(ctx context.Context, source deadletter.Source, limit int) ([]deadletter.Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	var models []deadLetterModel
	if err := r.db.SelectContext(ctx, &models, listDeadLettersQuery, string(source), limit); err != nil {
		return nil, errors.Wrap(err, "list dead letters")
	}

	out := make([]deadletter.Entry, 0, len(models))
	for _, m := range models {
		payload, err := unmarshalPayload(m.Payload)
		if err != nil {
			return nil, errors.Wrapf(err, "dead letter %s", m.ID)
		}
		out = append(out, deadletter.Entry{
			ID:         m.ID,
			Source:     deadletter.Source(m.Source),
			Reason:     deadletter.Reason(m.Reason),
			JobName:    m.JobName,
			Payload:    payload,
			Attempts:   m.Attempts,
			LastError:  stringValue(m.LastError),
			EnqueuedAt: m.EnqueuedAt,
			DeadAt:     m.DeadAt,
		})
	}
	return out, nil
}
