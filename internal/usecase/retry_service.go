package usecase

import (
	"context"
	"time"

	"github.com/sharplines/odds-fabric/internal/domain/deadletter"
	"github.com/sharplines/odds-fabric/internal/domain/job"
	"github.com/sharplines/odds-fabric/internal/platform/id"
	"github.com/sharplines/odds-fabric/internal/platform/logging"
)

// Action is the retry policy's verdict on one invocation result.
type Action string

const (
	ActionDrop       Action = "drop"
	ActionRetry      Action = "retry"
	ActionDeadLetter Action = "dead_letter"
)

// RetryService turns invocation results into retry decisions and owns the
// dispatcher-side dead-letter holding area. The decision logic itself is a
// pure function so the semantics stay testable apart from any queue.
type RetryService struct {
	deadletters deadletter.Repository
	idGen       id.Generator
	logger      *logging.Logger
	now         func() time.Time
}

func NewRetryService(deadletters deadletter.Repository, idGen id.Generator, logger *logging.Logger) *RetryService {
	if idGen == nil {
		idGen = id.NewRandomGenerator()
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &RetryService{
		deadletters: deadletters,
		idGen:       idGen,
		logger:      logger,
		now:         time.Now,
	}
}

// Decide applies the job's retry policy to one invocation result.
// attemptCount is the number of attempts already made, including the one
// whose result this is. Age is checked before the attempt budget so a stale
// payload dead-letters even while attempts remain.
func Decide(policy job.RetryPolicy, success bool, attemptCount int, enqueuedAt, now time.Time) Action {
	if success {
		return ActionDrop
	}

	if policy.MaxAge > 0 && now.Sub(enqueuedAt) > policy.MaxAge {
		return ActionDeadLetter
	}
	if attemptCount > policy.MaxAttempts {
		return ActionDeadLetter
	}

	return ActionRetry
}

// OnInvocationResult decides and, for a DeadLetter verdict, persists the
// payload into the holding area.
func (s *RetryService) OnInvocationResult(
	ctx context.Context,
	j job.Job,
	payload job.Payload,
	success bool,
	attemptCount int,
	enqueuedAt time.Time,
	lastErr error,
) (Action, error) {
	now := s.now().UTC()
	action := Decide(j.Retry, success, attemptCount, enqueuedAt, now)
	if action != ActionDeadLetter {
		return action, nil
	}

	reason := deadletter.ReasonAttemptsExhausted
	switch {
	case j.Retry.MaxAge > 0 && now.Sub(enqueuedAt) > j.Retry.MaxAge:
		reason = deadletter.ReasonMaxAgeExceeded
	case j.Retry.MaxAttempts == 0:
		reason = deadletter.ReasonNoRetryPolicy
	}

	entryID, err := s.idGen.NewID()
	if err != nil {
		return action, err
	}

	errMessage := ""
	if lastErr != nil {
		errMessage = lastErr.Error()
	}

	entry := deadletter.Entry{
		ID:         entryID,
		Source:     deadletter.SourceDispatcher,
		Reason:     reason,
		JobName:    j.Name,
		Payload:    payload.Clone(),
		Attempts:   attemptCount,
		LastError:  errMessage,
		EnqueuedAt: enqueuedAt.UTC(),
		DeadAt:     now,
	}
	if s.deadletters != nil {
		if err := s.deadletters.Add(ctx, entry); err != nil {
			// The verdict stands even when persistence fails; operators lose
			// the payload body but the dispatch trail still records the failure.
			s.logger.ErrorContext(ctx, "persist dead letter failed",
				"job", j.Name,
				"reason", reason,
				"error", err,
			)
			return action, err
		}
	}

	s.logger.WarnContext(ctx, "payload dead-lettered",
		"job", j.Name,
		"reason", reason,
		"attempts", attemptCount,
	)

	return action, nil
}
