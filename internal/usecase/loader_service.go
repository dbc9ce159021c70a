package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/sharplines/odds-fabric/internal/domain/dispatch"
	"github.com/sharplines/odds-fabric/internal/domain/schedule"
	"github.com/sharplines/odds-fabric/internal/domain/workqueue"
	"github.com/sharplines/odds-fabric/internal/platform/logging"
)

// AnalysisTarget is one logical unit of fan-out work: generate analysis for
// a sport under one model and bet type.
type AnalysisTarget struct {
	Sport   string
	Model   string
	BetType string
}

// AnalysisTypeFor maps a bet type to the analysis_type payload field the
// handlers expect.
func AnalysisTypeFor(betType string) string {
	if betType == "props" {
		return "prop"
	}
	return "game"
}

type LoadResult struct {
	Enqueued int      `json:"enqueued"`
	Skipped  int      `json:"skipped"`
	Items    []string `json:"items"`
}

// LoaderService enumerates analysis targets and enqueues one work item per
// in-season target. It is scheduled like any other job and is safe to run
// while a previous run is still draining: items are self-describing and a
// worker detects superseded ones from the store, so duplicate enqueues are
// tolerated rather than prevented.
type LoaderService struct {
	queue        workqueue.Queue
	targets      []AnalysisTarget
	seasons      map[string]schedule.SeasonWindow
	dispatchRepo dispatch.Repository
	logger       *logging.Logger
	now          func() time.Time
}

func NewLoaderService(
	queue workqueue.Queue,
	targets []AnalysisTarget,
	seasons map[string]schedule.SeasonWindow,
	dispatchRepo dispatch.Repository,
	logger *logging.Logger,
) *LoaderService {
	if logger == nil {
		logger = logging.Default()
	}

	return &LoaderService{
		queue:        queue,
		targets:      targets,
		seasons:      seasons,
		dispatchRepo: dispatchRepo,
		logger:       logger,
		now:          time.Now,
	}
}

// Load enqueues one item per in-season target and returns what it did.
// A single failed enqueue does not stop the rest; the first error is
// returned after the sweep so the scheduled fire still counts as failed.
func (s *LoaderService) Load(ctx context.Context) (LoadResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.LoaderService.Load")
	defer span.End()

	now := s.now().UTC()
	result := LoadResult{Items: make([]string, 0, len(s.targets))}

	var firstErr error
	for _, target := range s.targets {
		if window, ok := s.seasons[target.Sport]; ok && !window.Contains(now.Month()) {
			result.Skipped++
			continue
		}

		item := workqueue.Item{
			ID:           analysisItemID(target, now),
			Sport:        target.Sport,
			Model:        target.Model,
			BetType:      target.BetType,
			AnalysisType: AnalysisTypeFor(target.BetType),
			PropsOnly:    target.BetType == "props",
			SnapshotAt:   now,
			EnqueuedAt:   now,
		}

		if err := s.queue.Enqueue(ctx, item); err != nil {
			s.logger.WarnContext(ctx, "enqueue analysis item failed",
				"sport", target.Sport,
				"model", target.Model,
				"bet_type", target.BetType,
				"error", err,
			)
			s.recordEvent(ctx, item, dispatch.StatusFailed, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("enqueue %s: %w", item.ID, err)
			}
			continue
		}

		s.recordEvent(ctx, item, dispatch.StatusSent, nil)
		result.Enqueued++
		result.Items = append(result.Items, item.ID)
	}

	return result, firstErr
}

func (s *LoaderService) recordEvent(ctx context.Context, item workqueue.Item, status dispatch.Status, cause error) {
	if s.dispatchRepo == nil {
		return
	}

	traceID, spanID := traceMetaFromContext(ctx)
	event := dispatch.Event{
		DispatchID: item.ID,
		JobName:    "generate-analysis",
		RuleName:   "analysis-loader",
		Status:     status,
		Payload:    item.Payload(),
		OccurredAt: s.now().UTC(),
		TraceID:    traceID,
		SpanID:     spanID,
	}
	if cause != nil {
		event.ErrorMessage = cause.Error()
	}

	if err := s.dispatchRepo.UpsertEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "record loader dispatch event failed",
			"dispatch_id", event.DispatchID,
			"error", err,
		)
	}
}

// analysisItemID buckets by minute so a re-run inside the same minute
// produces the same ID, which keeps accidental double-loads observable as
// one dispatch.
func analysisItemID(target AnalysisTarget, at time.Time) string {
	slot := at.UTC().Truncate(time.Minute).Format("20060102T150405Z")
	return sanitizeDispatchSegment("analysis-"+target.Sport+"-"+target.Model+"-"+target.BetType) + "-" + slot
}
