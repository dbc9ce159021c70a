package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sharplines/odds-fabric/internal/domain/deadletter"
	"github.com/sharplines/odds-fabric/internal/domain/dispatch"
	"github.com/sharplines/odds-fabric/internal/domain/job"
	"github.com/sharplines/odds-fabric/internal/domain/schedule"
	"github.com/sharplines/odds-fabric/internal/domain/store"
	"github.com/sharplines/odds-fabric/internal/platform/logging"
	"github.com/sharplines/odds-fabric/internal/usecase"
)

const defaultListLimit = 50

type Handler struct {
	registry    *job.Registry
	dispatcher  *usecase.DispatcherService
	dispatches  dispatch.Repository
	deadletters deadletter.Repository
	items       store.Store
	logger      *logging.Logger
}

func NewHandler(
	registry *job.Registry,
	dispatcher *usecase.DispatcherService,
	dispatches dispatch.Repository,
	deadletters deadletter.Repository,
	items store.Store,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.Default()
	}

	return &Handler{
		registry:    registry,
		dispatcher:  dispatcher,
		dispatches:  dispatches,
		deadletters: deadletters,
		items:       items,
		logger:      logger,
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

type jobResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Handler     string            `json:"handler"`
	TimeoutSec  int               `json:"timeoutSeconds"`
	MemoryMB    int               `json:"memoryMb"`
	MaxAttempts int               `json:"maxAttempts"`
	MaxAgeSec   int               `json:"maxAgeSeconds"`
	Env         map[string]string `json:"env,omitempty"`
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListJobs")
	defer span.End()

	jobs := h.registry.List()
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobResponse{
			ID:          j.ID,
			Name:        j.Name,
			Handler:     j.Handler.String(),
			TimeoutSec:  int(j.Budget.Timeout.Seconds()),
			MemoryMB:    j.Budget.MemoryMB,
			MaxAttempts: j.Retry.MaxAttempts,
			MaxAgeSec:   int(j.Retry.MaxAge.Seconds()),
			Env:         j.Env(),
		})
	}
	writeSuccess(ctx, w, http.StatusOK, out)
}

type scheduleResponse struct {
	Name    string         `json:"name"`
	JobName string         `json:"jobName"`
	Trigger string         `json:"trigger"`
	Season  string         `json:"season,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListSchedules")
	defer span.End()

	rules := h.dispatcher.Rules()
	out := make([]scheduleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, scheduleResponse{
			Name:    rule.Name,
			JobName: rule.JobName,
			Trigger: describeTrigger(rule.Trigger),
			Season:  describeSeason(rule.Season),
			Payload: rule.Payload,
		})
	}
	writeSuccess(ctx, w, http.StatusOK, out)
}

func (h *Handler) ListDispatches(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListDispatches")
	defer span.End()

	events, err := h.dispatches.ListRecent(ctx,
		strings.TrimSpace(r.URL.Query().Get("job")),
		parseLimit(r.URL.Query().Get("limit")),
	)
	if err != nil {
		h.logger.WarnContext(ctx, "list dispatches failed", "error", err)
		writeError(ctx, w, fmt.Errorf("%w: dispatch store", usecase.ErrDependencyUnavailable))
		return
	}
	writeSuccess(ctx, w, http.StatusOK, events)
}

func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListDeadLetters")
	defer span.End()

	source := deadletter.Source(strings.TrimSpace(r.URL.Query().Get("source")))
	switch source {
	case "", deadletter.SourceDispatcher, deadletter.SourceWorkQueue:
	default:
		writeError(ctx, w, fmt.Errorf("%w: unknown source %q", usecase.ErrInvalidInput, source))
		return
	}

	entries, err := h.deadletters.List(ctx, source, parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		h.logger.WarnContext(ctx, "list dead letters failed", "error", err)
		writeError(ctx, w, fmt.Errorf("%w: dead-letter store", usecase.ErrDependencyUnavailable))
		return
	}
	writeSuccess(ctx, w, http.StatusOK, entries)
}

type itemResponse struct {
	PK         string         `json:"pk"`
	SK         string         `json:"sk"`
	Attributes map[string]any `json:"attributes,omitempty"`
	UpdatedAt  string         `json:"updatedAt"`
}

// ListItems queries the data store's sparse secondary index, optionally
// bounded on the sort key. Read-only operator surface over what the
// collectors and workers have written.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListItems")
	defer span.End()

	indexKey := strings.TrimSpace(r.URL.Query().Get("index"))
	if indexKey == "" {
		writeError(ctx, w, fmt.Errorf("%w: index query parameter is required", usecase.ErrInvalidInput))
		return
	}

	items, err := h.items.Query(ctx, indexKey, store.SortRange{
		From: strings.TrimSpace(r.URL.Query().Get("from")),
		To:   strings.TrimSpace(r.URL.Query().Get("to")),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "list items failed", "index", indexKey, "error", err)
		writeError(ctx, w, fmt.Errorf("%w: item store", usecase.ErrDependencyUnavailable))
		return
	}

	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, itemResponse{
			PK:         item.PK,
			SK:         item.SK,
			Attributes: item.Attributes,
			UpdatedAt:  item.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeSuccess(ctx, w, http.StatusOK, out)
}

type fireResponse struct {
	Rule    string `json:"rule"`
	FiredAt string `json:"firedAt"`
}

// FireRule fires one schedule rule immediately, bypassing its trigger and
// season gate. Used by operators to backfill or verify a handler.
func (h *Handler) FireRule(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.FireRule")
	defer span.End()

	ruleName := strings.TrimSpace(r.PathValue("rule"))
	if ruleName == "" {
		writeError(ctx, w, fmt.Errorf("%w: rule name is required", usecase.ErrInvalidInput))
		return
	}

	if err := h.dispatcher.TriggerRule(ctx, ruleName); err != nil {
		h.logger.WarnContext(ctx, "manual fire failed", "rule", ruleName, "error", err)
		writeError(ctx, w, err)
		return
	}

	h.logger.InfoContext(ctx, "manual fire accepted", "rule", ruleName)
	writeSuccess(ctx, w, http.StatusAccepted, fireResponse{
		Rule:    ruleName,
		FiredAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func parseLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

func describeTrigger(t schedule.Trigger) string {
	switch t.Kind {
	case schedule.TriggerRate:
		return "rate(" + t.Interval.String() + ")"
	case schedule.TriggerCalendar:
		spec := t.Calendar
		return fmt.Sprintf("calendar(%s %s %s %s %s)",
			orStar(spec.Minute), orStar(spec.Hour), orStar(spec.DayOfMonth),
			orStar(spec.Month), orStar(spec.DayOfWeek))
	default:
		return string(t.Kind)
	}
}

func describeSeason(w *schedule.SeasonWindow) string {
	if w == nil {
		return ""
	}
	return fmt.Sprintf("%s-%s", w.StartMonth.String()[:3], w.EndMonth.String()[:3])
}

func orStar(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "*"
	}
	return v
}
