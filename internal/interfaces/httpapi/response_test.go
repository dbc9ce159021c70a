package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/sharplines/odds-fabric/internal/usecase"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantReason string
	}{
		{name: "invalid input", err: errors.Wrap(usecase.ErrInvalidInput, "bad limit"), wantStatus: http.StatusBadRequest, wantReason: "invalidInput"},
		{name: "not found", err: errors.Wrap(usecase.ErrNotFound, "no rule"), wantStatus: http.StatusNotFound, wantReason: "notFound"},
		{name: "unauthorized", err: usecase.ErrUnauthorized, wantStatus: http.StatusUnauthorized, wantReason: "unauthorized"},
		{name: "dependency unavailable", err: errors.Wrap(usecase.ErrDependencyUnavailable, "db down"), wantStatus: http.StatusServiceUnavailable, wantReason: "dependencyUnavailable"},
		{name: "unknown error", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantReason: "internalError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mapped := mapError(tt.err)
			if mapped.HTTPStatus != tt.wantStatus {
				t.Fatalf("status = %d, want %d", mapped.HTTPStatus, tt.wantStatus)
			}
			if mapped.Reason != tt.wantReason {
				t.Fatalf("reason = %q, want %q", mapped.Reason, tt.wantReason)
			}
		})
	}
}

func TestWriteSuccessEnvelope(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	writeSuccess(context.Background(), rec, http.StatusOK, map[string]string{"status": "ok"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"apiVersion":"2.0"`) {
		t.Fatalf("missing apiVersion: %s", body)
	}
	if strings.Contains(body, `"error"`) {
		t.Fatalf("success envelope must not carry an error: %s", body)
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	writeError(context.Background(), rec, errors.Wrap(usecase.ErrNotFound, "rule missing"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"status":"NOT_FOUND"`) {
		t.Fatalf("missing status: %s", body)
	}
	if !strings.Contains(body, `"domain":"odds-fabric"`) {
		t.Fatalf("missing domain: %s", body)
	}
	if !strings.Contains(body, "rule missing") {
		t.Fatalf("missing message: %s", body)
	}
}

func TestWriteInternalErrorHidesDetail(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	writeInternalError(context.Background(), rec)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
