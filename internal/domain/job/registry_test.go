package job

import (
	"errors"
	"testing"
	"time"
)

func testJob(name string) Job {
	return Job{
		Name:    name,
		Handler: "/v1/internal/handlers/collect-odds",
		Budget:  Budget{Timeout: 30 * time.Second, MemoryMB: 256},
		Retry:   RetryPolicy{MaxAttempts: 2, MaxAge: time.Hour},
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	id, err := r.Register(testJob("collect-odds"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated job id")
	}

	got, err := r.Lookup("collect-odds")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Handler != "/v1/internal/handlers/collect-odds" {
		t.Fatalf("unexpected handler ref: %s", got.Handler)
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, err := r.Register(testJob("collect-odds")); err != nil {
		t.Fatalf("first register: %v", err)
	}

	_, err := r.Register(testJob("collect-odds"))
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestRegistry_LookupUnknown(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, err := r.Lookup("collect-weather"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_SealRejectsRegistration(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, err := r.Register(testJob("collect-odds")); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Seal()
	if _, err := r.Register(testJob("collect-news")); err == nil {
		t.Fatal("expected registration after seal to fail")
	}
	if !r.Sealed() {
		t.Fatal("expected registry to report sealed")
	}
}

func TestRegistry_ListPreservesOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	names := []string{"collect-odds", "collect-injuries", "collect-news"}
	for _, name := range names {
		if _, err := r.Register(testJob(name)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	listed := r.List()
	if len(listed) != len(names) {
		t.Fatalf("expected %d jobs, got %d", len(names), len(listed))
	}
	for i, name := range names {
		if listed[i].Name != name {
			t.Fatalf("position %d: expected %s, got %s", i, name, listed[i].Name)
		}
	}
}

func TestJob_EnvIsCopied(t *testing.T) {
	t.Parallel()

	j, err := New("", "collect-odds", "/v1/internal/handlers/collect-odds",
		Budget{Timeout: time.Minute}, RetryPolicy{}, map[string]string{"REGION": "us-east"})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	env := j.Env()
	env["REGION"] = "mutated"

	if j.Env()["REGION"] != "us-east" {
		t.Fatal("job env must be immutable after creation")
	}
}

func TestJob_ValidateRejectsZeroTimeout(t *testing.T) {
	t.Parallel()

	j := testJob("collect-odds")
	j.Budget.Timeout = 0
	if err := j.Validate(); err == nil {
		t.Fatal("expected validation error for zero timeout")
	}
}
