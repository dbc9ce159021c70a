package job

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateName = errors.New("job name already registered")
	ErrNotFound      = errors.New("job not found")
)

// HandlerRef points at the external collector/analyzer that actually does the
// work. The fabric never looks inside it; it is an HTTP path resolved against
// the handler base URL at invocation time.
type HandlerRef string

func (r HandlerRef) String() string { return string(r) }

// Budget bounds a single invocation. Timeout is a hard wall-clock limit
// enforced by the invocation context; MemoryMB is advisory and surfaced to
// the handler through its environment.
type Budget struct {
	Timeout  time.Duration
	MemoryMB int
}

func (b Budget) Validate() error {
	if b.Timeout <= 0 {
		return fmt.Errorf("budget timeout must be > 0")
	}
	if b.MemoryMB < 0 {
		return fmt.Errorf("budget memory must be >= 0")
	}

	return nil
}

// Job is a named unit of work bound to an external handler. It is created at
// startup from the static catalog and never mutated afterwards.
type Job struct {
	ID      string
	Name    string
	Handler HandlerRef
	Budget  Budget
	Retry   RetryPolicy
	env     map[string]string
}

func New(id, name string, handler HandlerRef, budget Budget, retry RetryPolicy, env map[string]string) (Job, error) {
	j := Job{
		ID:      id,
		Name:    name,
		Handler: handler,
		Budget:  budget,
		Retry:   retry,
	}
	if len(env) > 0 {
		j.env = make(map[string]string, len(env))
		for k, v := range env {
			j.env[k] = v
		}
	}

	if err := j.Validate(); err != nil {
		return Job{}, err
	}

	return j, nil
}

func (j Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if j.Handler == "" {
		return fmt.Errorf("job handler ref is required for job=%s", j.Name)
	}
	if err := j.Budget.Validate(); err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	if err := j.Retry.Validate(); err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}

	return nil
}

// Env returns a copy so callers cannot mutate the job after registration.
func (j Job) Env() map[string]string {
	if len(j.env) == 0 {
		return nil
	}

	out := make(map[string]string, len(j.env))
	for k, v := range j.env {
		out[k] = v
	}

	return out
}

// RetryPolicy is evaluated per job family after every invocation result.
// MaxAttempts == 0 means any failure dead-letters immediately; that is used
// for time-sensitive snapshots where re-running with stale input is wrong.
type RetryPolicy struct {
	MaxAttempts int
	MaxAge      time.Duration
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("retry max attempts must be >= 0")
	}
	if p.MaxAge < 0 {
		return fmt.Errorf("retry max age must be >= 0")
	}

	return nil
}

// Payload is the literal mapping handed to a handler on every fire. Values
// are strings, numbers or booleans; the fabric passes them through verbatim.
type Payload map[string]any

// Clone guards the definition-time payload against mutation by handlers.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}

	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}

	return out
}

// Variant identifies one (family, variant, subtype) member of a job family,
// e.g. (collect-player-stats, nba, "") or (generate-analysis, nfl, props).
// The stagger allocator spreads variants of the same handler over time.
type Variant struct {
	Family  string
	Sport   string
	Subtype string
}

func (v Variant) Key() string {
	if v.Subtype == "" {
		return v.Family + ":" + v.Sport
	}
	return v.Family + ":" + v.Sport + ":" + v.Subtype
}
