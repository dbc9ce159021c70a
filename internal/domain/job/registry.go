package job

import (
	"fmt"
	"sync"
)

// Registry maps job names to their static definitions. It is filled once at
// startup and sealed before the dispatcher starts; Register fails after Seal
// so misordered wiring shows up at boot, not at runtime.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Job
	order  []string
	sealed bool
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Job),
	}
}

func (r *Registry) Register(j Job) (string, error) {
	if err := j.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return "", fmt.Errorf("registry is sealed, cannot register job=%s", j.Name)
	}
	if _, exists := r.byName[j.Name]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateName, j.Name)
	}

	if j.ID == "" {
		j.ID = fmt.Sprintf("job-%03d", len(r.order)+1)
	}
	r.byName[j.Name] = j
	r.order = append(r.order, j.Name)

	return j.ID, nil
}

func (r *Registry) Lookup(name string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.byName[name]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	return j, nil
}

// Seal freezes the registry. The dispatcher requires a sealed registry so
// that every trigger resolves against an immutable job table.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sealed
}

// List returns jobs in registration order.
func (r *Registry) List() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Job, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}

	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}
