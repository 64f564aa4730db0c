package mcphub

import (
	"sync"
	"time"

	"github.com/saxyguy81/mcp-hub/pkg/logger"
)

// Registry is the single mutable, authoritative record of backend state
// (spec §4.B). It is safe for concurrent use: writers (the health
// monitor's per-backend goroutines, or a compose-reload) mutate it through
// the methods below, serialized under one lock, while any number of
// readers call Snapshot or Get. Readers never
// observe a partially-applied mutation and never receive a pointer into
// the registry's own storage — every read returns a copy.
type Registry struct {
	mu       sync.Mutex
	backends map[string]*Backend
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]*Backend)}
}

// Upsert adds a backend in StateUnknown if name is new, or updates
// BaseURL/Labels in place if it already exists (a compose reload may
// change a backend's port mapping without changing its identity). It
// reports whether the backend's address changed, which the caller should
// treat as a cue to re-probe immediately rather than wait for the next
// tick.
func (r *Registry) Upsert(name, baseURL string, labels map[string]string) (addressChanged bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.backends[name]
	if !exists {
		r.backends[name] = &Backend{
			Name:    name,
			BaseURL: baseURL,
			State:   StateUnknown,
			Labels:  labels,
		}
		logger.Infow("backend registered", "backend", name, "baseURL", baseURL)
		return true
	}

	addressChanged = b.BaseURL != baseURL
	b.BaseURL = baseURL
	b.Labels = labels
	if addressChanged {
		// spec §4.B: a backend that moved to a new address cannot be
		// assumed reachable or capability-compatible with what it
		// advertised at the old one.
		from := b.State
		b.State = StateUnknown
		b.ConsecutiveErrors = 0
		b.Capabilities = nil
		b.InitializedAt = time.Time{}
		logger.Infow("backend address changed", "backend", name, "baseURL", baseURL, "from", from, "to", StateUnknown)
	}
	return addressChanged
}

// MarkProbing transitions a backend to StateProbing. It is a no-op error
// if the backend is unknown or has been removed.
func (r *Registry) MarkProbing(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends[name]
	if !ok {
		return ErrNotFound
	}
	if b.State == StateRemoved {
		return ErrBackendRemoved
	}
	from := b.State
	b.State = StateProbing
	b.LastProbeAt = time.Now()
	logStateTransition(name, from, StateProbing, nil)
	return nil
}

// MarkHealthy transitions a backend to StateHealthy, resets its
// consecutive-error counter, and installs the capabilities obtained from
// the refresh that gated the promotion. It reports whether the
// capability set differs from what was previously recorded, which the
// caller uses to decide whether a capability index rebuild is warranted.
func (r *Registry) MarkHealthy(name string, caps *Capabilities) (capabilityChanged bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends[name]
	if !ok {
		return false, ErrNotFound
	}
	if b.State == StateRemoved {
		return false, ErrBackendRemoved
	}

	from := b.State
	wasHealthy := b.State == StateHealthy
	b.State = StateHealthy
	b.LastProbeAt = time.Now()
	b.ConsecutiveErrors = 0
	if b.InitializedAt.IsZero() {
		b.InitializedAt = b.LastProbeAt
	}
	capabilityChanged = !wasHealthy || !sameCapabilityShape(b.Capabilities, caps)
	b.Capabilities = caps

	logStateTransition(name, from, StateHealthy, nil)
	return capabilityChanged, nil
}

// IncrementErrorCount records a failed probe without itself deciding
// whether the backend crosses the fail threshold — that policy belongs
// to the health monitor, which calls MarkUnhealthy once it does. It
// returns the new consecutive-error count.
func (r *Registry) IncrementErrorCount(name string, cause error) (count int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends[name]
	if !ok {
		return 0, ErrNotFound
	}
	if b.State == StateRemoved {
		return 0, ErrBackendRemoved
	}
	b.ConsecutiveErrors++
	b.LastProbeAt = time.Now()
	if cause != nil {
		b.lastError = cause.Error()
	}
	return b.ConsecutiveErrors, nil
}

// MarkUnhealthy transitions a backend to StateUnhealthy. It reports
// whether this is a fresh demotion (the backend was previously healthy
// and must now be excluded from the capability index) as opposed to a
// repeat failure of an already-unhealthy backend.
func (r *Registry) MarkUnhealthy(name string, cause error) (demoted bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends[name]
	if !ok {
		return false, ErrNotFound
	}
	if b.State == StateRemoved {
		return false, ErrBackendRemoved
	}

	from := b.State
	demoted = from == StateHealthy
	b.State = StateUnhealthy
	if cause != nil {
		b.lastError = cause.Error()
	}
	logStateTransition(name, from, StateUnhealthy, cause)
	return demoted, nil
}

// Remove transitions a backend to the terminal StateRemoved. It reports
// whether the backend was healthy at the time of removal, which the
// caller uses to decide whether a capability index rebuild is warranted.
func (r *Registry) Remove(name string) (wasHealthy bool, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends[name]
	if !ok {
		return false, false
	}
	from := b.State
	wasHealthy = from == StateHealthy
	b.State = StateRemoved
	b.Capabilities = nil
	logStateTransition(name, from, StateRemoved, nil)
	return wasHealthy, true
}

// Get returns a snapshot of a single backend by name.
func (r *Registry) Get(name string) (BackendSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends[name]
	if !ok {
		return BackendSnapshot{}, false
	}
	return snapshotOf(b), true
}

// Snapshot returns a copy of every backend currently known to the
// registry, including removed ones (callers that care about liveness
// filter on State themselves).
func (r *Registry) Snapshot() []BackendSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]BackendSnapshot, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, snapshotOf(b))
	}
	return out
}

// HealthyBackends returns the names of every backend currently in
// StateHealthy, the set the capability index and router operate over.
func (r *Registry) HealthyBackends() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.backends))
	for name, b := range r.backends {
		if b.State == StateHealthy {
			out = append(out, name)
		}
	}
	return out
}

func snapshotOf(b *Backend) BackendSnapshot {
	labels := make(map[string]string, len(b.Labels))
	for k, v := range b.Labels {
		labels[k] = v
	}
	return BackendSnapshot{
		Name:              b.Name,
		BaseURL:           b.BaseURL,
		State:             b.State,
		LastProbeAt:       b.LastProbeAt,
		ConsecutiveErrors: b.ConsecutiveErrors,
		Capabilities:      b.Capabilities,
		InitializedAt:     b.InitializedAt,
		Labels:            labels,
		LastError:         b.lastError,
	}
}

func sameCapabilityShape(a, b *Capabilities) bool {
	if a == nil || b == nil {
		return a == b
	}
	return len(a.Tools) == len(b.Tools) &&
		len(a.Resources) == len(b.Resources) &&
		len(a.Prompts) == len(b.Prompts)
}

func logStateTransition(name string, from, to BackendState, cause error) {
	causeStr := ""
	if cause != nil {
		causeStr = cause.Error()
	}
	logger.Infow("backend state transition",
		"backend", name, "from", from, "to", to, "cause", causeStr)
}
