// Package health periodically probes backend MCP servers and drives
// their state transitions in the backend registry (spec §4.C), on
// CheckInterval. A Healthy backend gets a cheap GET /health liveness
// check on every tick; any other state gets the full initialize +
// tools/list + resources/list + prompts/list refresh, so the capability
// index only ever rebuilds from a freshly-fetched capability set.
// FailThreshold consecutive failures demote a healthy backend to
// unhealthy, and a single success promotes it back.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saxyguy81/mcp-hub/pkg/logger"
	"github.com/saxyguy81/mcp-hub/pkg/mcphub"
)

// Prober is the pair of checks a probe tick can issue against a backend:
// CheckHealth is the cheap liveness call run on every tick once a backend
// is already Healthy; FetchCapabilities is the full initialize + list_*
// handshake run on the first success after a non-Healthy state, or on
// every tick while a backend has not yet reached Healthy (spec §4.C).
// mcpclient.Client satisfies this interface; tests supply their own.
type Prober interface {
	CheckHealth(ctx context.Context) error
	FetchCapabilities(ctx context.Context) (*mcphub.Capabilities, error)
}

// ProberFactory builds a Prober bound to a specific backend base URL.
type ProberFactory func(baseURL string) Prober

// OnCapabilityChange is invoked whenever a probe causes a backend's
// capability set to change shape or a backend is promoted/demoted —
// the signal the capability index uses to know it must rebuild
// (spec §4.D). It is called synchronously from the probing goroutine,
// so implementations must not block.
type OnCapabilityChange func(backendName string)

// Monitor owns one goroutine per registered backend, each ticking at
// Config.CheckInterval.
type Monitor struct {
	registry  *mcphub.Registry
	newProber ProberFactory
	config    Config
	onChange  OnCapabilityChange

	mu      sync.Mutex
	started bool
	stopped bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	initWg  sync.WaitGroup
	cancels map[string]context.CancelFunc
}

// NewMonitor returns a Monitor for the given registry. onChange may be
// nil if the caller does not need capability-change notifications.
func NewMonitor(registry *mcphub.Registry, newProber ProberFactory, config Config, onChange OnCapabilityChange) (*Monitor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{
		registry:  registry,
		newProber: newProber,
		config:    config,
		onChange:  onChange,
		cancels:   make(map[string]context.CancelFunc),
	}, nil
}

// Start begins monitoring every backend currently in the registry: each
// gets its own goroutine whose first probe runs immediately. Start
// returns without waiting for those probes; WaitForInitialProbes blocks
// until they have completed. A Monitor cannot be restarted after Stop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return fmt.Errorf("health: monitor already stopped")
	}
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("health: monitor already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	m.cancel = cancel
	m.started = true
	m.mu.Unlock()

	snapshots := m.registry.Snapshot()
	logger.Infow("starting health monitor", "backends", len(snapshots), "interval", m.config.CheckInterval)

	for _, snap := range snapshots {
		if snap.State == mcphub.StateRemoved {
			continue
		}
		m.watch(runCtx, snap.Name, true)
	}
	return nil
}

// WaitForInitialProbes blocks until every backend being monitored at
// Start has completed at least one probe.
func (m *Monitor) WaitForInitialProbes() {
	m.initWg.Wait()
}

// Stop cancels every probing goroutine and waits for them to exit.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return fmt.Errorf("health: monitor not started")
	}
	m.cancel()
	m.started = false
	m.stopped = true
	m.mu.Unlock()

	m.wg.Wait()
	logger.Infow("health monitor stopped")
	return nil
}

// Watch starts monitoring a backend that was added after Start (e.g. by
// a compose reload). It is a no-op if the backend is already watched.
// The backend's goroutine exits when ctx is canceled, when Unwatch is
// called for it, or when Stop is called.
func (m *Monitor) Watch(ctx context.Context, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.stopped {
		return
	}
	if _, exists := m.cancels[name]; exists {
		return
	}
	watchCtx, cancel := context.WithCancel(m.runCtx)
	context.AfterFunc(ctx, cancel)
	m.watchLocked(watchCtx, name, false)
}

// Unwatch stops monitoring a backend that was removed (e.g. by a compose
// reload). The backend's registry entry is left as-is; callers call
// Registry.Remove separately.
func (m *Monitor) Unwatch(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[name]; ok {
		cancel()
		delete(m.cancels, name)
	}
}

func (m *Monitor) watch(ctx context.Context, name string, initial bool) {
	m.mu.Lock()
	m.watchLocked(ctx, name, initial)
	m.mu.Unlock()
}

func (m *Monitor) watchLocked(ctx context.Context, name string, initial bool) {
	backendCtx, cancel := context.WithCancel(ctx)
	m.cancels[name] = cancel
	m.wg.Add(1)
	if initial {
		m.initWg.Add(1)
	}
	go m.run(backendCtx, name, initial)
}

func (m *Monitor) run(ctx context.Context, name string, initial bool) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.probeOnce(ctx, name)
	if initial {
		m.initWg.Done()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx, name)
		}
	}
}

// probeOnce runs a single probe tick for name and drives the registry's
// state machine from its outcome. A backend already Healthy gets the
// cheap liveness check; any other state gets the full capability refresh,
// so that a success there is the "first success after a non-Healthy
// state" that promotes it (spec §4.C).
func (m *Monitor) probeOnce(ctx context.Context, name string) {
	snap, ok := m.registry.Get(name)
	if !ok {
		return
	}
	wasHealthy := snap.State == mcphub.StateHealthy

	// A Healthy backend keeps its state while the liveness check runs, so
	// a failure below FailThreshold leaves it Healthy.
	if !wasHealthy {
		if err := m.registry.MarkProbing(name); err != nil {
			// The backend was removed out from under us; stop quietly.
			return
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	prober := m.newProber(snap.BaseURL)

	if wasHealthy {
		if err := prober.CheckHealth(probeCtx); err != nil {
			m.recordFailure(name, wasHealthy, err)
			return
		}
		m.recordSuccess(name, snap.Capabilities)
		return
	}

	caps, err := prober.FetchCapabilities(probeCtx)
	if err != nil {
		m.recordFailure(name, wasHealthy, err)
		return
	}
	m.recordSuccess(name, caps)
}

func (m *Monitor) recordSuccess(name string, caps *mcphub.Capabilities) {
	changed, err := m.registry.MarkHealthy(name, caps)
	if err != nil {
		return
	}
	if changed && m.onChange != nil {
		m.onChange(name)
	}
}

// recordFailure counts a failed probe. A Healthy backend is demoted only
// once the count reaches FailThreshold; any other backend is marked
// Unhealthy at once.
func (m *Monitor) recordFailure(name string, wasHealthy bool, cause error) {
	count, err := m.registry.IncrementErrorCount(name, cause)
	if err != nil {
		return
	}
	if wasHealthy && count < m.config.FailThreshold {
		logger.Warnw("backend probe failed", "backend", name, "consecutiveErrors", count, "error", cause.Error())
		return
	}

	demoted, err := m.registry.MarkUnhealthy(name, cause)
	if err != nil {
		return
	}
	if demoted && m.onChange != nil {
		m.onChange(name)
	}
}

// ProbeAllNow runs one bounded-concurrency probe pass over every backend
// currently in the registry and blocks until all have completed, with at
// most concurrency probes in flight at once.
func (m *Monitor) ProbeAllNow(ctx context.Context, concurrency int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, snap := range m.registry.Snapshot() {
		if snap.State == mcphub.StateRemoved {
			continue
		}
		name := snap.Name
		g.Go(func() error {
			m.probeOnce(gctx, name)
			return nil
		})
	}
	return g.Wait()
}
