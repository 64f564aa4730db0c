// Package controlplane owns the startup, reload, and shutdown lifecycle
// that ties the other six components together (spec §4.G). It is the
// only package that constructs the registry, the capability index, the
// health monitor, the dispatcher, and the HTTP server, and the only
// package that knows the order they must come up and go down in,
// grounded on _teacher_ref/cmd_vmcp/app/commands.go's runServe wiring
// order: load config, discover backends, build the routing layer,
// register capabilities, start serving.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/saxyguy81/mcp-hub/pkg/capability"
	"github.com/saxyguy81/mcp-hub/pkg/compose"
	"github.com/saxyguy81/mcp-hub/pkg/config"
	"github.com/saxyguy81/mcp-hub/pkg/health"
	"github.com/saxyguy81/mcp-hub/pkg/logger"
	"github.com/saxyguy81/mcp-hub/pkg/mcpclient"
	"github.com/saxyguy81/mcp-hub/pkg/mcphub"
	"github.com/saxyguy81/mcp-hub/pkg/metrics"
	"github.com/saxyguy81/mcp-hub/pkg/router"
)

// Plane owns the full component graph for one running proxy instance and
// the goroutines/listeners those components spawn.
type Plane struct {
	cfg     *config.Config
	metrics *metrics.Metrics

	registry   *mcphub.Registry
	index      *capability.Index
	monitor    *health.Monitor
	dispatcher *router.Dispatcher
	server     *router.Server
	httpServer *http.Server

	mu         sync.Mutex
	started    bool
	stopped    bool
	listenAddr string
}

// New builds every component wired to cfg and m, but starts nothing; call
// Start to begin serving. A nil m is rejected rather than silently
// defaulting, since every counter the spec names (§7) must land
// somewhere for this to be a faithful implementation.
func New(cfg *config.Config, m *metrics.Metrics) (*Plane, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("controlplane: invalid config: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("controlplane: metrics must not be nil")
	}

	registry := mcphub.NewRegistry()

	index := capability.New(func(c capability.Conflict) {
		m.CapabilityConflict(string(c.Kind))
	})

	p := &Plane{
		cfg:      cfg,
		metrics:  m,
		registry: registry,
		index:    index,
	}

	healthConfig := health.Config{
		CheckInterval: cfg.HealthCheckInterval,
		FailThreshold: cfg.FailThreshold,
		Timeout:       cfg.HealthCheckTimeout,
	}
	monitor, err := health.NewMonitor(registry, p.newProber, healthConfig, p.onCapabilityChange)
	if err != nil {
		return nil, fmt.Errorf("controlplane: build health monitor: %w", err)
	}
	p.monitor = monitor

	dispatcher := router.New(registry, index, p.newCaller, cfg.RequestTimeout, router.Metrics{
		DroppedNotifications: m.DroppedNotification,
		Errors:               m.Error,
	})
	p.dispatcher = dispatcher

	server := router.NewServer(dispatcher, registry)
	p.server = server
	p.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(),
	}

	return p, nil
}

func (p *Plane) newProber(baseURL string) health.Prober {
	return mcpclient.New(baseURL, p.cfg.HealthCheckTimeout)
}

func (p *Plane) newCaller(baseURL string) router.BackendCaller {
	return mcpclient.New(baseURL, p.cfg.RequestTimeout)
}

// onCapabilityChange is the Health Monitor's signal that a backend's
// Healthy status or capability set changed; it rebuilds and republishes
// the capability index (spec §3, §4.D).
func (p *Plane) onCapabilityChange(backendName string) {
	conflicts := p.index.Rebuild(p.registry.Snapshot())
	logger.Infow("capability index rebuilt after backend change", "backend", backendName, "conflicts", conflicts)
}

// Start brings up every component in the order spec §4.G fixes: parse the
// compose document and seed the registry, begin accepting HTTP
// connections (serving healthy_servers=0 until probes complete), then
// start the health monitor, whose first probe sweep runs immediately.
func (p *Plane) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("controlplane: already started")
	}
	p.started = true
	p.mu.Unlock()

	discovered, err := compose.DiscoverFile(p.cfg.ComposeFile)
	if err != nil {
		return fmt.Errorf("controlplane: startup failed: %w", err)
	}
	added, _, _ := compose.Sync(p.registry, discovered)
	logger.Infow("backends discovered", "count", len(discovered), "added", added)

	listener, err := newListener(p.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("controlplane: bind %s: %w", p.cfg.ListenAddr, err)
	}
	p.mu.Lock()
	p.listenAddr = listener.Addr().String()
	p.mu.Unlock()

	go func() {
		if err := p.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("http server stopped unexpectedly", "error", err.Error())
		}
	}()
	logger.Infow("router accepting connections", "addr", p.cfg.ListenAddr)

	if err := p.monitor.Start(ctx); err != nil {
		return fmt.Errorf("controlplane: start health monitor: %w", err)
	}
	logger.Infow("health monitor started", "interval", p.cfg.HealthCheckInterval, "failThreshold", p.cfg.FailThreshold)

	return nil
}

// Reload re-parses the compose document and reconciles the registry
// against it (spec §4.G): new backends are upserted and begin probing
// immediately; absent backends are removed and unwatched. A malformed
// compose document on reload leaves the previous registry untouched and
// in-flight requests unaffected.
func (p *Plane) Reload(ctx context.Context) error {
	discovered, err := compose.DiscoverFile(p.cfg.ComposeFile)
	if err != nil {
		return fmt.Errorf("controlplane: reload failed, registry unchanged: %w", err)
	}

	added, changed, removed := compose.Sync(p.registry, discovered)
	for _, name := range removed {
		p.monitor.Unwatch(name)
	}
	for _, name := range append(append([]string{}, added...), changed...) {
		p.monitor.Watch(ctx, name)
	}

	conflicts := p.index.Rebuild(p.registry.Snapshot())
	logger.Infow("reload complete", "added", added, "changed", changed, "removed", removed, "conflicts", conflicts)
	return nil
}

// Shutdown stops accepting new HTTP connections, cancels the health
// monitor, and waits up to ShutdownGrace for in-flight requests to
// drain before force-closing (spec §4.G). It reports whether shutdown
// completed within grace.
func (p *Plane) Shutdown(ctx context.Context) (completedInGrace bool, err error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return true, nil
	}
	p.stopped = true
	p.mu.Unlock()

	graceCtx, cancel := context.WithTimeout(ctx, p.cfg.ShutdownGrace)
	defer cancel()

	shutdownErr := p.httpServer.Shutdown(graceCtx)
	completedInGrace = shutdownErr == nil
	if !completedInGrace {
		logger.Warnw("shutdown grace exceeded, force-closing connections", "grace", p.cfg.ShutdownGrace)
		_ = p.httpServer.Close()
	}

	if monitorErr := p.monitor.Stop(); monitorErr != nil {
		logger.Warnw("health monitor stop reported an error", "error", monitorErr.Error())
	}

	logger.Infow("shutdown complete", "completedInGrace", completedInGrace)
	return completedInGrace, nil
}

// Registry exposes the backend registry for callers (such as tests) that
// need direct read access outside the HTTP surface.
func (p *Plane) Registry() *mcphub.Registry { return p.registry }

// WaitForInitialProbes blocks until every backend discovered at Start has
// completed at least one probe. Used by the CLI's start command to decide
// when it is safe to report success to the operator.
func (p *Plane) WaitForInitialProbes() { p.monitor.WaitForInitialProbes() }

// Addr returns the address the HTTP surface is actually bound to, which
// may differ from cfg.ListenAddr (e.g. ":0" during tests resolves to an
// OS-assigned port only known after Start).
func (p *Plane) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listenAddr != "" {
		return p.listenAddr
	}
	return p.cfg.ListenAddr
}

func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
