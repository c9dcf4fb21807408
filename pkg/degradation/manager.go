// Package degradation implements the Degradation Manager (C11, §4.11):
// named services register a health check and an optional fallback; a
// background loop probes every service in parallel on a fixed interval and
// computes a gateway-wide level (normal/degraded/emergency) other
// components can consult before doing expensive or risky work. The
// Start/Stop/ticker-loop shape is adapted from pkg/mcp/health.go's
// HealthMonitor, generalized from MCP-server probing to arbitrary named
// services.
package degradation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentkernel/gateway/pkg/config"
)

// HealthCheck probes one dependency and returns an error if it's unhealthy.
type HealthCheck func(ctx context.Context) error

// Fallback is invoked when a service's health check fails, so callers of
// IsServiceAvailable can still be told what degraded behavior is available
// (e.g. "serve cached results") instead of only "unavailable".
type Fallback func(ctx context.Context) error

// Severity ranks how much an unhealthy service should degrade the
// gateway-wide level if it fails.
type Severity int

const (
	// SeverityMinor failures degrade the gateway (DegradationLevelDegraded)
	// but don't block core operation.
	SeverityMinor Severity = iota
	// SeverityCritical failures push the gateway to DegradationLevelEmergency.
	SeverityCritical
)

// ServiceStatus is a point-in-time snapshot of one registered service.
type ServiceStatus struct {
	Name      string
	Healthy   bool
	Severity  Severity
	LastCheck time.Time
	Error     string
}

type service struct {
	name     string
	check    HealthCheck
	fallback Fallback
	severity Severity

	mu     sync.RWMutex
	status ServiceStatus
}

// Manager tracks every registered service's health and the gateway-wide
// DegradationLevel derived from it.
type Manager struct {
	checkInterval time.Duration
	checkTimeout  time.Duration
	logger        *slog.Logger

	mu       sync.RWMutex
	services map[string]*service

	levelMu sync.RWMutex
	level   config.DegradationLevel

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Manager. checkInterval is how often every registered
// service is probed; checkTimeout bounds each individual probe.
func New(checkInterval, checkTimeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		checkInterval: checkInterval,
		checkTimeout:  checkTimeout,
		logger:        logger.With("component", "degradation"),
		services:      make(map[string]*service),
		level:         config.DegradationLevelNormal,
	}
}

// Register adds a service to be probed. fallback may be nil if the service
// has no degraded-mode behavior to offer.
func (m *Manager) Register(name string, severity Severity, check HealthCheck, fallback Fallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[name] = &service{
		name:     name,
		check:    check,
		fallback: fallback,
		severity: severity,
		status:   ServiceStatus{Name: name, Healthy: true, Severity: severity},
	}
}

// Start launches the background probe loop. Calling Start on an already
// running Manager is a no-op.
func (m *Manager) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop halts the background probe loop and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
	m.cancel = nil
	m.done = nil
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)

	m.checkAll(ctx)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

// checkAll probes every registered service concurrently, then recomputes
// the gateway-wide level once every result is in.
func (m *Manager) checkAll(ctx context.Context) {
	m.mu.RLock()
	services := make([]*service, 0, len(m.services))
	for _, svc := range m.services {
		services = append(services, svc)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, svc := range services {
		wg.Add(1)
		go func(svc *service) {
			defer wg.Done()
			m.checkOne(ctx, svc)
		}(svc)
	}
	wg.Wait()

	m.recomputeLevel()
}

func (m *Manager) checkOne(ctx context.Context, svc *service) {
	checkCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	err := svc.check(checkCtx)

	svc.mu.Lock()
	svc.status.LastCheck = time.Now()
	svc.status.Healthy = err == nil
	if err != nil {
		svc.status.Error = err.Error()
		m.logger.Warn("service unhealthy", "service", svc.name, "error", err)
	} else {
		svc.status.Error = ""
	}
	svc.mu.Unlock()
}

// recomputeLevel derives the gateway-wide level from every service's
// current health: any unhealthy critical service is an emergency, any
// unhealthy minor service is merely degraded.
func (m *Manager) recomputeLevel() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	level := config.DegradationLevelNormal
	for _, svc := range m.services {
		svc.mu.RLock()
		healthy := svc.status.Healthy
		severity := svc.severity
		svc.mu.RUnlock()

		if healthy {
			continue
		}
		if severity == SeverityCritical {
			level = config.DegradationLevelEmergency
			break
		}
		if level == config.DegradationLevelNormal {
			level = config.DegradationLevelDegraded
		}
	}

	m.levelMu.Lock()
	if m.level != level {
		m.logger.Info("degradation level changed", "from", m.level, "to", level)
	}
	m.level = level
	m.levelMu.Unlock()
}

// Level returns the current gateway-wide degradation level.
func (m *Manager) Level() config.DegradationLevel {
	m.levelMu.RLock()
	defer m.levelMu.RUnlock()
	return m.level
}

// IsServiceAvailable reports whether a registered service's last probe
// succeeded. An unregistered service is reported available — Manager only
// degrades service names it has been told to watch.
func (m *Manager) IsServiceAvailable(name string) bool {
	m.mu.RLock()
	svc, ok := m.services[name]
	m.mu.RUnlock()
	if !ok {
		return true
	}
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.status.Healthy
}

// Fallback runs a service's registered fallback, if any. It returns false
// if the service has no fallback registered.
func (m *Manager) Fallback(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	svc, ok := m.services[name]
	m.mu.RUnlock()
	if !ok || svc.fallback == nil {
		return false, nil
	}
	return true, svc.fallback(ctx)
}

// Status returns a snapshot of every registered service's current health.
func (m *Manager) Status() []ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServiceStatus, 0, len(m.services))
	for _, svc := range m.services {
		svc.mu.RLock()
		out = append(out, svc.status)
		svc.mu.RUnlock()
	}
	return out
}
