// Package health aggregates node health: per-checker probes plus the
// lifecycle state of managed services. The web server exposes the report.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/motiontrap/camnode/internal/logger"
	"github.com/motiontrap/camnode/internal/service"
)

// Status represents a health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the result of one health probe
type Check struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Report is the aggregated health report
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]Check       `json:"checks"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// Checker probes one aspect of node health
type Checker interface {
	Name() string
	Check(ctx context.Context) Check
}

// Manager runs registered checkers and assembles the report
type Manager struct {
	logger     *logger.Logger
	svcManager *service.Manager
	startTime  time.Time
	mu         sync.RWMutex
	checkers   []Checker
}

// NewManager creates a health manager
func NewManager(log *logger.Logger, svcManager *service.Manager) *Manager {
	return &Manager{
		logger:     log,
		svcManager: svcManager,
		startTime:  time.Now(),
	}
}

// RegisterChecker adds a health checker
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// Check runs all checkers. Any unhealthy check makes the report unhealthy;
// degraded checks degrade an otherwise healthy report.
func (m *Manager) Check(ctx context.Context) Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	checks := make(map[string]Check)
	overall := StatusHealthy

	for _, checker := range m.checkers {
		check := checker.Check(ctx)
		checks[check.Name] = check

		if check.Status == StatusUnhealthy {
			overall = StatusUnhealthy
		} else if check.Status == StatusDegraded && overall == StatusHealthy {
			overall = StatusDegraded
		}
	}

	services := make(map[string]interface{})
	if m.svcManager != nil {
		for name, status := range m.svcManager.GetAllStatuses() {
			entry := map[string]interface{}{
				"status": status.GetStatus(),
				"uptime": status.GetUptime().String(),
			}
			if err := status.GetError(); err != nil {
				entry["error"] = err.Error()
			}
			services[name] = entry
		}
	}

	return Report{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime).String(),
		Checks:    checks,
		Services:  services,
	}
}
