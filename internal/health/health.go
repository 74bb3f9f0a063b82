package health

import (
	"sort"
	"sync"
	"time"

	"github.com/breeze-rmm/taskmgr/internal/logging"
)

var log = logging.L("health")

// Status is the health of one engine component.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case Healthy, Degraded, Unhealthy, Unknown:
		return true
	}
	return false
}

// Check is the latest result recorded for a component.
type Check struct {
	Name      string    `json:"name" yaml:"name"`
	Status    Status    `json:"status" yaml:"status"`
	Message   string    `json:"message,omitempty" yaml:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Monitor tracks the health of the engine's loops.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
}

func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]Check),
	}
}

// Update records status for name. Only transitions are logged.
func (m *Monitor) Update(name string, status Status, message string) {
	m.mu.Lock()
	prev, seen := m.checks[name]
	m.checks[name] = Check{
		Name:      name,
		Status:    status,
		Message:   message,
		UpdatedAt: time.Now(),
	}
	m.mu.Unlock()

	if seen && prev.Status == status {
		return
	}
	if status == Healthy {
		if seen {
			log.Info("component recovered", "component", name)
		}
		return
	}
	log.Warn("component health changed", "component", name, "status", string(status), "message", message)
}

// Get returns the check recorded for name.
func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall returns the worst recorded status, or Unknown before any update.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if statusRank(c.Status) > statusRank(worst) {
			worst = c.Status
		}
	}
	return worst
}

// All returns every check ordered by name.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	result := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		result = append(result, c)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Summary returns the overall status and per-component statuses.
func (m *Monitor) Summary() map[string]any {
	checks := m.All()
	components := make(map[string]string, len(checks))
	for _, c := range checks {
		components[c.Name] = string(c.Status)
	}

	return map[string]any{
		"status":     string(m.Overall()),
		"components": components,
	}
}

func statusRank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	case Unknown:
		return 3
	default:
		return 3
	}
}
