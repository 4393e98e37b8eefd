// Package health keeps a per-resource status board for one run so the
// outcome of acquisition and teardown can be reported as a single record.
package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/breeze-rmm/seatlease/internal/logging"
)

var log = logging.L("health")

// Status is the lifecycle position of one tracked resource.
type Status string

const (
	Unknown  Status = "unknown"
	Held     Status = "held"
	Paused   Status = "paused"
	Released Status = "released"
	Failed   Status = "failed"
)

// IsValid reports whether s is one of the declared statuses.
func (s Status) IsValid() bool {
	switch s {
	case Unknown, Held, Paused, Released, Failed:
		return true
	}
	return false
}

// Check is the latest recorded status of a named resource.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Monitor records resource statuses in the order resources were first
// reported.
type Monitor struct {
	mu     sync.RWMutex
	order  []string
	checks map[string]Check
}

func NewMonitor() *Monitor {
	return &Monitor{checks: make(map[string]Check)}
}

// Update records status for name. Undeclared statuses are stored as Unknown.
func (m *Monitor) Update(name string, status Status, message string) {
	if !status.IsValid() {
		log.Warn("undeclared resource status", "resource", name, "status", string(status))
		status = Unknown
	}

	m.mu.Lock()
	if _, seen := m.checks[name]; !seen {
		m.order = append(m.order, name)
	}
	m.checks[name] = Check{Name: name, Status: status, Message: message, UpdatedAt: time.Now()}
	m.mu.Unlock()

	switch status {
	case Failed:
		log.Warn("resource failed", "resource", name, "message", message)
	case Paused:
		log.Info("resource paused", "resource", name, "message", message)
	default:
		log.Debug("resource status", "resource", name, "status", string(status))
	}
}

// Overall returns the worst status across the board. Unknown entries only
// count when nothing else has been recorded; an empty board is Unknown.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

func (m *Monitor) overallLocked() Status {
	worst := Unknown
	for _, name := range m.order {
		if s := m.checks[name].Status; rank(s) > rank(worst) {
			worst = s
		}
	}
	return worst
}

// All returns the checks in first-reported order.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Check, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.checks[name])
	}
	return out
}

// Leaked returns the resources whose last recorded status still claims
// them, Held or Paused.
func (m *Monitor) Leaked() []string {
	var out []string
	for _, c := range m.All() {
		if c.Status == Held || c.Status == Paused {
			out = append(out, c.Name)
		}
	}
	return out
}

// LogValue renders the board as one slog group: the overall status plus
// one attribute per resource.
func (m *Monitor) LogValue() slog.Value {
	m.mu.RLock()
	defer m.mu.RUnlock()
	attrs := make([]slog.Attr, 0, len(m.order)+1)
	attrs = append(attrs, slog.String("overall", string(m.overallLocked())))
	for _, name := range m.order {
		attrs = append(attrs, slog.String(name, string(m.checks[name].Status)))
	}
	return slog.GroupValue(attrs...)
}

func rank(s Status) int {
	switch s {
	case Released:
		return 1
	case Held:
		return 2
	case Paused:
		return 3
	case Failed:
		return 4
	default:
		return 0
	}
}
