package service

import (
	"sync"
	"time"
)

// Status represents the state of a service
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// ServiceStatus tracks the status of a service
type ServiceStatus struct {
	Name      string
	Status    Status
	StartedAt time.Time
	Error     error
	mu        sync.RWMutex
}

// StatusSnapshot is a copy of a ServiceStatus safe to serialize.
type StatusSnapshot struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Uptime  time.Duration `json:"uptime"`
	Error   string        `json:"error,omitempty"`
	Healthy bool          `json:"healthy"`
}

// NewServiceStatus creates a new service status tracker
func NewServiceStatus(name string) *ServiceStatus {
	return &ServiceStatus{
		Name:   name,
		Status: StatusStopped,
	}
}

// SetStatus sets the service status. Entering running from anything but
// paused restarts the uptime clock.
func (ss *ServiceStatus) SetStatus(status Status) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if status == StatusRunning {
		if ss.Status != StatusPaused || ss.StartedAt.IsZero() {
			ss.StartedAt = time.Now()
		}
		ss.Error = nil
	}
	ss.Status = status
}

// SetError sets the service error status
func (ss *ServiceStatus) SetError(err error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.Status = StatusError
	ss.Error = err
}

// GetStatus returns the current status
func (ss *ServiceStatus) GetStatus() Status {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.Status
}

// GetError returns the current error
func (ss *ServiceStatus) GetError() error {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.Error
}

// IsRunning returns true if the service is running
func (ss *ServiceStatus) IsRunning() bool {
	return ss.GetStatus() == StatusRunning
}

// IsHealthy reports running or paused; a paused pipeline is alive.
func (ss *ServiceStatus) IsHealthy() bool {
	s := ss.GetStatus()
	return s == StatusRunning || s == StatusPaused
}

// GetUptime returns the uptime of the service
func (ss *ServiceStatus) GetUptime() time.Duration {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	if (ss.Status == StatusRunning || ss.Status == StatusPaused) && !ss.StartedAt.IsZero() {
		return time.Since(ss.StartedAt)
	}
	return 0
}

// Snapshot returns a serializable copy
func (ss *ServiceStatus) Snapshot() StatusSnapshot {
	snap := StatusSnapshot{
		Name:    ss.Name,
		Status:  ss.GetStatus(),
		Uptime:  ss.GetUptime(),
		Healthy: ss.IsHealthy(),
	}
	if err := ss.GetError(); err != nil {
		snap.Error = err.Error()
	}
	return snap
}
