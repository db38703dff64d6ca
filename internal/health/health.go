// Package health serves the liveness and readiness probes of vacuumd.
//
// /healthz reports whether the process is alive: it fails once shutdown has
// begun or when a registered worker loop has exited. /readyz additionally
// runs every registered ReadinessChecker with a per-check timeout, so it
// fails while the store, the index or the metadata service is unreachable.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultReadinessTimeout bounds each readiness check.
const DefaultReadinessTimeout = 5 * time.Second

// Status values.
const (
	StatusOK           = "ok"
	StatusDegraded     = "degraded"
	StatusNotReady     = "not_ready"
	StatusShuttingDown = "shutting_down"
)

// ReadinessChecker is a dependency probed by /readyz.
type ReadinessChecker interface {
	Name() string
	CheckReady(ctx context.Context) error
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// WorkerStatus is the state of a registered worker loop.
type WorkerStatus struct {
	Running       bool      `json:"running"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Status is the JSON body of both probes.
type Status struct {
	Status  string                  `json:"status"`
	Workers map[string]WorkerStatus `json:"workers,omitempty"`
	Checks  map[string]CheckResult  `json:"checks"`
}

// Checker tracks liveness state and readiness checks.
type Checker struct {
	mu       sync.RWMutex
	checks   []ReadinessChecker
	workers  map[string]*WorkerStatus
	timeout  time.Duration
	shutDown atomic.Bool
}

// NewChecker creates a Checker with the default readiness timeout.
func NewChecker() *Checker {
	return &Checker{
		workers: make(map[string]*WorkerStatus),
		timeout: DefaultReadinessTimeout,
	}
}

// RegisterReadinessCheck adds a dependency to /readyz.
func (c *Checker) RegisterReadinessCheck(checker ReadinessChecker) {
	if checker == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, checker)
}

// SetReadinessTimeout sets the timeout of each readiness check.
func (c *Checker) SetReadinessTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// RegisterWorker marks a worker loop as running.
func (c *Checker) RegisterWorker(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers[name] = &WorkerStatus{Running: true, LastHeartbeat: time.Now()}
}

// Heartbeat records that a worker completed an iteration.
func (c *Checker) Heartbeat(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.workers[name]; ok {
		w.LastHeartbeat = time.Now()
	}
}

// UnregisterWorker marks a worker loop as stopped.
func (c *Checker) UnregisterWorker(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.workers[name]; ok {
		w.Running = false
	}
}

// SetShuttingDown makes both probes fail from now on.
func (c *Checker) SetShuttingDown() {
	c.shutDown.Store(true)
}

// IsShuttingDown reports whether SetShuttingDown was called.
func (c *Checker) IsShuttingDown() bool {
	return c.shutDown.Load()
}

// Liveness computes the /healthz status.
func (c *Checker) Liveness() Status {
	status := Status{Status: StatusOK, Checks: make(map[string]CheckResult)}
	if c.shutdownCheck(&status) {
		return status
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.workers) == 0 {
		return status
	}
	status.Workers = make(map[string]WorkerStatus, len(c.workers))
	stopped := false
	for name, w := range c.workers {
		status.Workers[name] = *w
		stopped = stopped || !w.Running
	}
	if stopped {
		status.Status = StatusDegraded
		status.Checks["workers"] = CheckResult{Healthy: false, Message: "one or more workers have stopped"}
	} else {
		status.Checks["workers"] = CheckResult{Healthy: true, Message: "all workers are running"}
	}
	return status
}

// Readiness runs every readiness check and computes the /readyz status.
func (c *Checker) Readiness(ctx context.Context) Status {
	status := Status{Status: StatusOK, Checks: make(map[string]CheckResult)}
	if c.shutdownCheck(&status) {
		return status
	}

	c.mu.RLock()
	checks := make([]ReadinessChecker, len(c.checks))
	copy(checks, c.checks)
	timeout := c.timeout
	c.mu.RUnlock()

	for _, checker := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := checker.CheckReady(checkCtx)
		cancel()
		if err != nil {
			status.Status = StatusNotReady
			status.Checks[checker.Name()] = CheckResult{Healthy: false, Message: err.Error()}
			continue
		}
		status.Checks[checker.Name()] = CheckResult{Healthy: true, Message: "healthy"}
	}
	return status
}

func (c *Checker) shutdownCheck(status *Status) bool {
	if c.shutDown.Load() {
		status.Status = StatusShuttingDown
		status.Checks["shutdown"] = CheckResult{Healthy: false, Message: "vacuumd is shutting down"}
		return true
	}
	status.Checks["shutdown"] = CheckResult{Healthy: true, Message: "vacuumd is running"}
	return false
}

// LivenessHandler serves /healthz.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowed(w, r) {
			return
		}
		writeStatus(w, r, c.Liveness())
	})
}

// ReadinessHandler serves /readyz.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowed(w, r) {
			return
		}
		writeStatus(w, r, c.Readiness(r.Context()))
	})
}

func allowed(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeStatus(w http.ResponseWriter, r *http.Request, status Status) {
	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusOK {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(status)
	}
}
