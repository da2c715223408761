package monitor

import (
	"sync"
	"time"
)

// MaxConsecutiveErrors is how many failures in a row a task may have before
// it is reported unhealthy.
const MaxConsecutiveErrors = 3

// TaskMonitor tracks the health of a periodic background task such as
// retention of persisted samples.
type TaskMonitor struct {
	name string

	// staleAfter is how long after the last success the task is considered
	// stuck. Zero disables the check.
	staleAfter time.Duration

	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	lastResult        int
}

// NewTaskMonitor creates a monitor for the named task.
func NewTaskMonitor(name string, staleAfter time.Duration) *TaskMonitor {
	return &TaskMonitor{name: name, staleAfter: staleAfter}
}

// Name returns the task name.
func (tm *TaskMonitor) Name() string {
	return tm.name
}

// RecordSuccess records a successful run. n is a task-specific count, for
// example the number of samples deleted.
func (tm *TaskMonitor) RecordSuccess(n int) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	now := time.Now()
	tm.lastSuccess = now
	tm.lastAttempt = now
	tm.consecutiveErrors = 0
	tm.lastError = ""
	tm.lastResult = n
}

// RecordFailure records a failed run.
func (tm *TaskMonitor) RecordFailure(err error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.lastAttempt = time.Now()
	tm.consecutiveErrors++
	if err != nil {
		tm.lastError = err.Error()
	}
}

// IsHealthy returns true if the task is keeping up.
// Unhealthy conditions:
//   - Never succeeded
//   - Last success older than staleAfter
//   - More than MaxConsecutiveErrors consecutive failures
func (tm *TaskMonitor) IsHealthy() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.healthyLocked()
}

func (tm *TaskMonitor) healthyLocked() bool {
	if tm.lastSuccess.IsZero() {
		return false
	}
	if tm.staleAfter > 0 && time.Since(tm.lastSuccess) > tm.staleAfter {
		return false
	}
	return tm.consecutiveErrors <= MaxConsecutiveErrors
}

// TaskStatus is the health check view of a task.
type TaskStatus struct {
	Name              string `json:"name"`
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	LastResult        int    `json:"last_result"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current task status for health checks.
func (tm *TaskMonitor) Status() TaskStatus {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	status := TaskStatus{
		Name:       tm.name,
		Healthy:    tm.healthyLocked(),
		LastResult: tm.lastResult,
	}

	if !tm.lastSuccess.IsZero() {
		status.LastSuccess = tm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(tm.lastSuccess).Round(time.Second).String()
	}
	if !tm.lastAttempt.IsZero() {
		status.LastAttempt = tm.lastAttempt.Format(time.RFC3339)
	}
	if tm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = tm.consecutiveErrors
		status.LastError = tm.lastError
	}
	return status
}
