package monitor

import (
	"sync"
	"time"

	"github.com/airbreizh/didon/pkg/coordinator"
)

// RunMonitor tracks the health of scheduled runs and keeps their last summaries.
type RunMonitor struct {
	mu                sync.RWMutex
	interval          time.Duration
	history           int
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	runs              []coordinator.Summary
}

// NewRunMonitor creates a monitor for runs scheduled every interval,
// remembering the last history summaries.
func NewRunMonitor(interval time.Duration, history int) *RunMonitor {
	if history < 1 {
		history = 1
	}
	return &RunMonitor{interval: interval, history: history}
}

// RecordSuccess records a completed run.
func (rm *RunMonitor) RecordSuccess(s *coordinator.Summary) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.lastSuccess = time.Now()
	rm.lastAttempt = rm.lastSuccess
	rm.consecutiveErrors = 0
	rm.lastError = ""
	rm.remember(s)
}

// RecordFailure records a run that could not complete. s may be nil.
func (rm *RunMonitor) RecordFailure(s *coordinator.Summary, err error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.lastAttempt = time.Now()
	rm.consecutiveErrors++
	if err != nil {
		rm.lastError = err.Error()
	}
	rm.remember(s)
}

func (rm *RunMonitor) remember(s *coordinator.Summary) {
	if s == nil {
		return
	}
	rm.runs = append(rm.runs, *s)
	if len(rm.runs) > rm.history {
		rm.runs = rm.runs[len(rm.runs)-rm.history:]
	}
}

// IsHealthy returns true if runs are completing.
// Unhealthy conditions:
//   - Never succeeded
//   - No success for more than two intervals
//   - More than 3 consecutive failures
func (rm *RunMonitor) IsHealthy() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.healthy()
}

func (rm *RunMonitor) healthy() bool {
	if rm.lastSuccess.IsZero() {
		return false
	}
	if rm.interval > 0 && time.Since(rm.lastSuccess) > 2*rm.interval {
		return false
	}
	return rm.consecutiveErrors <= 3
}

// Last returns the most recent run summary, or nil before the first run.
func (rm *RunMonitor) Last() *coordinator.Summary {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if len(rm.runs) == 0 {
		return nil
	}
	last := rm.runs[len(rm.runs)-1]
	return &last
}

// History returns the remembered summaries, most recent first.
func (rm *RunMonitor) History() []coordinator.Summary {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]coordinator.Summary, len(rm.runs))
	for i, s := range rm.runs {
		out[len(rm.runs)-1-i] = s
	}
	return out
}

// RunStatus is the run health reported by the health check.
type RunStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current run status for health checks.
func (rm *RunMonitor) Status() RunStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	status := RunStatus{
		Healthy: rm.healthy(),
	}

	if !rm.lastSuccess.IsZero() {
		status.LastSuccess = rm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(rm.lastSuccess).Round(time.Second).String()
	}

	if !rm.lastAttempt.IsZero() {
		status.LastAttempt = rm.lastAttempt.Format(time.RFC3339)
	}

	if rm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = rm.consecutiveErrors
		status.LastError = rm.lastError
	}

	return status
}
