package rpcclient

import (
	"sync"
	"time"
)

// SimpleHealthTracker implements HealthTracker with a basic circuit breaker:
// once an endpoint's cumulative failures exceed its successes by the
// failure threshold, the circuit opens for a cool-down window, after which
// the endpoint is retried.
type SimpleHealthTracker struct {
	mu     sync.RWMutex
	health map[string]*EndpointHealth

	failureThreshold  int
	successThreshold  int
	circuitOpenWindow time.Duration
}

// NewSimpleHealthTracker builds a tracker with sensible defaults: open
// once failures exceed successes by 3, close once successes exceed
// failures by 2 (cumulative counts, not consecutive runs), stay open for
// 30s before allowing a retry.
func NewSimpleHealthTracker() *SimpleHealthTracker {
	return &SimpleHealthTracker{
		health:            make(map[string]*EndpointHealth),
		failureThreshold:  3,
		successThreshold:  2,
		circuitOpenWindow: 30 * time.Second,
	}
}

func (t *SimpleHealthTracker) RecordSuccess(endpoint string, durationMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.getOrCreate(endpoint)
	h.TotalCalls++
	h.SuccessfulCalls++
	h.LastSuccess = time.Now().Unix()

	if h.AvgLatencyMs == 0 {
		h.AvgLatencyMs = durationMs
	} else {
		h.AvgLatencyMs = (h.AvgLatencyMs*9 + durationMs) / 10
	}

	if h.CircuitOpen {
		consecutiveSuccesses := h.SuccessfulCalls - h.FailedCalls
		if consecutiveSuccesses >= int64(t.successThreshold) {
			h.CircuitOpen = false
		}
	}
}

func (t *SimpleHealthTracker) RecordFailure(endpoint string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.getOrCreate(endpoint)
	h.TotalCalls++
	h.FailedCalls++
	h.LastFailure = time.Now().Unix()

	consecutiveFailures := h.FailedCalls - h.SuccessfulCalls
	if consecutiveFailures >= int64(t.failureThreshold) {
		h.CircuitOpen = true
	}
}

func (t *SimpleHealthTracker) IsHealthy(endpoint string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, exists := t.health[endpoint]
	if !exists {
		return true
	}

	if h.CircuitOpen {
		elapsed := time.Now().Unix() - h.LastFailure
		if elapsed < int64(t.circuitOpenWindow.Seconds()) {
			return false
		}
	}

	return true
}

func (t *SimpleHealthTracker) getOrCreate(endpoint string) *EndpointHealth {
	h, exists := t.health[endpoint]
	if !exists {
		h = &EndpointHealth{Endpoint: endpoint}
		t.health[endpoint] = h
	}
	return h
}
