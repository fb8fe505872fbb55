package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu                sync.Mutex
	requestCount      map[string]int64
	errorCount        map[string]int64
	operationCount    map[string]int64
	notificationCount map[string]int64
	requestLatency    map[string]time.Duration
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Requests      map[string]int64 `json:"requests"`
	Errors        map[string]int64 `json:"errors"`
	Operations    map[string]int64 `json:"operations"`
	Notifications map[string]int64 `json:"notifications"`
	LatencyMillis map[string]int64 `json:"latency_ms_total"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:      make(map[string]int64),
		errorCount:        make(map[string]int64),
		operationCount:    make(map[string]int64),
		notificationCount: make(map[string]int64),
		requestLatency:    make(map[string]time.Duration),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
	m.requestLatency[path+"|"+method] += duration
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordOperation counts an engine operation by outcome ("ok" or an error code).
func (m *Metrics) RecordOperation(op, outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operationCount[op+"|"+outcome]++
}

// RecordNotification counts a sink delivery attempt.
func (m *Metrics) RecordNotification(sink string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notificationCount[sink+"|"+outcome]++
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	latency := make(map[string]int64, len(m.requestLatency))
	for k, v := range m.requestLatency {
		latency[k] = v.Milliseconds()
	}
	return Snapshot{
		Requests:      copyCounts(m.requestCount),
		Errors:        copyCounts(m.errorCount),
		Operations:    copyCounts(m.operationCount),
		Notifications: copyCounts(m.notificationCount),
		LatencyMillis: latency,
	}
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
