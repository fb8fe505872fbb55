package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/v1/tickets", "POST", 201, 5*time.Millisecond)
	m.RecordRequest("/v1/tickets", "POST", 201, 5*time.Millisecond)
	m.RecordError("/v1/tickets", "POST", "VALIDATION_ERROR")
	m.RecordOperation("close", "ok")
	m.RecordNotification("redis", false)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Requests["/v1/tickets|POST|201"])
	assert.Equal(t, int64(10), snap.LatencyMillis["/v1/tickets|POST"])
	assert.Equal(t, int64(1), snap.Errors["/v1/tickets|POST|VALIDATION_ERROR"])
	assert.Equal(t, int64(1), snap.Operations["close|ok"])
	assert.Equal(t, int64(1), snap.Notifications["redis|failed"])

	m.RecordOperation("close", "ok")
	assert.Equal(t, int64(1), snap.Operations["close|ok"], "snapshot is a copy")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordOperation("close", "ok")
	m.RecordNotification("log", true)
	assert.Empty(t, m.Snapshot().Operations)
}
