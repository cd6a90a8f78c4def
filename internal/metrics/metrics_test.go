package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.EventsReceived.WithLabelValues("orders/create").Inc()
	r.Pushes.WithLabelValues("failed").Add(2)
	r.QueueDepth.Set(3)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `stocksync_events_received_total{topic="orders/create"} 1`)
	assert.Contains(t, string(body), `stocksync_pushes_total{status="failed"} 2`)
	assert.Contains(t, string(body), "stocksync_queue_depth 3")
}
