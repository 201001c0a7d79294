package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Mutation("add_item", nil)
		m.StoreWrite("lists", time.Millisecond)
		m.QueueDepth(1)
		m.QueueWait(time.Millisecond)
		m.Subscribers(3)
		m.Eviction("stale")
		m.Broadcast("items")
		m.Request(http.MethodGet, "/api/lists", http.StatusOK, time.Millisecond)
		m.RateLimited()
	})

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Mutation("add_item", nil)
	m.Mutation("add_item", errors.New("boom"))
	m.Subscribers(2)
	m.Eviction("stale")
	m.Request(http.MethodPost, "/api/items/{list}", http.StatusOK, 5*time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `sharedlists_mutations_total{op="add_item",result="ok"} 1`)
	assert.Contains(t, text, `sharedlists_mutations_total{op="add_item",result="error"} 1`)
	assert.Contains(t, text, `sharedlists_subscribers 2`)
	assert.Contains(t, text, `sharedlists_subscriber_evictions_total{reason="stale"} 1`)
	assert.Contains(t, text, `route="/api/items/{list}"`)
	assert.Contains(t, text, "go_goroutines")
}
