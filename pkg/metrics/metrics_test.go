package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *PrometheusMetrics) string {
	t.Helper()
	handler := m.HTTPHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestPrometheusMetrics_Creation(t *testing.T) {
	m := NewPrometheusMetrics("test")
	require.NotNil(t, m)
	require.NotNil(t, m.registry)
}

func TestPrometheusMetrics_EvaluationMetrics(t *testing.T) {
	m := NewPrometheusMetrics("test")

	m.IncEvaluations(ResultCommitted)
	m.IncEvaluations(ResultCached)
	m.IncInteractions(OutcomeApplied)
	m.IncInteractions(OutcomeUnsafe)
	m.ObserveReplayDuration(250 * time.Millisecond)
	m.SetEvaluatedHeight("contract-1", 1200)

	body := scrape(t, m)
	assert.Contains(t, body, `test_evaluations_total{result="committed"} 1`)
	assert.Contains(t, body, `test_interactions_evaluated_total{outcome="unsafe"} 1`)
	assert.Contains(t, body, "test_replay_duration_seconds")
	assert.Contains(t, body, `test_evaluated_height{contract="contract-1"} 1200`)
}

func TestPrometheusMetrics_LoaderMetrics(t *testing.T) {
	m := NewPrometheusMetrics("test")

	m.IncInteractionsLoaded(20)
	m.IncInteractionsLoaded(5)
	m.IncLoadRetries()
	m.ObserveLoadDuration(time.Second)

	body := scrape(t, m)
	assert.Contains(t, body, "test_interactions_loaded_total 25")
	assert.Contains(t, body, "test_load_retries_total 1")
	assert.Contains(t, body, "test_load_duration_seconds")
}

func TestPrometheusMetrics_CacheMetrics(t *testing.T) {
	m := NewPrometheusMetrics("test")

	m.IncCacheHits(LayerMemory)
	m.IncCacheHits(LayerStore)
	m.IncCacheMisses()
	m.IncCacheWrites(WriteStored)
	m.IncCacheWrites(WriteStale)
	m.IncCacheInvalidations(3)

	body := scrape(t, m)
	assert.Contains(t, body, `test_cache_hits_total{layer="memory"} 1`)
	assert.Contains(t, body, "test_cache_misses_total 1")
	assert.Contains(t, body, `test_cache_writes_total{result="stale"} 1`)
	assert.Contains(t, body, "test_cache_invalidated_snapshots_total 3")
}

func TestPrometheusMetrics_GatewayMetrics(t *testing.T) {
	m := NewPrometheusMetrics("test")
	m.ObserveGatewayRequest(EndpointGraphQL, 40*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `test_gateway_request_duration_seconds_count{endpoint="graphql"} 1`)
}

func TestPrometheusMetrics_Handler(t *testing.T) {
	m := NewPrometheusMetrics("test")

	// Test that Handler() returns a valid HTTP handler
	handler := m.Handler()
	require.NotNil(t, handler)

	httpHandler, ok := handler.(http.Handler)
	require.True(t, ok)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	httpHandler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestPrometheusMetrics_MetricsFormat(t *testing.T) {
	m := NewPrometheusMetrics("warp")
	m.SetEvaluatedHeight("c", 999)

	body := scrape(t, m)

	// Verify Prometheus format with HELP and TYPE comments
	assert.Contains(t, body, "# HELP warp_evaluated_height")
	assert.Contains(t, body, "# TYPE warp_evaluated_height gauge")
	assert.Contains(t, body, `warp_evaluated_height{contract="c"} 999`)
}

func TestNopMetrics_AllMethodsNoop(t *testing.T) {
	m := NewNopMetrics()
	require.NotNil(t, m)

	// All these should be no-ops and not panic
	m.IncEvaluations(ResultFailed)
	m.IncInteractions(OutcomeTimeout)
	m.ObserveReplayDuration(time.Second)
	m.SetEvaluatedHeight("c", 1)
	m.IncInteractionsLoaded(10)
	m.IncLoadRetries()
	m.ObserveLoadDuration(time.Second)
	m.IncCacheHits(LayerStore)
	m.IncCacheMisses()
	m.IncCacheWrites(WriteStored)
	m.IncCacheInvalidations(1)
	m.ObserveGatewayRequest(EndpointInfo, time.Millisecond)

	assert.Nil(t, m.Handler())
}

func TestPrometheusMetrics_ConcurrentAccess(t *testing.T) {
	m := NewPrometheusMetrics("test")

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				m.IncInteractions(OutcomeApplied)
				m.IncCacheHits(LayerMemory)
				m.SetEvaluatedHeight("c", uint64(j))
				m.ObserveReplayDuration(time.Duration(j) * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	body := scrape(t, m)
	assert.Contains(t, body, `test_interactions_evaluated_total{outcome="applied"} 1000`)
}
