package metrics

import (
	"time"
)

// NopMetrics is a no-op implementation of the Metrics interface.
// Use this when metrics collection is disabled.
type NopMetrics struct{}

// NewNopMetrics creates a new NopMetrics instance.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

// Evaluation metrics (no-op)

func (m *NopMetrics) IncEvaluations(result string)                        {}
func (m *NopMetrics) IncInteractions(outcome string)                      {}
func (m *NopMetrics) ObserveReplayDuration(duration time.Duration)        {}
func (m *NopMetrics) SetEvaluatedHeight(contractID string, height uint64) {}

// Loader metrics (no-op)

func (m *NopMetrics) IncInteractionsLoaded(count int)            {}
func (m *NopMetrics) IncLoadRetries()                            {}
func (m *NopMetrics) ObserveLoadDuration(duration time.Duration) {}

// Cache metrics (no-op)

func (m *NopMetrics) IncCacheHits(layer string)       {}
func (m *NopMetrics) IncCacheMisses()                 {}
func (m *NopMetrics) IncCacheWrites(result string)    {}
func (m *NopMetrics) IncCacheInvalidations(count int) {}

// Gateway metrics (no-op)

func (m *NopMetrics) ObserveGatewayRequest(endpoint string, duration time.Duration) {}

// Handler returns nil for NopMetrics.
func (m *NopMetrics) Handler() any {
	return nil
}

var _ Metrics = (*NopMetrics)(nil)
