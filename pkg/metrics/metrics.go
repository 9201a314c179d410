package metrics

import (
	"time"
)

// Metrics defines the interface for collecting evaluation metrics.
// All methods are designed to be thread-safe and non-blocking.
type Metrics interface {
	// Evaluation metrics
	IncEvaluations(result string)
	IncInteractions(outcome string)
	ObserveReplayDuration(duration time.Duration)
	SetEvaluatedHeight(contractID string, height uint64)

	// Loader metrics
	IncInteractionsLoaded(count int)
	IncLoadRetries()
	ObserveLoadDuration(duration time.Duration)

	// Cache metrics
	IncCacheHits(layer string)
	IncCacheMisses()
	IncCacheWrites(result string)
	IncCacheInvalidations(count int)

	// Gateway metrics
	ObserveGatewayRequest(endpoint string, duration time.Duration)

	// HTTP handler (for serving metrics)
	Handler() any
}

// Evaluation result labels.
const (
	ResultCommitted = "committed"
	ResultCached    = "cached"
	ResultCoalesced = "coalesced"
	ResultFailed    = "failed"
	ResultCanceled  = "canceled"
)

// Interaction outcome labels.
const (
	OutcomeApplied   = "applied"
	OutcomeRejected  = "rejected"
	OutcomeException = "exception"
	OutcomeTimeout   = "timeout"
	OutcomeUnsafe    = "unsafe"
	OutcomeCyclic    = "cyclic"
)

// Cache layer labels.
const (
	LayerMemory = "memory"
	LayerStore  = "store"
)

// Cache write result labels.
const (
	WriteStored = "stored"
	WriteStale  = "stale"
	WriteFailed = "failed"
)

// Gateway endpoint labels.
const (
	EndpointGraphQL = "graphql"
	EndpointInfo    = "info"
	EndpointData    = "data"
)
