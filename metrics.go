package goTrust

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or histogram in the registry.
type MetricID uint16

const (
	// MetricTokenStored counts successful token writes.
	MetricTokenStored MetricID = iota
	// MetricTokenHit counts lookups that returned a live record.
	MetricTokenHit
	// MetricTokenMiss counts lookups for expired, revoked, or unknown
	// tokens.
	MetricTokenMiss
	// MetricTokenRevoked counts successful revocations.
	MetricTokenRevoked
	// MetricIntrospectActive counts introspections answering active.
	MetricIntrospectActive
	// MetricIntrospectInactive counts introspections answering inactive.
	MetricIntrospectInactive
	// MetricCredentialStored counts successful credential registrations.
	MetricCredentialStored
	// MetricSignCountAdvanced counts accepted signature counter updates.
	MetricSignCountAdvanced
	// MetricCounterRegression counts rejected counter updates, a possible
	// cloned authenticators.
	MetricCounterRegression
	// MetricIntegrityFailure counts AEAD failures on stored ciphertext.
	MetricIntegrityFailure
	// MetricCredentialDeleted counts credential removals.
	MetricCredentialDeleted
	// MetricRateLimitAllowed counts admitted limiter checks.
	MetricRateLimitAllowed
	// MetricRateLimitDenied counts limiter denials.
	MetricRateLimitDenied
	// MetricDenyListHit counts requests rejected by the deny list before
	// any limiter state was touched.
	MetricDenyListHit
	// MetricStoreUnavailable counts operations that failed on backing-store
	// connectivity.
	MetricStoreUnavailable
	// MetricRevokeLatency is the revocation latency histogram, the
	// observable for the sub-10ms p95 revocation budget.
	MetricRevokeLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps each counter on its own cache line so concurrent
// increments of different metrics don't false-share.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a lock-free in-process metric registry.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a registry per the config. A disabled registry is a
// no-op with near-zero cost.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether the registry records anything.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a latency sample. Only the revoke latency histogram is
// tracked.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricRevokeLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current value of one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters and histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricRevokeLatency].buckets[i])
		}
		s.Histograms[MetricRevokeLatency] = buckets
	}

	return s
}

// Buckets sized around the 10ms revocation budget: the first three cover
// healthy operation, everything above bucket 3 is an SLA breach.
func bucketIndex(d time.Duration) int {
	us := d.Microseconds()

	switch {
	case us <= 500:
		return 0
	case us <= 1_000:
		return 1
	case us <= 5_000:
		return 2
	case us <= 10_000:
		return 3
	case us <= 25_000:
		return 4
	case us <= 50_000:
		return 5
	case us <= 100_000:
		return 6
	default:
		return 7
	}
}
