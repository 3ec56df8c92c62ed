package walcore

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets are the round-trip latency histogram buckets in
// nanoseconds, log-spaced from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// RequestMetrics tracks request/response round-trip latency for a Session,
// independent of (and in addition to) the in-segment diagnostic counters
// a Session already exposes via DumpLoops.
type RequestMetrics struct {
	Requests       atomic.Uint64
	Errors         atomic.Uint64
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// LatencyHistogram[i] holds the cumulative count of requests with
	// latency <= LatencyBuckets[i].
	LatencyHistogram [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewRequestMetrics returns a RequestMetrics with its start time set to now.
func NewRequestMetrics() *RequestMetrics {
	m := &RequestMetrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRequest records the outcome and latency of one RequestResponse call.
func (m *RequestMetrics) RecordRequest(latencyNs uint64, success bool) {
	m.Requests.Add(1)
	if !success {
		m.Errors.Add(1)
	}
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyHistogram[i].Add(1)
		}
	}
}

// Stop marks the metrics window as closed, fixing Snapshot's uptime
// calculation at this moment rather than at the time of each snapshot.
func (m *RequestMetrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// RequestMetricsSnapshot is a point-in-time read of RequestMetrics.
type RequestMetricsSnapshot struct {
	Requests uint64
	Errors   uint64

	AvgLatencyNs  uint64
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	RequestsPerSecond float64
	ErrorRate         float64
	UptimeNs          uint64
}

// Snapshot computes a RequestMetricsSnapshot from the current counters.
func (m *RequestMetrics) Snapshot() RequestMetricsSnapshot {
	var snap RequestMetricsSnapshot
	snap.Requests = m.Requests.Load()
	snap.Errors = m.Errors.Load()

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		snap.RequestsPerSecond = float64(snap.Requests) / (float64(snap.UptimeNs) / 1e9)
	}
	if snap.Requests > 0 {
		snap.ErrorRate = float64(snap.Errors) / float64(snap.Requests) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyHistogram[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) by linear interpolation between histogram buckets.
func (m *RequestMetrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyHistogram[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyHistogram[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters, restarting the uptime window. Useful in tests.
func (m *RequestMetrics) Reset() {
	m.Requests.Store(0)
	m.Errors.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyHistogram[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}
