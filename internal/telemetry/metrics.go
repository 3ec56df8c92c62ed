// Package telemetry mirrors SHMPIPE's in-segment diagnostic counters into
// process-wide prometheus metrics, labelled by segment path. The atomics
// living in shared memory remain the only state either participant process
// actually reads across the process boundary; these are scrape-only.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SegmentStats is the set of loop/request counters spec.md §3 calls
// "diagnostics only". One instance is created per acquired Requester.
type SegmentStats struct {
	path string

	requests            prometheus.Counter
	sendRequestLoops     prometheus.Counter
	receiveRequestLoops  prometheus.Counter
	recvLoops            prometheus.Counter
	writeLoops           prometheus.Counter
}

var (
	registerOnce sync.Once

	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walcore",
		Subsystem: "shmpipe",
		Name:      "requests_total",
		Help:      "Completed request_response calls, by segment path.",
	}, []string{"segment"})

	sendRequestLoopsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walcore",
		Subsystem: "shmpipe",
		Name:      "send_request_loops_total",
		Help:      "Spin iterations spent publishing requests to the ring.",
	}, []string{"segment"})

	receiveRequestLoopsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walcore",
		Subsystem: "shmpipe",
		Name:      "receive_request_loops_total",
		Help:      "Spin iterations spent draining responses from the ring.",
	}, []string{"segment"})

	recvLoopsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walcore",
		Subsystem: "shmpipe",
		Name:      "recv_loops_total",
		Help:      "Spin iterations spent by the responder popping requests.",
	}, []string{"segment"})

	writeLoopsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walcore",
		Subsystem: "shmpipe",
		Name:      "write_loops_total",
		Help:      "Spin iterations spent by the responder pushing responses.",
	}, []string{"segment"})
)

// Register adds the SegmentStats collectors to reg. Safe to call multiple
// times across segments sharing one process; the underlying vectors are
// process-wide singletons keyed by the "segment" label.
func Register(reg prometheus.Registerer) error {
	var err error
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			requestsTotal, sendRequestLoopsTotal, receiveRequestLoopsTotal,
			recvLoopsTotal, writeLoopsTotal,
		} {
			if e := reg.Register(c); e != nil {
				err = e
				return
			}
		}
	})
	return err
}

// NewSegmentStats returns counters scoped to one shared-memory segment path.
func NewSegmentStats(path string) *SegmentStats {
	return &SegmentStats{
		path:                path,
		requests:            requestsTotal.WithLabelValues(path),
		sendRequestLoops:    sendRequestLoopsTotal.WithLabelValues(path),
		receiveRequestLoops: receiveRequestLoopsTotal.WithLabelValues(path),
		recvLoops:           recvLoopsTotal.WithLabelValues(path),
		writeLoops:          writeLoopsTotal.WithLabelValues(path),
	}
}

// Add folds a delta pulled off the segment's atomics into the prometheus
// counters. Deltas, never absolute values, since Counter only goes up and
// the segment's own atomics may have been reset by DumpLoops.
func (s *SegmentStats) Add(requests, sendLoops, recvReqLoops, recvLoops, writeLoops uint64) {
	s.requests.Add(float64(requests))
	s.sendRequestLoops.Add(float64(sendLoops))
	s.receiveRequestLoops.Add(float64(recvReqLoops))
	s.recvLoops.Add(float64(recvLoops))
	s.writeLoops.Add(float64(writeLoops))
}
