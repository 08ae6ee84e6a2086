package aioring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// LatencyBuckets are the histogram boundaries, spread from 1us up to 10s.
var LatencyBuckets = []time.Duration{
	time.Microsecond,
	10 * time.Microsecond,
	100 * time.Microsecond,
	time.Millisecond,
	10 * time.Millisecond,
	100 * time.Millisecond,
	time.Second,
	10 * time.Second,
}

// Metrics accumulates atomic counters and a latency histogram across a
// System's submission/admission/completion path.
type Metrics struct {
	contextsCreated  atomic.Uint64
	submissions      atomic.Uint64
	cancellations    atomic.Uint64
	completions      atomic.Uint64
	reapBatches      atomic.Uint64
	reapedRecords    atomic.Uint64
	errors           atomic.Uint64

	mu        sync.Mutex
	buckets   []atomic.Uint64
	startedAt time.Time
}

// NewMetrics creates a ready-to-use Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		buckets:   make([]atomic.Uint64, len(LatencyBuckets)+1),
		startedAt: time.Now(),
	}
}

// RecordContextCreated increments the context-creation counter.
func (m *Metrics) RecordContextCreated() { m.contextsCreated.Add(1) }

// RecordSubmissions increments the submission counter by n.
func (m *Metrics) RecordSubmissions(n int) {
	if n > 0 {
		m.submissions.Add(uint64(n))
	}
}

// RecordCancellation increments the cancellation counter.
func (m *Metrics) RecordCancellation() { m.cancellations.Add(1) }

// RecordCompletion records one completed request's latency.
func (m *Metrics) RecordCompletion(latency time.Duration) {
	m.completions.Add(1)
	m.recordLatency(latency)
}

// RecordReap increments the reap-batch and reaped-record counters.
func (m *Metrics) RecordReap(n int) {
	m.reapBatches.Add(1)
	if n > 0 {
		m.reapedRecords.Add(uint64(n))
	}
}

// RecordError increments the error counter.
func (m *Metrics) RecordError() { m.errors.Add(1) }

func (m *Metrics) recordLatency(d time.Duration) {
	for i, b := range LatencyBuckets {
		if d <= b {
			m.buckets[i].Add(1)
			return
		}
	}
	m.buckets[len(m.buckets)-1].Add(1)
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to read
// without races.
type MetricsSnapshot struct {
	ContextsCreated uint64
	Submissions     uint64
	Cancellations   uint64
	Completions     uint64
	ReapBatches     uint64
	ReapedRecords   uint64
	Errors          uint64
	UptimeSeconds   float64
	P50Latency      time.Duration
	P99Latency      time.Duration
}

// Snapshot computes a consistent point-in-time view, including percentile
// interpolation across the latency histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make([]uint64, len(m.buckets))
	var total uint64
	for i := range m.buckets {
		counts[i] = m.buckets[i].Load()
		total += counts[i]
	}

	return MetricsSnapshot{
		ContextsCreated: m.contextsCreated.Load(),
		Submissions:     m.submissions.Load(),
		Cancellations:   m.cancellations.Load(),
		Completions:     m.completions.Load(),
		ReapBatches:     m.reapBatches.Load(),
		ReapedRecords:   m.reapedRecords.Load(),
		Errors:          m.errors.Load(),
		UptimeSeconds:   time.Since(m.startedAt).Seconds(),
		P50Latency:      calculatePercentile(counts, total, 0.50),
		P99Latency:      calculatePercentile(counts, total, 0.99),
	}
}

func calculatePercentile(counts []uint64, total uint64, p float64) time.Duration {
	if total == 0 {
		return 0
	}
	target := float64(total) * p
	var cumulative uint64
	for i, c := range counts {
		prev := cumulative
		cumulative += c
		if c > 0 && float64(cumulative) >= target {
			if i < len(LatencyBuckets) {
				var lower time.Duration
				if i > 0 {
					lower = LatencyBuckets[i-1]
				}
				frac := (target - float64(prev)) / float64(c)
				return lower + time.Duration(frac*float64(LatencyBuckets[i]-lower))
			}
			return LatencyBuckets[len(LatencyBuckets)-1]
		}
	}
	return LatencyBuckets[len(LatencyBuckets)-1]
}

// Observer is a pluggable sink for per-event callbacks, mirroring the
// teacher's Observer interface.
type Observer interface {
	OnSubmit(opcode Opcode, n int)
	OnComplete(opcode Opcode, latency time.Duration, err error)
	OnCancel(opcode Opcode)
}

// NoOpObserver discards every event; it is the default when Config.Observer
// is nil.
type NoOpObserver struct{}

func (NoOpObserver) OnSubmit(Opcode, int)                       {}
func (NoOpObserver) OnComplete(Opcode, time.Duration, error)     {}
func (NoOpObserver) OnCancel(Opcode)                             {}

var _ Observer = NoOpObserver{}

// sortedBucketBoundaries returns a sorted copy of LatencyBuckets, a
// debugging aid for checking that the histogram boundaries are monotonic;
// nothing in this package calls it.
func sortedBucketBoundaries() []time.Duration {
	out := make([]time.Duration, len(LatencyBuckets))
	copy(out, LatencyBuckets)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
