// Package metrics is the process-wide counter set the pipeline updates at
// entry and exit of every request. Counters are backed by
// prometheus.Counter/Histogram so a single writer discipline and
// consistent snapshots fall out of the library's own atomics, the same
// pattern onflow-flow-go's module/metrics collectors use; client_model is
// used to read the histogram's cumulative bucket counts back out for the
// gateway's own fixed-name text and JSON expositions, neither of which
// matches promhttp's default grammar closely enough to reuse verbatim.
package metrics

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// bucketBoundsMs are the fixed latency histogram bucket bounds in
// milliseconds.
var bucketBoundsMs = []float64{10, 50, 100, 500, 1000, 5000}

// Recorder is the process-wide counter set. Create one with New and share
// it across every request handler; it is safe for concurrent use.
type Recorder struct {
	requestsTotal        prometheus.Counter
	requestsSuccessTotal prometheus.Counter
	requestsErrorsTotal  prometheus.Counter
	cacheHitsTotal       prometheus.Counter
	cacheMissesTotal     prometheus.Counter
	signaturesGenerated  prometheus.Counter
	signaturesVerifiedOK prometheus.Counter
	signaturesVerifyFail prometheus.Counter
	latencyHistogram     prometheus.Histogram

	mu          sync.Mutex
	latencySumMs float64
	latencyCount uint64
	byMethod     map[string]uint64

	startedAt time.Time
}

// New constructs a Recorder with fresh, zeroed counters.
func New() *Recorder {
	return &Recorder{
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ens_compute_requests_total",
			Help: "Total lookup requests handled by the pipeline.",
		}),
		requestsSuccessTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ens_compute_requests_success_total",
			Help: "Lookup requests that completed successfully.",
		}),
		requestsErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ens_compute_requests_errors_total",
			Help: "Lookup requests that failed.",
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ens_compute_cache_hits_total",
			Help: "Cache hints reported as hits.",
		}),
		cacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ens_compute_cache_misses_total",
			Help: "Cache hints reported as misses.",
		}),
		signaturesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ens_compute_signatures_generated_total",
			Help: "Envelope signatures produced by the signer.",
		}),
		signaturesVerifiedOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ens_compute_signatures_verified_total",
			Help: "Signature verifications that recovered the expected signer.",
		}),
		signaturesVerifyFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ens_compute_signatures_verify_failed_total",
			Help: "Signature verifications that did not recover the expected signer.",
		}),
		latencyHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ens_compute_latency_seconds_distribution",
			Help:    "Request latency distribution, fixed buckets at 10/50/100/500/1000/5000ms.",
			Buckets: msToSeconds(bucketBoundsMs),
		}),
		byMethod:  make(map[string]uint64),
		startedAt: time.Now(),
	}
}

func msToSeconds(ms []float64) []float64 {
	out := make([]float64, len(ms))
	for i, v := range ms {
		out[i] = v / 1000
	}
	return out
}

// RecordRequest records the outcome of one lookup: total and
// success-or-error counters, the per-method breakdown, and the latency
// histogram/average.
func (r *Recorder) RecordRequest(method string, success bool, latencyMs float64) {
	r.requestsTotal.Inc()
	if success {
		r.requestsSuccessTotal.Inc()
	} else {
		r.requestsErrorsTotal.Inc()
	}
	r.latencyHistogram.Observe(latencyMs / 1000)

	r.mu.Lock()
	r.byMethod[method]++
	r.latencySumMs += latencyMs
	r.latencyCount++
	r.mu.Unlock()
}

// RecordCacheHit increments the cache-hit counter.
func (r *Recorder) RecordCacheHit() { r.cacheHitsTotal.Inc() }

// RecordCacheMiss increments the cache-miss counter.
func (r *Recorder) RecordCacheMiss() { r.cacheMissesTotal.Inc() }

// RecordSignatureGenerated increments the signatures-generated counter.
func (r *Recorder) RecordSignatureGenerated() { r.signaturesGenerated.Inc() }

// RecordSignatureVerified increments the matching verified-ok or
// verify-failed counter.
func (r *Recorder) RecordSignatureVerified(success bool) {
	if success {
		r.signaturesVerifiedOK.Inc()
		return
	}
	r.signaturesVerifyFail.Inc()
}

func (r *Recorder) averageLatencyMs() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latencyCount == 0 {
		return 0
	}
	return r.latencySumMs / float64(r.latencyCount)
}

func (r *Recorder) byMethodSnapshot() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.byMethod))
	for k, v := range r.byMethod {
		out[k] = v
	}
	return out
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// histogramBuckets reads the histogram's cumulative bucket counts back via
// client_model, keyed by the millisecond bound the JSON exposition uses
// (le_10 ... le_5000, le_inf). Each sample increments every bucket whose
// upper bound is >= the latency, and always the +inf bucket.
func (r *Recorder) histogramBuckets() map[string]uint64 {
	var m dto.Metric
	if err := r.latencyHistogram.Write(&m); err != nil {
		return map[string]uint64{}
	}
	h := m.GetHistogram()
	out := make(map[string]uint64, len(bucketBoundsMs)+1)
	for _, b := range h.GetBucket() {
		ms := b.GetUpperBound() * 1000
		out[fmt.Sprintf("le_%s", trimMs(ms))] = b.GetCumulativeCount()
	}
	out["le_inf"] = h.GetSampleCount()
	return out
}

func trimMs(ms float64) string {
	s := fmt.Sprintf("%g", ms)
	return strings.TrimSuffix(s, ".0")
}

// Text renders the fixed-name Prometheus text exposition: one
// HELP/TYPE/sample triple per metric. This deliberately does not reuse
// promhttp's default writer — the
// names and the averaged latency gauge don't match what that writer would
// emit for these same prometheus.Collector instances.
func (r *Recorder) Text() string {
	var b strings.Builder

	writeCounter := func(name, help string, value float64) {
		fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&b, "# TYPE %s counter\n", name)
		fmt.Fprintf(&b, "%s %g\n", name, value)
	}

	writeCounter("ens_compute_requests_total", "Total lookup requests handled by the pipeline.", counterValue(r.requestsTotal))
	writeCounter("ens_compute_requests_success_total", "Lookup requests that completed successfully.", counterValue(r.requestsSuccessTotal))
	writeCounter("ens_compute_requests_errors_total", "Lookup requests that failed.", counterValue(r.requestsErrorsTotal))

	fmt.Fprintf(&b, "# HELP ens_compute_latency_seconds Average request latency in seconds.\n")
	fmt.Fprintf(&b, "# TYPE ens_compute_latency_seconds gauge\n")
	fmt.Fprintf(&b, "ens_compute_latency_seconds %g\n", r.averageLatencyMs()/1000)

	writeCounter("ens_compute_cache_hits_total", "Cache hints reported as hits.", counterValue(r.cacheHitsTotal))
	writeCounter("ens_compute_cache_misses_total", "Cache hints reported as misses.", counterValue(r.cacheMissesTotal))

	return b.String()
}

// snapshotJSON is the wire shape Snapshot marshals. Field order does not
// matter for this format — unlike the canonical envelope, nothing rehashes
// this on-chain.
type snapshotJSON struct {
	Total       uint64            `json:"total"`
	Success     uint64            `json:"success"`
	Errors      uint64            `json:"errors"`
	ByMethod    map[string]uint64 `json:"by_method"`
	Signatures  signaturesJSON    `json:"signatures"`
	Cache       cacheJSON         `json:"cache"`
	Histogram   map[string]uint64 `json:"histogram"`
	AvgLatencyMs float64          `json:"avg_latency_ms"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Timestamp   int64             `json:"timestamp"`
}

type signaturesJSON struct {
	Generated  uint64 `json:"generated"`
	VerifiedOK uint64 `json:"verified_ok"`
	VerifyFail uint64 `json:"verify_failed"`
}

type cacheJSON struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// Snapshot renders the JSON exposition: per-method breakdown,
// cumulative histogram distribution, average latency, process uptime, and
// a wall-clock timestamp.
func (r *Recorder) Snapshot(now time.Time) ([]byte, error) {
	snap := snapshotJSON{
		Total:    uint64(counterValue(r.requestsTotal)),
		Success:  uint64(counterValue(r.requestsSuccessTotal)),
		Errors:   uint64(counterValue(r.requestsErrorsTotal)),
		ByMethod: r.byMethodSnapshot(),
		Signatures: signaturesJSON{
			Generated:  uint64(counterValue(r.signaturesGenerated)),
			VerifiedOK: uint64(counterValue(r.signaturesVerifiedOK)),
			VerifyFail: uint64(counterValue(r.signaturesVerifyFail)),
		},
		Cache: cacheJSON{
			Hits:   uint64(counterValue(r.cacheHitsTotal)),
			Misses: uint64(counterValue(r.cacheMissesTotal)),
		},
		Histogram:     r.histogramBuckets(),
		AvgLatencyMs:  r.averageLatencyMs(),
		UptimeSeconds: now.Sub(r.startedAt).Seconds(),
		Timestamp:     now.Unix(),
	}
	return json.Marshal(snap)
}
