package metrics

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRecordRequest_TotalsAndByMethod(t *testing.T) {
	r := New()
	r.RecordRequest("pricefeed", true, 5)
	r.RecordRequest("pricefeed", false, 20)

	raw, err := r.Snapshot(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	var snap snapshotJSON
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Total != 2 || snap.Success != 1 || snap.Errors != 1 {
		t.Errorf("unexpected totals: %+v", snap)
	}
	if snap.ByMethod["pricefeed"] != 2 {
		t.Errorf("expected 2 pricefeed requests, got %v", snap.ByMethod)
	}
}

func TestRecordRequest_AverageLatency(t *testing.T) {
	r := New()
	r.RecordRequest("pricefeed", true, 10)
	r.RecordRequest("pricefeed", true, 30)

	if got := r.averageLatencyMs(); got != 20 {
		t.Errorf("expected average 20ms, got %v", got)
	}
}

func TestHistogramBuckets_CumulativeSemantics(t *testing.T) {
	r := New()
	r.RecordRequest("pricefeed", true, 60) // falls in (50,100]

	buckets := r.histogramBuckets()
	if buckets["le_10"] != 0 {
		t.Errorf("expected le_10 bucket untouched by a 60ms sample, got %d", buckets["le_10"])
	}
	if buckets["le_100"] != 1 {
		t.Errorf("expected le_100 bucket incremented, got %d", buckets["le_100"])
	}
	if buckets["le_5000"] != 1 {
		t.Errorf("expected le_5000 bucket incremented (cumulative), got %d", buckets["le_5000"])
	}
	if buckets["le_inf"] != 1 {
		t.Errorf("expected le_inf bucket always incremented, got %d", buckets["le_inf"])
	}
}

func TestCacheCounters(t *testing.T) {
	r := New()
	r.RecordCacheHit()
	r.RecordCacheHit()
	r.RecordCacheMiss()

	raw, _ := r.Snapshot(time.Now())
	var snap snapshotJSON
	json.Unmarshal(raw, &snap)
	if snap.Cache.Hits != 2 || snap.Cache.Misses != 1 {
		t.Errorf("unexpected cache snapshot: %+v", snap.Cache)
	}
}

func TestSignatureCounters(t *testing.T) {
	r := New()
	r.RecordSignatureGenerated()
	r.RecordSignatureVerified(true)
	r.RecordSignatureVerified(false)

	raw, _ := r.Snapshot(time.Now())
	var snap snapshotJSON
	json.Unmarshal(raw, &snap)
	if snap.Signatures.Generated != 1 || snap.Signatures.VerifiedOK != 1 || snap.Signatures.VerifyFail != 1 {
		t.Errorf("unexpected signatures snapshot: %+v", snap.Signatures)
	}
}

func TestText_ContainsFixedNames(t *testing.T) {
	r := New()
	r.RecordRequest("pricefeed", true, 5)
	text := r.Text()

	for _, want := range []string{
		"ens_compute_requests_total",
		"ens_compute_requests_success_total",
		"ens_compute_requests_errors_total",
		"ens_compute_latency_seconds",
		"ens_compute_cache_hits_total",
		"ens_compute_cache_misses_total",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected text exposition to contain %q", want)
		}
	}
}

func TestSnapshot_UptimeAndTimestamp(t *testing.T) {
	r := New()
	now := r.startedAt.Add(5 * time.Second)
	raw, err := r.Snapshot(now)
	if err != nil {
		t.Fatal(err)
	}
	var snap snapshotJSON
	json.Unmarshal(raw, &snap)
	if snap.UptimeSeconds < 4.9 || snap.UptimeSeconds > 5.1 {
		t.Errorf("expected ~5s uptime, got %v", snap.UptimeSeconds)
	}
	if snap.Timestamp != now.Unix() {
		t.Errorf("expected timestamp %d, got %d", now.Unix(), snap.Timestamp)
	}
}
