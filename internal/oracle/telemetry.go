package oracle

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Telemetry counts oracle traffic and tracks call latencies within a
// rolling window.
type Telemetry struct {
	Calls      atomic.Int64
	Failures   atomic.Int64
	Retries    atomic.Int64
	CacheHits  atomic.Int64
	Truncated  atomic.Int64
	Degraded   atomic.Int64

	latency latencyWindow
}

func NewTelemetry(window time.Duration) *Telemetry {
	t := &Telemetry{}
	t.latency.maxAge = window
	if t.latency.maxAge <= 0 {
		t.latency.maxAge = time.Hour
	}
	return t
}

// RecordLatency adds one call duration sample.
func (t *Telemetry) RecordLatency(d time.Duration) {
	t.latency.record(d.Milliseconds())
}

// TelemetrySnapshot is a point-in-time aggregate.
type TelemetrySnapshot struct {
	Calls     int64 `json:"oracle_calls"`
	Failures  int64 `json:"oracle_failures"`
	Retries   int64 `json:"retries"`
	CacheHits int64 `json:"cache_hits"`
	Truncated int64 `json:"truncated"`
	Degraded  int64 `json:"degraded"`

	LatencyCount int     `json:"latency_count"`
	MinMs        int64   `json:"min_ms"`
	MaxMs        int64   `json:"max_ms"`
	AvgMs        float64 `json:"avg_ms"`
	P50Ms        float64 `json:"p50_ms"`
	P95Ms        float64 `json:"p95_ms"`
	P99Ms        float64 `json:"p99_ms"`
}

func (t *Telemetry) Snapshot() TelemetrySnapshot {
	snap := TelemetrySnapshot{
		Calls:     t.Calls.Load(),
		Failures:  t.Failures.Load(),
		Retries:   t.Retries.Load(),
		CacheHits: t.CacheHits.Load(),
		Truncated: t.Truncated.Load(),
		Degraded:  t.Degraded.Load(),
	}
	t.latency.fill(&snap)
	return snap
}

type latencySample struct {
	timestamp  time.Time
	durationMs int64
}

type latencyWindow struct {
	mu      sync.Mutex
	samples []latencySample
	maxAge  time.Duration
}

func (w *latencyWindow) record(durationMs int64) {
	if durationMs < 0 {
		durationMs = 0
	}
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	w.samples = append(w.samples, latencySample{timestamp: now, durationMs: durationMs})
}

func (w *latencyWindow) fill(snap *TelemetrySnapshot) {
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	if len(w.samples) == 0 {
		return
	}

	values := make([]int64, 0, len(w.samples))
	var sum int64
	for _, s := range w.samples {
		values = append(values, s.durationMs)
		sum += s.durationMs
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	snap.LatencyCount = len(values)
	snap.MinMs = values[0]
	snap.MaxMs = values[len(values)-1]
	snap.AvgMs = float64(sum) / float64(len(values))
	snap.P50Ms = percentile(values, 50)
	snap.P95Ms = percentile(values, 95)
	snap.P99Ms = percentile(values, 99)
}

func (w *latencyWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.maxAge)
	writeIdx := 0
	for _, s := range w.samples {
		if !s.timestamp.Before(cutoff) {
			w.samples[writeIdx] = s
			writeIdx++
		}
	}
	w.samples = w.samples[:writeIdx]
}

func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return lo + ((hi - lo) * weight)
}
