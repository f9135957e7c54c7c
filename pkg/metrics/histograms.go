package metrics

import (
	"sync"
	"time"
)

// latencyBounds are the cumulative bucket upper bounds in seconds, chosen
// so gateway-relevant percentiles fall on useful boundaries: sub-10ms for
// local routes, multi-second for upstream chat calls.
var latencyBounds = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

// HistogramBucket is the count of observations at or below Le seconds.
type HistogramBucket struct {
	Le    float64
	Count int64
}

// Histogram accumulates request latencies per endpoint.
type Histogram struct {
	mu      sync.Mutex
	name    string
	buckets []HistogramBucket
	sum     float64
	count   int64
}

func NewHistogram(name string) *Histogram {
	buckets := make([]HistogramBucket, len(latencyBounds))
	for i, le := range latencyBounds {
		buckets[i] = HistogramBucket{Le: le}
	}
	return &Histogram{name: name, buckets: buckets}
}

func (h *Histogram) Observe(d time.Duration) {
	sec := d.Seconds()
	h.mu.Lock()
	h.sum += sec
	h.count++
	for i := range h.buckets {
		if sec <= h.buckets[i].Le {
			h.buckets[i].Count++
		}
	}
	h.mu.Unlock()
}

// Percentile estimates the p-th (0..1) latency from the bucket bounds. The
// estimate is the upper bound of the first bucket covering the rank, so it
// rounds up rather than interpolating.
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return bucketQuantile(h.buckets, h.count, p)
}

func bucketQuantile(buckets []HistogramBucket, count int64, p float64) float64 {
	rank := int64(p * float64(count))
	for _, b := range buckets {
		if b.Count >= rank {
			return b.Le
		}
	}
	if len(buckets) == 0 {
		return 0
	}
	return buckets[len(buckets)-1].Le
}

// HistogramSnapshot is a point-in-time copy for the scrape handlers.
type HistogramSnapshot struct {
	Name    string
	Buckets []HistogramBucket
	Sum     float64
	Count   int64
	P50     float64
	P95     float64
	P99     float64
}

func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	buckets := make([]HistogramBucket, len(h.buckets))
	copy(buckets, h.buckets)
	snap := HistogramSnapshot{
		Name:    h.name,
		Buckets: buckets,
		Sum:     h.sum,
		Count:   h.count,
	}
	if h.count > 0 {
		snap.P50 = bucketQuantile(buckets, h.count, 0.50)
		snap.P95 = bucketQuantile(buckets, h.count, 0.95)
		snap.P99 = bucketQuantile(buckets, h.count, 0.99)
	}
	return snap
}

// HistogramRegistry keys histograms by endpoint label.
type HistogramRegistry struct {
	mu         sync.RWMutex
	histograms map[string]*Histogram
}

func NewHistogramRegistry() *HistogramRegistry {
	return &HistogramRegistry{histograms: map[string]*Histogram{}}
}

// Get returns the named histogram, creating it on first use.
func (r *HistogramRegistry) Get(name string) *Histogram {
	r.mu.RLock()
	h, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.histograms[name]; ok {
		return h
	}
	h = NewHistogram(name)
	r.histograms[name] = h
	return h
}

func (r *HistogramRegistry) ObserveDuration(name string, d time.Duration) {
	r.Get(name).Observe(d)
}

func (r *HistogramRegistry) Snapshots() []HistogramSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HistogramSnapshot, 0, len(r.histograms))
	for _, h := range r.histograms {
		out = append(out, h.Snapshot())
	}
	return out
}
