package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Registry aggregates gateway counters. It is scrape-friendly rather than a
// full metrics pipeline: JSON for humans, Prometheus text for collectors.
type Registry struct {
	mu               sync.RWMutex
	endpoint         map[string]*EndpointStat
	provider         map[string]int64
	providerErrors   map[string]int64
	errorKind        map[string]int64
	rateLimitDenials int64
	streamFrames     int64
	gauges           map[string]float64
	Histograms       *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt      string                  `json:"generated_at"`
	Endpoints        map[string]EndpointStat `json:"endpoints"`
	ProviderRequests map[string]int64        `json:"provider_requests"`
	ProviderErrors   map[string]int64        `json:"provider_errors"`
	ErrorKinds       map[string]int64        `json:"error_kinds"`
	RateLimitDenials int64                   `json:"rate_limit_denials_total"`
	StreamFrames     int64                   `json:"stream_frames_total"`
	Gauges           map[string]float64      `json:"gauges"`
	Histograms       []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:       map[string]*EndpointStat{},
		provider:       map[string]int64{},
		providerErrors: map[string]int64{},
		errorKind:      map[string]int64{},
		gauges:         map[string]float64{},
		Histograms:     NewHistogramRegistry(),
	}
}

func (r *Registry) ObserveLatency(endpoint string, d time.Duration) {
	r.Histograms.ObserveDuration(endpoint, d)
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

func (r *Registry) IncProvider(provider string) {
	if provider == "" {
		return
	}
	r.mu.Lock()
	r.provider[provider]++
	r.mu.Unlock()
}

func (r *Registry) IncProviderError(provider string) {
	if provider == "" {
		return
	}
	r.mu.Lock()
	r.providerErrors[provider]++
	r.mu.Unlock()
}

func (r *Registry) IncErrorKind(kind string) {
	if kind == "" {
		return
	}
	r.mu.Lock()
	r.errorKind[kind]++
	r.mu.Unlock()
}

func (r *Registry) IncRateLimitDenial() {
	r.mu.Lock()
	r.rateLimitDenials++
	r.mu.Unlock()
}

func (r *Registry) AddStreamFrames(n int64) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.streamFrames += n
	r.mu.Unlock()
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:      time.Now().UTC().Format(time.RFC3339),
		Endpoints:        make(map[string]EndpointStat, len(r.endpoint)),
		ProviderRequests: make(map[string]int64, len(r.provider)),
		ProviderErrors:   make(map[string]int64, len(r.providerErrors)),
		ErrorKinds:       make(map[string]int64, len(r.errorKind)),
		RateLimitDenials: r.rateLimitDenials,
		StreamFrames:     r.streamFrames,
		Gauges:           make(map[string]float64, len(r.gauges)),
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.provider {
		out.ProviderRequests[k] = v
	}
	for k, v := range r.providerErrors {
		out.ProviderErrors[k] = v
	}
	for k, v := range r.errorKind {
		out.ErrorKinds[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &writerBuilder{}
		b.section("gateway_endpoint_count", "counter", "total requests by endpoint")
		for _, ep := range SortedKeys(snap.Endpoints) {
			b.line("gateway_endpoint_count{endpoint=%q} %d", ep, snap.Endpoints[ep].Count)
		}
		b.section("gateway_endpoint_error_count", "counter", "total endpoint errors")
		for _, ep := range SortedKeys(snap.Endpoints) {
			b.line("gateway_endpoint_error_count{endpoint=%q} %d", ep, snap.Endpoints[ep].ErrorCount)
		}
		b.section("gateway_endpoint_avg_millis", "gauge", "endpoint average latency in milliseconds")
		for _, ep := range SortedKeys(snap.Endpoints) {
			b.line("gateway_endpoint_avg_millis{endpoint=%q} %.3f", ep, snap.Endpoints[ep].AverageMillis)
		}
		b.section("gateway_provider_requests_total", "counter", "upstream requests by provider")
		for _, p := range SortedKeys(snap.ProviderRequests) {
			b.line("gateway_provider_requests_total{provider=%q} %d", p, snap.ProviderRequests[p])
		}
		b.section("gateway_provider_errors_total", "counter", "upstream failures by provider")
		for _, p := range SortedKeys(snap.ProviderErrors) {
			b.line("gateway_provider_errors_total{provider=%q} %d", p, snap.ProviderErrors[p])
		}
		b.section("gateway_error_kind_total", "counter", "responses by error kind")
		for _, k := range SortedKeys(snap.ErrorKinds) {
			b.line("gateway_error_kind_total{kind=%q} %d", k, snap.ErrorKinds[k])
		}
		b.section("gateway_rate_limit_denials_total", "counter", "requests denied by the rate limiter")
		b.line("gateway_rate_limit_denials_total %d", snap.RateLimitDenials)
		b.section("gateway_stream_frames_total", "counter", "streaming frames forwarded to clients")
		b.line("gateway_stream_frames_total %d", snap.StreamFrames)
		b.section("gateway_gauge", "gauge", "operational gauge metrics")
		for _, name := range SortedKeys(snap.Gauges) {
			b.line("gateway_gauge{name=%q} %.3f", name, snap.Gauges[name])
		}
		for _, h := range snap.Histograms {
			b.section("gateway_latency_seconds", "histogram", "latency histogram")
			for _, bucket := range h.Buckets {
				b.line("gateway_latency_seconds_bucket{endpoint=%q,le=\"%.3f\"} %d", h.Name, bucket.Le, bucket.Count)
			}
			b.line("gateway_latency_seconds_bucket{endpoint=%q,le=\"+Inf\"} %d", h.Name, h.Count)
			b.line("gateway_latency_seconds_sum{endpoint=%q} %.6f", h.Name, h.Sum)
			b.line("gateway_latency_seconds_count{endpoint=%q} %d", h.Name, h.Count)
			b.line("gateway_latency_p95_seconds{endpoint=%q} %.6f", h.Name, h.P95)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

type writerBuilder struct {
	sb   []byte
	seen map[string]bool
}

func (b *writerBuilder) section(name, kind, help string) {
	if b.seen == nil {
		b.seen = map[string]bool{}
	}
	if b.seen[name] {
		return
	}
	b.seen[name] = true
	b.sb = append(b.sb, fmt.Sprintf("# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)...)
}

func (b *writerBuilder) line(format string, args ...any) {
	b.sb = append(b.sb, fmt.Sprintf(format+"\n", args...)...)
}

func (b *writerBuilder) String() string {
	return string(b.sb)
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
