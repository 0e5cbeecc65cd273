// Package metrics is a small Prometheus-text metrics registry. It covers
// the counters and histograms the engine emits without pulling in a client
// library; the rendered output is scrape-compatible.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are latency buckets in seconds.
var DefaultBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Counter is a monotonically increasing counter.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge is a value that can go up and down.
type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.v.Store(n) }
func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// Histogram tracks a distribution over fixed buckets.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
			break
		}
	}
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

// Registry holds named metrics. Label pairs are baked into the metric name
// as name{k="v"}, one series per label combination.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	order      []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// Counter returns (or creates) the named counter.
func (r *Registry) Counter(name string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{}
	r.counters[name] = c
	r.order = append(r.order, name)
	return c
}

// Gauge returns (or creates) the named gauge.
func (r *Registry) Gauge(name string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{}
	r.gauges[name] = g
	r.order = append(r.order, name)
	return g
}

// Histogram returns (or creates) the named histogram.
func (r *Registry) Histogram(name string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	b := make([]float64, len(buckets))
	copy(b, buckets)
	sort.Float64s(b)
	h := &Histogram{buckets: b, counts: make([]uint64, len(b))}
	r.histograms[name] = h
	r.order = append(r.order, name)
	return h
}

// WithLabels appends label pairs to a metric name: WithLabels("x","k","v")
// yields `x{k="v"}`.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i := 0; i < len(kvs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", kvs[i], kvs[i+1])
	}
	b.WriteByte('}')
	return b.String()
}

// Render emits all metrics in the Prometheus text exposition format.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, name := range r.order {
		if c, ok := r.counters[name]; ok {
			fmt.Fprintf(&b, "%s %d\n", name, c.Value())
		}
		if g, ok := r.gauges[name]; ok {
			fmt.Fprintf(&b, "%s %d\n", name, g.Value())
		}
		if h, ok := r.histograms[name]; ok {
			h.mu.Lock()
			base, labels := splitLabels(name)
			cumulative := uint64(0)
			for i, bk := range h.buckets {
				cumulative += h.counts[i]
				fmt.Fprintf(&b, "%s_bucket{le=\"%g\"%s} %d\n", base, bk, labels, cumulative)
			}
			fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"%s} %d\n", base, labels, h.count)
			fmt.Fprintf(&b, "%s_sum%s %g\n", base, wrapLabels(labels), h.sum)
			fmt.Fprintf(&b, "%s_count%s %d\n", base, wrapLabels(labels), h.count)
			h.mu.Unlock()
		}
	}
	return b.String()
}

// splitLabels returns the base name and the label part as `,k="v"` for
// injection next to the le label.
func splitLabels(name string) (string, string) {
	idx := strings.IndexByte(name, '{')
	if idx == -1 {
		return name, ""
	}
	inner := name[idx+1 : len(name)-1]
	if inner == "" {
		return name[:idx], ""
	}
	return name[:idx], "," + inner
}

func wrapLabels(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels[1:] + "}"
}

// Handler serves the registry at an HTTP endpoint.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}
