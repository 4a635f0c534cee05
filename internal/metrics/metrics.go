package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type kind string

const (
	kindCounter   kind = "counter"
	kindHistogram kind = "histogram"
)

type family struct {
	help    string
	kind    kind
	buckets []float64
	series  map[string]*series
}

// series holds one label combination. Counters only use value; histograms
// keep per-bucket (non-cumulative) counts plus an overflow slot.
type series struct {
	labels map[string]string
	value  uint64
	sum    float64
	counts []uint64
}

// Registry is a minimal Prometheus text-format registry. Unknown metric names
// are silently ignored so call sites never fail on instrumentation.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*family
}

func NewRegistry() *Registry {
	r := &Registry{families: make(map[string]*family)}
	r.registerDefaults()
	return r
}

var (
	stageBuckets = []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 300000, 900000, 1800000, 3600000, 7200000}
	jobBuckets   = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	s3Buckets    = []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 600000}
)

func (r *Registry) registerDefaults() {
	r.RegisterCounter("meetrec_sessions_started_total", "Recording sessions accepted, by upload mode.")
	r.RegisterCounter("meetrec_sessions_finished_total", "Recording sessions that reached a terminal status, by status.")
	r.RegisterCounter("meetrec_stage_total", "Capture stage runs by stage and outcome.")
	r.RegisterHistogram("meetrec_stage_latency_ms", "Capture stage latency in milliseconds by stage and outcome.", stageBuckets)
	r.RegisterCounter("meetrec_lost_updates_total", "Pipeline writes dropped because the session no longer exists.")
	r.RegisterCounter("meetrec_job_runs_total", "Background job runs by job and status.")
	r.RegisterHistogram("meetrec_job_duration_ms", "Background job duration in milliseconds by job.", jobBuckets)
	r.RegisterCounter("meetrec_s3_retries_total", "S3 retries by operation and error code.")
	r.RegisterCounter("meetrec_s3_retry_exhausted_total", "S3 operations that ran out of retry attempts, by operation.")
	r.RegisterCounter("meetrec_s3_operations_total", "S3 operations by operation and status.")
	r.RegisterHistogram("meetrec_s3_operation_latency_ms", "S3 operation latency in milliseconds by operation and status.", s3Buckets)
}

func (r *Registry) RegisterCounter(name, help string) {
	r.register(name, &family{help: help, kind: kindCounter})
}

func (r *Registry) RegisterHistogram(name, help string, buckets []float64) {
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	r.register(name, &family{help: help, kind: kindHistogram, buckets: sorted})
}

func (r *Registry) register(name string, f *family) {
	f.series = make(map[string]*series)
	r.mu.Lock()
	r.families[name] = f
	r.mu.Unlock()
}

// lookup returns the series for labels, creating it on first use. Callers
// hold the write lock.
func (r *Registry) lookup(name string, want kind, labels map[string]string) (*family, *series) {
	f := r.families[name]
	if f == nil || f.kind != want {
		return nil, nil
	}
	key := labelsKey(labels)
	s := f.series[key]
	if s == nil {
		s = &series{labels: copyLabels(labels)}
		if want == kindHistogram {
			s.counts = make([]uint64, len(f.buckets)+1)
		}
		f.series[key] = s
	}
	return f, s
}

func (r *Registry) IncCounter(name string, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, s := r.lookup(name, kindCounter, labels); s != nil {
		s.value++
	}
}

func (r *Registry) ObserveHistogram(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, s := r.lookup(name, kindHistogram, labels)
	if s == nil {
		return
	}
	idx := sort.SearchFloat64s(f.buckets, value)
	s.counts[idx]++
	s.value++
	s.sum += value
}

// CounterValue reports the current value of one counter series.
func (r *Registry) CounterValue(name string, labels map[string]string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f := r.families[name]
	if f == nil || f.kind != kindCounter {
		return 0
	}
	if s := f.series[labelsKey(labels)]; s != nil {
		return s.value
	}
	return 0
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}

func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		f := r.families[name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n", name, f.help, name, f.kind)

		keys := make([]string, 0, len(f.series))
		for key := range f.series {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			s := f.series[key]
			if f.kind == kindCounter {
				writeSample(&b, name, s.labels, strconv.FormatUint(s.value, 10))
				continue
			}
			var running uint64
			for i, c := range s.counts {
				running += c
				le := "+Inf"
				if i < len(f.buckets) {
					le = formatFloat(f.buckets[i])
				}
				bucketLabels := copyLabels(s.labels)
				bucketLabels["le"] = le
				writeSample(&b, name+"_bucket", bucketLabels, strconv.FormatUint(running, 10))
			}
			writeSample(&b, name+"_sum", s.labels, formatFloat(s.sum))
			writeSample(&b, name+"_count", s.labels, strconv.FormatUint(s.value, 10))
		}
	}
	return b.String()
}

func writeSample(b *strings.Builder, name string, labels map[string]string, value string) {
	b.WriteString(name)
	if len(labels) > 0 {
		keys := sortedKeys(labels)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = k + "=" + strconv.Quote(labels[k])
		}
		b.WriteString("{" + strings.Join(pairs, ",") + "}")
	}
	b.WriteString(" " + value + "\n")
}

func labelsKey(labels map[string]string) string {
	keys := sortedKeys(labels)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return strings.Join(parts, ";")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var (
	defaultMu       sync.Mutex
	defaultRegistry = NewRegistry()
)

func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultRegistry
}

func ResetDefaultForTest() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = NewRegistry()
}
