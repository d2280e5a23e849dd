package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// label is one name="value" pair. Order of labels is preserved in the output.
type label struct {
	name  string
	value string
}

func labels(pairs ...string) []label {
	out := make([]label, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, label{name: pairs[i], value: pairs[i+1]})
	}
	return out
}

func renderLabels(ls []label, extra ...label) string {
	parts := make([]string, 0, len(ls)+len(extra))
	for _, l := range append(append([]label(nil), ls...), extra...) {
		parts = append(parts, fmt.Sprintf("%s=\"%s\"", l.name, escape(l.value)))
	}
	return strings.Join(parts, ",")
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram() *histogram {
	return &histogram{buckets: defaultBuckets, counts: make([]uint64, len(defaultBuckets))}
}

// observe stores cumulative bucket counts; values above the last bound only
// show up in +Inf, which is count.
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

type family struct {
	help       string
	kind       string
	labels     map[string][]label
	counters   map[string]uint64
	histograms map[string]*histogram
}

// registry holds every metric family exposed by Handler.
type registry struct {
	mu       sync.Mutex
	families map[string]*family
}

func newRegistry() *registry {
	return &registry{families: make(map[string]*family)}
}

var defaultRegistry = newRegistry()

func (r *registry) family(name, help, kind string) *family {
	f := r.families[name]
	if f == nil {
		f = &family{
			help:       help,
			kind:       kind,
			labels:     make(map[string][]label),
			counters:   make(map[string]uint64),
			histograms: make(map[string]*histogram),
		}
		r.families[name] = f
	}
	return f
}

func (r *registry) inc(name, help string, ls []label) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.family(name, help, "counter")
	key := renderLabels(ls)
	f.labels[key] = ls
	f.counters[key]++
}

func (r *registry) observe(name, help string, ls []label, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.family(name, help, "histogram")
	key := renderLabels(ls)
	f.labels[key] = ls
	h := f.histograms[key]
	if h == nil {
		h = newHistogram()
		f.histograms[key] = h
	}
	h.observe(value)
}

func (r *registry) counterValue(name string, ls []label) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.families[name]
	if f == nil {
		return 0
	}
	return f.counters[renderLabels(ls)]
}

// render writes all families in Prometheus text exposition format, sorted by
// family name and label set.
func (r *registry) render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.Grow(2048)
	for _, name := range names {
		f := r.families[name]
		keys := make([]string, 0, len(f.labels))
		for key := range f.labels {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n", name, f.help, name, f.kind)
		for _, key := range keys {
			if f.kind == "counter" {
				fmt.Fprintf(&b, "%s{%s} %d\n", name, key, f.counters[key])
				continue
			}
			h := f.histograms[key]
			ls := f.labels[key]
			for idx, bound := range h.buckets {
				fmt.Fprintf(&b, "%s_bucket{%s} %d\n", name, renderLabels(ls, label{"le", formatFloat(bound)}), h.counts[idx])
			}
			fmt.Fprintf(&b, "%s_bucket{%s} %d\n", name, renderLabels(ls, label{"le", "+Inf"}), h.count)
			fmt.Fprintf(&b, "%s_sum{%s} %s\n", name, key, formatFloat(h.sum))
			fmt.Fprintf(&b, "%s_count{%s} %d\n", name, key, h.count)
		}
	}
	return b.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
