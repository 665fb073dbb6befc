// Package observability carries the process-local metrics registry and
// OTel tracing setup shared by the listener, executors, and the HTTP
// surface.
package observability

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

type seriesKind int

const (
	kindCounter seriesKind = iota
	kindGauge
)

type label struct {
	key   string
	value string
}

// series is one metric name + label-set combination.
type series struct {
	kind   seriesKind
	name   string
	labels []label // sorted by key
	value  float64
}

type Registry struct {
	mu     sync.Mutex
	series map[string]*series
}

func NewRegistry() *Registry {
	return &Registry{series: make(map[string]*series)}
}

// Default is the process-wide registry. Packages record into it directly;
// the API server exposes it.
var Default = NewRegistry()

func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	if delta == 0 {
		return
	}
	r.record(kindCounter, name, labels, func(s *series) { s.value += delta })
}

func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	r.record(kindGauge, name, labels, func(s *series) { s.value = value })
}

func (r *Registry) record(kind seriesKind, name string, labels map[string]string, apply func(*series)) {
	ls := sortedLabels(labels)
	key := seriesKey(kind, name, ls)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[key]
	if !ok {
		s = &series{kind: kind, name: name, labels: ls}
		r.series[key] = s
	}
	apply(s)
}

func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.series = make(map[string]*series)
}

type MetricPoint struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

type Snapshot struct {
	Counters []MetricPoint `json:"counters"`
	Gauges   []MetricPoint `json:"gauges"`
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out Snapshot
	for _, s := range r.series {
		p := MetricPoint{Name: s.name, Labels: labelMap(s.labels), Value: s.value}
		switch s.kind {
		case kindCounter:
			out.Counters = append(out.Counters, p)
		case kindGauge:
			out.Gauges = append(out.Gauges, p)
		}
	}
	sortPoints(out.Counters)
	sortPoints(out.Gauges)
	return out
}

// RenderPrometheus emits the registry in Prometheus text exposition
// format, with a TYPE comment per metric name.
func (r *Registry) RenderPrometheus() string {
	r.mu.Lock()
	ordered := make([]*series, 0, len(r.series))
	for _, s := range r.series {
		copied := *s
		ordered = append(ordered, &copied)
	}
	r.mu.Unlock()

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].name != ordered[j].name {
			return ordered[i].name < ordered[j].name
		}
		return seriesKey(ordered[i].kind, ordered[i].name, ordered[i].labels) <
			seriesKey(ordered[j].kind, ordered[j].name, ordered[j].labels)
	})

	var b strings.Builder
	lastName := ""
	for _, s := range ordered {
		name := promName(s.name)
		if name != lastName {
			b.WriteString("# TYPE ")
			b.WriteString(name)
			if s.kind == kindCounter {
				b.WriteString(" counter\n")
			} else {
				b.WriteString(" gauge\n")
			}
			lastName = name
		}
		b.WriteString(name)
		if len(s.labels) > 0 {
			b.WriteByte('{')
			for i, l := range s.labels {
				if i > 0 {
					b.WriteByte(',')
				}
				b.WriteString(promName(l.key))
				b.WriteString("=")
				b.WriteString(strconv.Quote(l.value))
			}
			b.WriteByte('}')
		}
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(s.value, 'f', -1, 64))
		b.WriteByte('\n')
	}
	return b.String()
}

func sortedLabels(in map[string]string) []label {
	if len(in) == 0 {
		return nil
	}
	out := make([]label, 0, len(in))
	for k, v := range in {
		out = append(out, label{key: k, value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func labelMap(in []label) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for _, l := range in {
		out[l.key] = l.value
	}
	return out
}

func seriesKey(kind seriesKind, name string, labels []label) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(kind)))
	b.WriteByte('|')
	b.WriteString(name)
	for _, l := range labels {
		b.WriteByte('|')
		b.WriteString(l.key)
		b.WriteByte('=')
		b.WriteString(l.value)
	}
	return b.String()
}

func sortPoints(points []MetricPoint) {
	sort.Slice(points, func(i, j int) bool { return points[i].Name < points[j].Name })
}

// promName maps a metric or label name onto the character set Prometheus
// accepts, replacing anything else with an underscore.
func promName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "solver_metric"
	}
	out := make([]rune, 0, len(name))
	for i, r := range name {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' || (r >= '0' && r <= '9' && i > 0)
		if ok {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}
