// Package expvarom exposes a small set of counters, backed by Prometheus
// client metrics instead of the standard library's expvar, so the values
// that call sites throughout this tree track (command counts, response
// codes, TLS usage, parse errors) show up on a standard /metrics endpoint.
package expvarom

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler serves the Prometheus text exposition format for every
// counter registered via NewInt/NewMap.
var MetricsHandler = promhttp.Handler().ServeHTTP

// Int is a single named counter.
type Int struct {
	c prometheus.Counter

	mu   sync.Mutex
	last int64
}

// NewInt registers and returns a new counter named name, described by help.
// The name is sanitized into a valid Prometheus metric name (slashes and
// dots become underscores); the original name is kept as a "path" label so
// the "pkg/metric"-style names call sites use remain visible.
func NewInt(name, help string) *Int {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        sanitize(name),
		Help:        help,
		ConstLabels: prometheus.Labels{"path": name},
	})
	prometheus.MustRegister(c)
	return &Int{c: c}
}

// Set overwrites the counter's value. Prometheus counters are monotonic;
// Set is implemented as an Add of the positive difference since the last
// call to Set, and is a no-op if v has not increased.
func (i *Int) Set(v int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if v <= i.last {
		return
	}
	i.c.Add(float64(v - i.last))
	i.last = v
}

// Add increments the counter by delta.
func (i *Int) Add(delta int64) {
	i.c.Add(float64(delta))
}

// Map is a named counter broken down by a single label.
type Map struct {
	v *prometheus.CounterVec
}

// NewMap registers and returns a new counter vector named name, with a
// single label labelName distinguishing its children.
func NewMap(name, labelName, help string) *Map {
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        sanitize(name),
		Help:        help,
		ConstLabels: prometheus.Labels{"path": name},
	}, []string{labelName})
	prometheus.MustRegister(v)
	return &Map{v: v}
}

// Add increments the counter for the given key by delta.
func (m *Map) Add(key string, delta int64) {
	m.v.WithLabelValues(key).Add(float64(delta))
}

func sanitize(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c == '/' || c == '-' || c == '.' {
			b[i] = '_'
		}
	}
	return string(b)
}
