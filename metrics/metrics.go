// Copyright 2025 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package metrics provides named counters, gauges and timers backed by a
// Prometheus registry. Metric names use slash separated paths ("rpc/duration/all")
// which are mapped to Prometheus names on registration.
//
// Collection is disabled by default; meters created while disabled are valid
// but discard updates until Enable is called.
package metrics

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var enabled atomic.Bool

// Enable turns on metrics collection for the whole process.
func Enable() { enabled.Store(true) }

// Enabled reports whether metrics collection is switched on.
func Enabled() bool { return enabled.Load() }

// Registry holds named meters. It wraps a Prometheus registry and remembers
// the meters by their slash separated name so lookups can be repeated.
type Registry struct {
	prom *prometheus.Registry

	mu     sync.Mutex
	meters map[string]prometheus.Collector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		prom:   prometheus.NewRegistry(),
		meters: make(map[string]prometheus.Collector),
	}
}

// DefaultRegistry is used by the NewRegistered* helpers when no registry is given.
var DefaultRegistry = NewRegistry()

// Gatherer exposes the registry to Prometheus HTTP handlers.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.prom }

// getOrRegister returns the collector stored under name, creating and
// registering it through create if absent.
func (r *Registry) getOrRegister(name string, create func(promName string) prometheus.Collector) prometheus.Collector {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.meters[name]; ok {
		return c
	}
	c := create(promName(name))
	if err := r.prom.Register(c); err != nil {
		// Two distinct paths may sanitize to the same Prometheus name.
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			c = are.ExistingCollector
		}
	}
	r.meters[name] = c
	return c
}

// Each calls fn for every meter name in the registry.
func (r *Registry) Each(fn func(name string)) {
	r.mu.Lock()
	names := make([]string, 0, len(r.meters))
	for name := range r.meters {
		names = append(names, name)
	}
	r.mu.Unlock()
	for _, name := range names {
		fn(name)
	}
}

func orDefault(r *Registry) *Registry {
	if r == nil {
		return DefaultRegistry
	}
	return r
}

// promName maps "rpc/duration/Calculator/Add(int,int)" style names onto the
// Prometheus character set.
func promName(name string) string {
	var b strings.Builder
	for i, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == ':':
			b.WriteRune(c)
		case c >= '0' && c <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// Counter is a monotonically increasing count.
type Counter struct{ c prometheus.Counter }

// NewRegisteredCounter returns the counter with the given name, registering it if needed.
func NewRegisteredCounter(name string, r *Registry) *Counter {
	c := orDefault(r).getOrRegister(name, func(pn string) prometheus.Collector {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: pn, Help: name})
	})
	return &Counter{c.(prometheus.Counter)}
}

// Inc adds n to the counter.
func (c *Counter) Inc(n int64) {
	if Enabled() && n > 0 {
		c.c.Add(float64(n))
	}
}

// Gauge holds a value that can go up and down.
type Gauge struct{ g prometheus.Gauge }

// NewRegisteredGauge returns the gauge with the given name, registering it if needed.
func NewRegisteredGauge(name string, r *Registry) *Gauge {
	g := orDefault(r).getOrRegister(name, func(pn string) prometheus.Collector {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: pn, Help: name})
	})
	return &Gauge{g.(prometheus.Gauge)}
}

func (g *Gauge) Inc(n int64) {
	if Enabled() {
		g.g.Add(float64(n))
	}
}

func (g *Gauge) Dec(n int64) {
	if Enabled() {
		g.g.Sub(float64(n))
	}
}

func (g *Gauge) Update(v int64) {
	if Enabled() {
		g.g.Set(float64(v))
	}
}

// Timer records durations into a histogram with second buckets.
type Timer struct{ h prometheus.Histogram }

// NewRegisteredTimer returns the timer with the given name, registering it if needed.
func NewRegisteredTimer(name string, r *Registry) *Timer {
	return GetOrRegisterTimer(name, r)
}

// GetOrRegisterTimer is NewRegisteredTimer for names built at runtime.
func GetOrRegisterTimer(name string, r *Registry) *Timer {
	h := orDefault(r).getOrRegister(name, func(pn string) prometheus.Collector {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    pn,
			Help:    name,
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		})
	})
	return &Timer{h.(prometheus.Histogram)}
}

// Update records a single duration.
func (t *Timer) Update(d time.Duration) {
	if Enabled() {
		t.h.Observe(d.Seconds())
	}
}

// UpdateSince records the time elapsed since start.
func (t *Timer) UpdateSince(start time.Time) {
	t.Update(time.Since(start))
}
