package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/tiercache/cache"
)

// Adapter implements cache.Metrics and exports per-tier Prometheus
// counters and gauges. Safe for concurrent use; all Prometheus metric
// types are goroutine-safe.
type Adapter struct {
	hits       *prometheus.CounterVec
	misses     *prometheus.CounterVec
	evicts     *prometheus.CounterVec
	conditions *prometheus.CounterVec
	sizeEnt    *prometheus.GaugeVec
	sizeCost   *prometheus.GaugeVec
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
//
// Every series carries a "tier" label (strong, overflow, disk, remote).
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, append([]string{"tier"}, labels...))
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, []string{"tier"})
	}
	a := &Adapter{
		hits:       counter("hits_total", "Cache hits by tier"),
		misses:     counter("misses_total", "Cache misses by tier"),
		evicts:     counter("evictions_total", "Entries leaving a tier, by reason", "reason"),
		conditions: counter("conditions_total", "Degraded conditions observed by a tier", "condition"),
		sizeEnt:    gauge("size_entries", "Number of resident entries"),
		sizeCost:   gauge("size_cost", "Total resident cost in bytes"),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.conditions, a.sizeEnt, a.sizeCost)
	return a
}

// Hit increments the hit counter for t.
func (a *Adapter) Hit(t cache.Tier) { a.hits.WithLabelValues(t.String()).Inc() }

// Miss increments the miss counter for t.
func (a *Adapter) Miss(t cache.Tier) { a.misses.WithLabelValues(t.String()).Inc() }

// Evict increments the eviction counter with tier and reason labels.
func (a *Adapter) Evict(t cache.Tier, r cache.EvictReason) {
	a.evicts.WithLabelValues(t.String(), r.String()).Inc()
}

// Size updates gauges for the number of entries and total cost of t.
func (a *Adapter) Size(t cache.Tier, entries int, cost int64) {
	a.sizeEnt.WithLabelValues(t.String()).Set(float64(entries))
	a.sizeCost.WithLabelValues(t.String()).Set(float64(cost))
}

// Condition counts a degraded state observed by t.
func (a *Adapter) Condition(t cache.Tier, c cache.Condition) {
	a.conditions.WithLabelValues(t.String(), c.String()).Inc()
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
