// Package poolstats exports [pgxpool.Stat] values as Prometheus metrics.
package poolstats

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	_ prometheus.Collector = (*Collector)(nil)
	_ stat                 = (*pgxpool.Stat)(nil)
)

// Stat is the interface implemented by pgxpool.Stat.
type stat interface {
	AcquireCount() int64
	AcquireDuration() time.Duration
	AcquiredConns() int32
	CanceledAcquireCount() int64
	ConstructingConns() int32
	EmptyAcquireCount() int64
	IdleConns() int32
	MaxConns() int32
	TotalConns() int32
	NewConnsCount() int64
	MaxLifetimeDestroyCount() int64
	MaxIdleDestroyCount() int64
}

type staterFunc func() stat

// Stater is a provider of the Stat() function. Implemented by
// [*pgxpool.Pool] and the postgres datastore.
type Stater interface {
	Stat() *pgxpool.Stat
}

type poolMetric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(stat) float64
}

// Collector is a prometheus.Collector that collects the statistics produced
// by pgxpool.Stat.
type Collector struct {
	name    string
	stat    staterFunc
	metrics []poolMetric
}

// NewCollector creates a new Collector to collect stats from pgxpool. The
// "appname" is used as the "application_name" label, to tell pools apart.
func NewCollector(stater Stater, appname string) *Collector {
	fn := func() stat { return stater.Stat() }
	return newCollector(fn, appname)
}

var staticLabels = []string{"application_name"}

func newCollector(fn staterFunc, n string) *Collector {
	m := func(name, help string, kind prometheus.ValueType, v func(stat) float64) poolMetric {
		return poolMetric{
			desc:  prometheus.NewDesc(name, help, staticLabels, nil),
			kind:  kind,
			value: v,
		}
	}
	return &Collector{
		name: n,
		stat: fn,
		metrics: []poolMetric{
			m("pgxpool_acquire_count",
				"Cumulative count of successful acquires from the pool.",
				prometheus.CounterValue, func(s stat) float64 { return float64(s.AcquireCount()) }),
			m("pgxpool_acquire_duration_seconds_total",
				"Total duration of all successful acquires from the pool.",
				prometheus.CounterValue, func(s stat) float64 { return s.AcquireDuration().Seconds() }),
			m("pgxpool_acquired_conns",
				"Number of currently acquired connections in the pool.",
				prometheus.GaugeValue, func(s stat) float64 { return float64(s.AcquiredConns()) }),
			m("pgxpool_canceled_acquire_count",
				"Cumulative count of acquires from the pool that were canceled by a context.",
				prometheus.CounterValue, func(s stat) float64 { return float64(s.CanceledAcquireCount()) }),
			m("pgxpool_constructing_conns",
				"Number of conns with construction in progress in the pool.",
				prometheus.GaugeValue, func(s stat) float64 { return float64(s.ConstructingConns()) }),
			m("pgxpool_empty_acquire",
				"Cumulative count of successful acquires from the pool that waited for a resource to be released or constructed because the pool was empty.",
				prometheus.CounterValue, func(s stat) float64 { return float64(s.EmptyAcquireCount()) }),
			m("pgxpool_idle_conns",
				"Number of currently idle conns in the pool.",
				prometheus.GaugeValue, func(s stat) float64 { return float64(s.IdleConns()) }),
			m("pgxpool_max_conns",
				"Maximum size of the pool.",
				prometheus.GaugeValue, func(s stat) float64 { return float64(s.MaxConns()) }),
			m("pgxpool_total_conns",
				"Total number of resources currently in the pool. The value is the sum of ConstructingConns, AcquiredConns, and IdleConns.",
				prometheus.GaugeValue, func(s stat) float64 { return float64(s.TotalConns()) }),
			m("pgxpool_new_conns_count",
				"Cumulative count of new connections opened.",
				prometheus.CounterValue, func(s stat) float64 { return float64(s.NewConnsCount()) }),
			m("pgxpool_max_lifetime_destroy_count",
				"Cumulative count of connections destroyed because they exceeded MaxConnLifetime.",
				prometheus.CounterValue, func(s stat) float64 { return float64(s.MaxLifetimeDestroyCount()) }),
			m("pgxpool_max_idle_destroy_count",
				"Cumulative count of connections destroyed because they exceeded MaxConnIdleTime.",
				prometheus.CounterValue, func(s stat) float64 { return float64(s.MaxIdleDestroyCount()) }),
		},
	}
}

// Describe implements the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stat()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(s), c.name)
	}
}
