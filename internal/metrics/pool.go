package metrics

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolStat is the subset of *pgxpool.Stat the collector reads.
type poolStat interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
	MaxConns() int32
	AcquireCount() int64
	EmptyAcquireCount() int64
	CanceledAcquireCount() int64
	AcquireDuration() time.Duration
}

type poolMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(poolStat) float64
}

type poolCollector struct {
	stat    func() poolStat
	metrics []poolMetric
}

// RegisterPoolMetrics exports pgxpool statistics, read on every scrape.
// Orders and catalog edits both hold a connection for a whole transaction,
// so empty acquires are the first sign the pool is undersized.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) {
	reg.MustRegister(newPoolCollector(func() poolStat { return pool.Stat() }))
}

func newPoolCollector(stat func() poolStat) *poolCollector {
	gauge := func(name, help string, value func(poolStat) float64) poolMetric {
		return poolMetric{prometheus.NewDesc(name, help, nil, nil), prometheus.GaugeValue, value}
	}
	counter := func(name, help string, value func(poolStat) float64) poolMetric {
		return poolMetric{prometheus.NewDesc(name, help, nil, nil), prometheus.CounterValue, value}
	}
	return &poolCollector{
		stat: stat,
		metrics: []poolMetric{
			gauge("orderz_db_pool_acquired", "Database connections currently acquired.",
				func(s poolStat) float64 { return float64(s.AcquiredConns()) }),
			gauge("orderz_db_pool_idle", "Idle database connections in the pool.",
				func(s poolStat) float64 { return float64(s.IdleConns()) }),
			gauge("orderz_db_pool_total", "Database connections in the pool.",
				func(s poolStat) float64 { return float64(s.TotalConns()) }),
			gauge("orderz_db_pool_max", "Maximum database connections the pool may open.",
				func(s poolStat) float64 { return float64(s.MaxConns()) }),
			counter("orderz_db_pool_acquires_total", "Successful connection acquires.",
				func(s poolStat) float64 { return float64(s.AcquireCount()) }),
			counter("orderz_db_pool_empty_acquires_total", "Acquires that waited because the pool was empty.",
				func(s poolStat) float64 { return float64(s.EmptyAcquireCount()) }),
			counter("orderz_db_pool_canceled_acquires_total", "Acquires abandoned because the context ended.",
				func(s poolStat) float64 { return float64(s.CanceledAcquireCount()) }),
			counter("orderz_db_pool_acquire_seconds_total", "Time spent waiting for connections.",
				func(s poolStat) float64 { return s.AcquireDuration().Seconds() }),
		},
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.stat()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, m.value(stat))
	}
}
