package dbconn

import (
	"github.com/prometheus/client_golang/prometheus"
)

// poolMetrics is a prometheus.Collector that samples a ConnectionPool's
// size/utilisation/hit-rate gauges on every scrape rather than pushing
// updates from the pool's hot path, matching the pull model
// prometheus/client_golang expects.
type poolMetrics struct {
	pool *ConnectionPool

	size       *prometheus.Desc
	free       *prometheus.Desc
	checkedOut *prometheus.Desc
	hitRate    *prometheus.Desc
}

// NewCollector builds a prometheus.Collector exposing cp's pool-level
// gauges under the dbconn_pool_* metric names, labelled by pool name.
func NewCollector(cp *ConnectionPool) prometheus.Collector {
	labels := []string{"pool"}
	return &poolMetrics{
		pool:       cp,
		size:       prometheus.NewDesc("dbconn_pool_size", "Total sessions held by the pool (free + checked out).", labels, nil),
		free:       prometheus.NewDesc("dbconn_pool_free", "Idle sessions currently available for check-out.", labels, nil),
		checkedOut: prometheus.NewDesc("dbconn_pool_checked_out", "Sessions currently checked out.", labels, nil),
		hitRate:    prometheus.NewDesc("dbconn_pool_hit_rate", "Fraction of check-outs satisfied from the free list since the last SetParameters call.", labels, nil),
	}
}

func (m *poolMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.size
	ch <- m.free
	ch <- m.checkedOut
	ch <- m.hitRate
}

func (m *poolMetrics) Collect(ch chan<- prometheus.Metric) {
	size, free, checkedOut, hitRate := m.pool.Stats()
	name := m.pool.Name()
	ch <- prometheus.MustNewConstMetric(m.size, prometheus.GaugeValue, float64(size), name)
	ch <- prometheus.MustNewConstMetric(m.free, prometheus.GaugeValue, float64(free), name)
	ch <- prometheus.MustNewConstMetric(m.checkedOut, prometheus.GaugeValue, float64(checkedOut), name)
	ch <- prometheus.MustNewConstMetric(m.hitRate, prometheus.GaugeValue, hitRate, name)
}
