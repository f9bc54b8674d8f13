package metrics

import (
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpbind"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStatser returns the occupation of the address pools.
type PoolStatser interface {
	// Stats returns the occupation of every pool.
	Stats() (stats []*dhcpbind.PoolStats)
}

// PoolCollector is a [prometheus.Collector] reporting the size and the usage of
// the address pools at the time of collection.
type PoolCollector struct {
	src  PoolStatser
	size *prometheus.Desc
	used *prometheus.Desc
}

// NewPoolCollector returns a new properly initialized *PoolCollector.  src
// must not be nil.
func NewPoolCollector(src PoolStatser) (c *PoolCollector) {
	labels := []string{labelLink, labelPool}

	return &PoolCollector{
		src: src,
		size: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystemPool, "size"),
			"The number of addresses or prefixes in the pool.",
			labels,
			nil,
		),
		used: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystemPool, "used"),
			"The number of bindings in the pool, including offers and declined addresses.",
			labels,
			nil,
		),
	}
}

// type check
var _ prometheus.Collector = (*PoolCollector)(nil)

// Describe implements the [prometheus.Collector] interface for *PoolCollector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.used
}

// Collect implements the [prometheus.Collector] interface for *PoolCollector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.src.Stats() {
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size), s.Link, s.Pool)
		ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, float64(s.Used), s.Link, s.Pool)
	}
}
