package metric

import "github.com/prometheus/client_golang/prometheus"

// KeyspaceSource reports the live key count; implemented by the store.
type KeyspaceSource interface {
	Len() int
}

// keyspaceCollector samples the keyspace size at scrape time instead of
// tracking it on every mutation.
type keyspaceCollector struct {
	src  KeyspaceSource
	desc *prometheus.Desc
}

// RegisterKeyspace attaches a scrape-time key count collector.
func (r *Registry) RegisterKeyspace(src KeyspaceSource) {
	r.reg.MustRegister(&keyspaceCollector{
		src: src,
		desc: prometheus.NewDesc(
			"rivulet_keys",
			"Live keys in the store.",
			nil, nil,
		),
	})
}

func (c *keyspaceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *keyspaceCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(c.src.Len()))
}
