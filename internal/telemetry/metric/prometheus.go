// Package metric provides Prometheus metrics for rivulet.
//
// It exposes command throughput, connection counts and replication
// progress for scraping on the /metrics endpoint.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	// Command metrics
	CommandsTotal   *prometheus.CounterVec
	CommandErrors   prometheus.Counter
	TransactionsRun prometheus.Counter

	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	BlockedClients    prometheus.Gauge

	// Replication metrics
	ConnectedReplicas prometheus.Gauge
	MasterOffset      prometheus.Gauge
	ReplicasDropped   prometheus.Counter

	// Storage metrics
	KeysExpired  prometheus.Counter
	SnapshotSize prometheus.Gauge
}

// NewRegistry creates a registry with all metrics registered on a
// dedicated Prometheus registry, plus the standard Go runtime and
// process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		reg: reg,
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rivulet",
			Name:      "commands_total",
			Help:      "Commands dispatched, by command name.",
		}, []string{"command"}),
		CommandErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rivulet",
			Name:      "command_errors_total",
			Help:      "Commands that returned an error reply.",
		}),
		TransactionsRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rivulet",
			Name:      "transactions_total",
			Help:      "Transactions executed via EXEC.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rivulet",
			Name:      "connections_active",
			Help:      "Currently open client connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rivulet",
			Name:      "connections_total",
			Help:      "Client connections accepted since start.",
		}),
		BlockedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rivulet",
			Name:      "blocked_clients",
			Help:      "Clients parked on a blocking command.",
		}),
		ConnectedReplicas: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rivulet",
			Name:      "connected_replicas",
			Help:      "Replicas currently attached to this master.",
		}),
		MasterOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rivulet",
			Name:      "master_repl_offset_bytes",
			Help:      "Bytes of command stream produced for replicas.",
		}),
		ReplicasDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rivulet",
			Name:      "replicas_dropped_total",
			Help:      "Replicas deregistered because their stream stalled.",
		}),
		KeysExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rivulet",
			Name:      "keys_expired_total",
			Help:      "Keys removed by the expiry sweeper.",
		}),
		SnapshotSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rivulet",
			Name:      "snapshot_size_bytes",
			Help:      "Size of the most recent snapshot blob.",
		}),
	}

	reg.MustRegister(
		r.CommandsTotal,
		r.CommandErrors,
		r.TransactionsRun,
		r.ConnectionsActive,
		r.ConnectionsTotal,
		r.BlockedClients,
		r.ConnectedReplicas,
		r.MasterOffset,
		r.ReplicasDropped,
		r.KeysExpired,
		r.SnapshotSize,
	)
	return r
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
