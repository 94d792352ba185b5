// Package metrics exposes the daemon's operator-visible Prometheus gauges
// and counters: outbox depth, per-worker heartbeat state, and hash-chain
// verification outcomes. It is ambient observability carried from the
// teacher's pkg/metrics pattern (a package-level Registry plus promhttp
// handler), scoped down to the signals this daemon actually needs — no
// metrics product surface, per spec §1's Non-goals.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this daemon registers.
var Registry = prometheus.NewRegistry()

var (
	OutboxDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ledgerd",
			Subsystem: "outbox",
			Name:      "depth",
			Help:      "Number of outbox events currently in a non-terminal status.",
		},
		[]string{"status"},
	)

	HeartbeatState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ledgerd",
			Subsystem: "daemon",
			Name:      "worker_state",
			Help:      "Current worker state, one-hot by state label (1 = current state).",
		},
		[]string{"worker", "state"},
	)

	ChainVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerd",
			Subsystem: "store",
			Name:      "chain_verify_total",
			Help:      "Hash-chain verification passes, grouped by outcome (ok|break).",
		},
		[]string{"outcome"},
	)

	StoreBusyRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerd",
			Subsystem: "store",
			Name:      "busy_retries_total",
			Help:      "Busy-wait retries on append_entry, grouped by eventual outcome (ok|exhausted).",
		},
		[]string{"outcome"},
	)

	WorkerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerd",
			Subsystem: "daemon",
			Name:      "worker_restarts_total",
			Help:      "Worker restarts performed by the supervisor, grouped by worker.",
		},
		[]string{"worker"},
	)
)

func init() {
	Registry.MustRegister(
		OutboxDepth,
		HeartbeatState,
		ChainVerifications,
		StoreBusyRetries,
		WorkerRestarts,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics, for the
// operator-facing /metrics route.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetHeartbeatState records worker as currently in state, clearing any
// other one-hot state label previously set for that worker.
func SetHeartbeatState(worker string, states []string, current string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1.0
		}
		HeartbeatState.WithLabelValues(worker, s).Set(v)
	}
}
