/*
Package metrics provides Prometheus metrics collection and health reporting
for a reservation node.

The metrics package defines and registers all node metrics using the
Prometheus client library, providing observability into reservation flow,
container lifecycle, port allocation, and reconciliation latency. Metrics are
exposed via HTTP endpoint for scraping by Prometheus servers, alongside
health, readiness, and liveness handlers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Inventory: reservations, computers         │          │
	│  │  Admission: created, denied, extended,      │          │
	│  │             cancelled                       │          │
	│  │  Containers: started, start_failed,         │          │
	│  │              stopped, restarted,            │          │
	│  │              orphans removed                │          │
	│  │  Ports: allocated, allocation retries       │          │
	│  │  Reconciler: cycle count and duration       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

All metrics carry the corral_ prefix. Gauges labeled by status or state
(corral_reservations_total, corral_computers_total) are refreshed by the
Collector, which polls the store on a fixed interval; counters and the
reconciliation histogram are incremented inline by the code paths they
measure.

# Collector

The Collector periodically reads the store and resets the inventory gauges:

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

It runs a ticker loop in its own goroutine and stops via channel close, the
same shape as the reconciler's loop.

# Health and Readiness

The package also keeps a registry of named components, each with a healthy
flag and optional message:

	metrics.RegisterComponent("store", true, "")
	metrics.UpdateComponent("docker", false, "daemon unreachable")

GetHealth reports overall status as healthy, degraded, or unhealthy based on
the registered components. GetReadiness only considers the critical
components (store, docker, reconciler): the node is ready when all three are
healthy. HealthHandler, ReadyHandler, and LivenessHandler expose these as
JSON over /health, /ready, and /live, with 503 responses when the check
fails.

# Timer

Timer is a small convenience for observing durations into histograms:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)
*/
package metrics
