package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	ReservationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_reservations_total",
			Help: "Total number of reservations by status",
		},
		[]string{"status"},
	)

	ComputersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corral_computers_total",
			Help: "Total number of non-removed computers",
		},
	)

	// Reservation service metrics
	ReservationsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_reservations_created_total",
			Help: "Total number of admitted reservations",
		},
	)

	ReservationsDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_reservations_denied_total",
			Help: "Total number of denied reservation requests by reason",
		},
		[]string{"reason"},
	)

	ReservationsExtended = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_reservations_extended_total",
			Help: "Total number of reservation extensions",
		},
	)

	ReservationsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_reservations_cancelled_total",
			Help: "Total number of cancelled reservations",
		},
	)

	// Reconciler metrics
	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corral_reconciliation_duration_seconds",
			Help:    "Reconciliation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainersStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_containers_started_total",
			Help: "Total number of containers started for reservations",
		},
	)

	ContainersStartFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_containers_start_failed_total",
			Help: "Total number of container launch failures",
		},
	)

	ContainersStopped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_containers_stopped_total",
			Help: "Total number of containers stopped at reservation end",
		},
	)

	ContainersRestarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_containers_restarted_total",
			Help: "Total number of container restarts (crashed or requested)",
		},
	)

	OrphansRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_orphan_containers_removed_total",
			Help: "Total number of orphan containers swept",
		},
	)

	// Port allocator metrics
	PortsAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_ports_allocated_total",
			Help: "Total number of host ports allocated for containers",
		},
	)

	PortAllocationRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_port_allocation_retries_total",
			Help: "Total number of port probe retries during allocation",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ReservationsTotal)
	prometheus.MustRegister(ComputersTotal)
	prometheus.MustRegister(ReservationsCreated)
	prometheus.MustRegister(ReservationsDenied)
	prometheus.MustRegister(ReservationsExtended)
	prometheus.MustRegister(ReservationsCancelled)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ContainersStarted)
	prometheus.MustRegister(ContainersStartFailed)
	prometheus.MustRegister(ContainersStopped)
	prometheus.MustRegister(ContainersRestarted)
	prometheus.MustRegister(OrphansRemoved)
	prometheus.MustRegister(PortsAllocated)
	prometheus.MustRegister(PortAllocationRetries)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
