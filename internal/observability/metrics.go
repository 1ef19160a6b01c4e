package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersReceived  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "offers_received_total", Help: "Ride offers delivered to the agent"})
	OffersDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_agent", Name: "offers_discarded_total", Help: "Offers discarded before acceptance"},
		[]string{"reason"},
	)
	RidesAccepted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "rides_accepted_total", Help: "Rides accepted by this driver"})
	RidesRejected  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "rides_rejected_total", Help: "Rides rejected by this driver"})
	RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "rides_completed_total", Help: "Rides completed"})
	RidesCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "rides_cancelled_total", Help: "Rides cancelled externally"})

	TimerPolls      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "timer_polls_total", Help: "Working-hours status polls"})
	TimerWarnings   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "timer_warnings_total", Help: "Working-hours warnings received"})
	TimerExtensions = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "timer_extensions_total", Help: "Working-hours extensions purchased"})

	SnapshotWrites = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "snapshot_writes_total", Help: "Ride snapshots persisted"})
	DriverOnline   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "driver_agent", Name: "online", Help: "1 while the driver is online"})

	ControlRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_agent", Name: "control_requests_total", Help: "Local control API requests"},
		[]string{"method", "route", "status"},
	)
)
