package telemetry

import "github.com/prometheus/client_golang/prometheus"

const livelookNamespace string = "livelook"

var (
	promRoomsTotal          prometheus.Gauge
	promParticipantsTotal   prometheus.Gauge
	promSessionTotal        prometheus.Gauge
	ServiceOperationCounter *prometheus.CounterVec
	RelayedMessagesCounter  *prometheus.CounterVec
	RTPPacketsCounter       *prometheus.CounterVec
)

func init() {
	promRoomsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "room",
		Name:      "total",
	})

	promParticipantsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "participant",
		Name:      "total",
	})

	promSessionTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "session",
		Name:      "total",
	})

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   livelookNamespace,
			Subsystem:   "node",
			Name:        "service_operation",
			ConstLabels: prometheus.Labels{"node_id": "1"},
		},
		[]string{"type", "status", "error_type"},
	)

	RelayedMessagesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: livelookNamespace,
			Subsystem: "relay",
			Name:      "messages",
		},
		[]string{"method", "status"},
	)

	RTPPacketsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: livelookNamespace,
			Subsystem: "peer",
			Name:      "rtp_packets_received",
		},
		[]string{"kind"},
	)

	prometheus.MustRegister(promRoomsTotal)
	prometheus.MustRegister(promParticipantsTotal)
	prometheus.MustRegister(promSessionTotal)
	prometheus.MustRegister(ServiceOperationCounter)
	prometheus.MustRegister(RelayedMessagesCounter)
	prometheus.MustRegister(RTPPacketsCounter)
}

// RoomsChanged publishes the current registry size
func RoomsChanged(rooms, participants int) {
	promRoomsTotal.Set(float64(rooms))
	promParticipantsTotal.Set(float64(participants))
}

func SessionStarted() {
	promSessionTotal.Inc()
}

func SessionStopped() {
	promSessionTotal.Dec()
}

func MessageRelayed(method string) {
	RelayedMessagesCounter.WithLabelValues(method, "relayed").Inc()
}

func MessageDropped(method string) {
	RelayedMessagesCounter.WithLabelValues(method, "dropped").Inc()
}
