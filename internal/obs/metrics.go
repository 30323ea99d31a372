package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_commands_total",
			Help: "Total number of dispatched commands.",
		},
		[]string{"command", "outcome"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_command_duration_seconds",
			Help:    "Command handling latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	fanoutDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fanout_dropped_events_total",
		Help: "Events dropped because a subscriber channel was full.",
	})

	bridgeDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_dropped_notifications_total",
		Help: "Bridge notifications dropped because the queue was full.",
	})

	bridgeQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_queue_depth",
		Help: "Notifications waiting in the bridge queue.",
	})
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(commandsTotal, commandDuration, fanoutDropped, bridgeDropped, bridgeQueueDepth)
}

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCommand records one terminal command outcome.
func ObserveCommand(command, outcome string, d time.Duration) {
	commandsTotal.WithLabelValues(command, outcome).Inc()
	commandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// FanoutDrop counts an event dropped on a slow subscriber.
func FanoutDrop() { fanoutDropped.Inc() }

// BridgeDrop counts a notification dropped on a full bridge queue.
func BridgeDrop() { bridgeDropped.Inc() }

// BridgeQueue reports the current bridge queue depth.
func BridgeQueue(n int) { bridgeQueueDepth.Set(float64(n)) }
