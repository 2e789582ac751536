package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	registerOnce sync.Once

	wireFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "wire",
			Name:      "frames_total",
			Help:      "Frames encoded or decoded.",
		},
		[]string{"direction"},
	)
	wireBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "wire",
			Name:      "bytes_total",
			Help:      "Raw stream bytes read or written.",
		},
		[]string{"direction"},
	)
	wireDesync = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "wire",
			Name:      "desync_total",
			Help:      "Connections closed on a malformed frame.",
		},
	)
	dispatchEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Server-pushed events dispatched, by resolved name.",
		},
		[]string{"event"},
	)
	dispatchOrphaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "dispatch",
			Name:      "replies_orphaned_total",
			Help:      "Replies received with no pending callback.",
		},
	)
	dispatchPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "relayctl",
			Subsystem: "dispatch",
			Name:      "pending_replies",
			Help:      "Requests awaiting a positional reply across connections.",
		},
	)
	dispatchSubscriptions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relayctl",
			Subsystem: "dispatch",
			Name:      "subscriptions_total",
			Help:      "Subscribe control requests sent.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			wireFrames,
			wireBytes,
			wireDesync,
			dispatchEvents,
			dispatchOrphaned,
			dispatchPending,
			dispatchSubscriptions,
		)
	})
}

// Handler serves the default registry for /metrics.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordFrame(direction string) {
	RegisterMetrics()
	wireFrames.WithLabelValues(direction).Inc()
}

func RecordBytes(direction string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	wireBytes.WithLabelValues(direction).Add(float64(n))
}

func RecordDesync() {
	RegisterMetrics()
	wireDesync.Inc()
}

func RecordEvent(name string) {
	RegisterMetrics()
	dispatchEvents.WithLabelValues(name).Inc()
}

func RecordOrphanedReply() {
	RegisterMetrics()
	dispatchOrphaned.Inc()
}

// AddPending moves the pending-reply gauge by delta.
func AddPending(delta int) {
	RegisterMetrics()
	dispatchPending.Add(float64(delta))
}

func RecordSubscription() {
	RegisterMetrics()
	dispatchSubscriptions.Inc()
}
