package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messaging_ws_active_connections",
		Help: "Currently open websocket connections",
	})
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messaging_messages_sent_total",
		Help: "Messages persisted through the send endpoint",
	})
	DispatchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messaging_dispatch_failures_total",
		Help: "Push deliveries dropped due to dead or slow connections",
	})
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "messaging_request_duration_seconds",
		Help:    "REST request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ActiveConnections, MessagesSent, DispatchFailures, RequestDuration)
	})
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
