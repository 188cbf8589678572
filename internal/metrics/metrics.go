// Package metrics defines Prometheus metrics for the device authorization flow,
// covering token polling, credential validation, and connect attempts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PollRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devicelink_poll_requests_total",
		Help: "Total number of token endpoint requests grouped by classified outcome",
	}, []string{"outcome"})
	PollOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devicelink_poll_operations_total",
		Help: "Total number of finished polling operations grouped by terminal outcome",
	}, []string{"outcome"})
	Validations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devicelink_validations_total",
		Help: "Total number of credential validations grouped by result",
	}, []string{"result"})
	ConnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devicelink_connect_attempts_total",
		Help: "Total number of connect actions that started a device flow",
	})
	ConnectCoalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devicelink_connect_coalesced_total",
		Help: "Total number of connect actions ignored because one was already in progress",
	})
	BridgeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devicelink_bridge_events_total",
		Help: "Total number of bridge events sent by the daemon grouped by type",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(PollRequests)
	prometheus.MustRegister(PollOperations)
	prometheus.MustRegister(Validations)
	prometheus.MustRegister(ConnectAttempts)
	prometheus.MustRegister(ConnectCoalesced)
	prometheus.MustRegister(BridgeEvents)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
