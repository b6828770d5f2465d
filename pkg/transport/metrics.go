package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by the transports.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Requests             *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	PendingRequests      *prometheus.GaugeVec
	Subscriptions        prometheus.Gauge
	Reconnects           prometheus.Counter
	ConnectionState      prometheus.Gauge
	NotificationsDropped prometheus.Counter

	methods map[string]struct{}
}

// OtherMethod is the method label of requests whose method was not passed to NewMetrics.
const OtherMethod = "other"

// NewMetrics registers the transport collectors with registry, or with the default
// registerer when registry is nil. Requests are labelled with their method only when
// it is one of methods; anything else is counted under OtherMethod.
func NewMetrics(registry prometheus.Registerer, methods ...string) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	known := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		known[m] = struct{}{}
	}

	return &Metrics{
		methods: known,
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rpccore_requests_total",
			Help: "JSON-RPC requests by transport, method and outcome",
		}, []string{"transport", "method", "outcome"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rpccore_request_duration_seconds",
			Help:    "Round trip time of JSON-RPC requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"transport", "method"}),
		PendingRequests: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpccore_pending_requests",
			Help: "Requests waiting for a reply",
		}, []string{"transport"}),
		Subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rpccore_ws_subscriptions",
			Help: "Tracked socket subscriptions",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "rpccore_ws_reconnects_total",
			Help: "Reconnect attempts scheduled by the socket supervisor",
		}),
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rpccore_ws_connection_state",
			Help: "Current socket state (see transport.State)",
		}),
		NotificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rpccore_ws_notifications_dropped_total",
			Help: "Notifications dropped because the consumer was too slow",
		}),
	}
}

const (
	outcomeOK       = "ok"
	outcomeRPCError = "rpc_error"
	outcomeFailed   = "failed"
)

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case isRPCError(err):
		return outcomeRPCError
	default:
		return outcomeFailed
	}
}

func (m *Metrics) observe(transport, method string, seconds float64, err error) {
	if m == nil {
		return
	}
	if _, ok := m.methods[method]; !ok {
		method = OtherMethod
	}
	m.Requests.WithLabelValues(transport, method, outcomeOf(err)).Inc()
	m.RequestDuration.WithLabelValues(transport, method).Observe(seconds)
}

func (m *Metrics) pending(transport string, delta float64) {
	if m == nil {
		return
	}
	m.PendingRequests.WithLabelValues(transport).Add(delta)
}

func (m *Metrics) setSubscriptions(n int) {
	if m == nil {
		return
	}
	m.Subscriptions.Set(float64(n))
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(s))
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.NotificationsDropped.Inc()
}
