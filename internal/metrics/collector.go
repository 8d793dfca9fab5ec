// Package metrics registers the Prometheus collectors of the support desk and
// serves them in the Prometheus exposition format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "supportdesk"

// Metrics owns a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	startTime time.Time

	messagesSent   prometheus.Counter
	messagesDeliv  prometheus.Counter
	sendsIgnored   *prometheus.CounterVec
	typingChanges  *prometheus.CounterVec
	openViews      prometheus.Gauge
	wsClients      prometheus.Gauge
	loginAttempts  *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	clientRequests *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_sent_total",
			Help: "Staff messages appended to a timeline.",
		}),
		messagesDeliv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_delivered_total",
			Help: "Staff messages that reached the delivered status.",
		}),
		sendsIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sends_ignored_total",
			Help: "Staff sends dropped without effect, by reason.",
		}, []string{"reason"}),
		typingChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "typing_changes_total",
			Help: "Typing indicator updates, by party.",
		}, []string{"party"}),
		openViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_views",
			Help: "Conversation views currently open.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "websocket_clients",
			Help: "Connected websocket clients.",
		}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "login_attempts_total",
			Help: "Login attempts, by result.",
		}, []string{"result"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"route", "code"}),
		clientRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "client_requests_total",
			Help: "Outgoing REST client requests, by method and outcome.",
		}, []string{"method", "outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "uptime_seconds",
			Help: "Time since start in seconds.",
		}, func() float64 { return m.Uptime().Seconds() }),
		m.messagesSent, m.messagesDeliv, m.sendsIgnored, m.typingChanges,
		m.openViews, m.wsClients, m.loginAttempts, m.httpLatency, m.clientRequests,
	)
	return m
}

// Uptime returns how long the collector has been running.
func (m *Metrics) Uptime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime)
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.messagesSent.Inc()
	}
}

func (m *Metrics) MessageDelivered() {
	if m != nil {
		m.messagesDeliv.Inc()
	}
}

func (m *Metrics) SendIgnored(reason string) {
	if m != nil {
		m.sendsIgnored.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) TypingChanged(party string) {
	if m != nil {
		m.typingChanges.WithLabelValues(party).Inc()
	}
}

func (m *Metrics) ViewOpened() {
	if m != nil {
		m.openViews.Inc()
	}
}

func (m *Metrics) ViewClosed() {
	if m != nil {
		m.openViews.Dec()
	}
}

func (m *Metrics) WSConnected() {
	if m != nil {
		m.wsClients.Inc()
	}
}

func (m *Metrics) WSDisconnected() {
	if m != nil {
		m.wsClients.Dec()
	}
}

func (m *Metrics) LoginAttempt(result string) {
	if m != nil {
		m.loginAttempts.WithLabelValues(result).Inc()
	}
}

// ObserveHTTP records the latency of one handled request.
func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m != nil {
		m.httpLatency.WithLabelValues(route, statusClass(code)).Observe(d.Seconds())
	}
}

func (m *Metrics) ClientRequest(method, outcome string) {
	if m != nil {
		m.clientRequests.WithLabelValues(method, outcome).Inc()
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
