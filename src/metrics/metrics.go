package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stock_stream"

// Metrics groups the service's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Admissions         *prometheus.CounterVec
	ActiveStreams      prometheus.Gauge
	UpstreamFailures   *prometheus.CounterVec
	Frames             *prometheus.CounterVec
	AdapterTransitions *prometheus.CounterVec
	PollRequests       *prometheus.CounterVec
	RecordedTrades     *prometheus.CounterVec
}

// -----------------------------------------------------------------------------

// NewRegistry returns a registry preloaded with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// -----------------------------------------------------------------------------

func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Stream admission decisions by result (admitted or reject reason).",
		}, []string{"result"}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Number of open SSE streams.",
		}),
		UpstreamFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Failures recorded against connection keys, by kind.",
		}, []string{"kind"}),
		Frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "SSE frames written, by frame type.",
		}, []string{"type"}),
		AdapterTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_transitions_total",
			Help:      "Feed adapter state transitions, by target state.",
		}, []string{"state"}),
		PollRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_requests_total",
			Help:      "REST quote polls, by outcome.",
		}, []string{"outcome"}),
		RecordedTrades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorded_trades_total",
			Help:      "Trades handed to the recorder, by outcome (stored, dropped, failed).",
		}, []string{"outcome"}),
	}
}

// -----------------------------------------------------------------------------

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveAdmission(result string) {
	if m == nil {
		return
	}
	m.Admissions.WithLabelValues(result).Inc()
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

func (m *Metrics) ObserveFailure(kind string) {
	if m == nil {
		return
	}
	m.UpstreamFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveFrame(frameType string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(frameType).Inc()
}

func (m *Metrics) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.AdapterTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) ObservePoll(outcome string) {
	if m == nil {
		return
	}
	m.PollRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRecorded(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordedTrades.WithLabelValues(outcome).Add(float64(n))
}
