// Package metrics собирает Prometheus-метрики синхронизации.
// Все методы безопасны для nil *Metrics: метрики необязательны.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iudanet/causaltree/internal/weave"
)

const namespace = "causaltree"

// Metrics набор метрик сервера
type Metrics struct {
	atoms          *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	mergeDuration  *prometheus.HistogramVec
	requests       *prometheus.CounterVec
	activeSessions prometheus.Gauge
	loadedChannels prometheus.Gauge
}

// New регистрирует метрики в reg. Для изоляции тестов передавайте prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// atoms считает входящие атомы по исходу слияния.
		// Labels: channel_type, outcome (applied, duplicate, deferred, rejected)
		atoms: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "weave",
			Name:      "atoms_total",
			Help:      "Atoms received from peers by merge outcome",
		}, []string{"channel_type", "outcome"}),

		// decisions считает решения авторизатора.
		// Labels: gate (load, access, event), result (allowed, denied, error)
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "decisions_total",
			Help:      "Authorization decisions by gate",
		}, []string{"gate", "result"}),

		mergeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "weave",
			Name:      "merge_duration_seconds",
			Help:      "Time spent merging a batch of atoms into a channel",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"channel_type"}),

		// requests считает HTTP-запросы.
		// Labels: method, status
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "status"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Replication sessions currently streaming",
		}),

		loadedChannels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "loaded",
			Help:      "Channels held in memory",
		}),
	}
}

// ObserveMerge учитывает результат слияния пакета атомов
func (m *Metrics) ObserveMerge(channelType string, res *weave.MergeResult, took time.Duration) {
	if m == nil || res == nil {
		return
	}
	for _, r := range res.Results {
		m.atoms.WithLabelValues(channelType, r.Outcome.String()).Inc()
	}
	m.mergeDuration.WithLabelValues(channelType).Observe(took.Seconds())
}

// ObserveDecision учитывает решение авторизатора. denied отличает отказ от ошибки проверки.
func (m *Metrics) ObserveDecision(gate string, err error, denied error) {
	if m == nil {
		return
	}
	result := "allowed"
	switch {
	case err == nil:
	case errors.Is(err, denied):
		result = "denied"
	default:
		result = "error"
	}
	m.decisions.WithLabelValues(gate, result).Inc()
}

// ObserveRequest учитывает HTTP-запрос
func (m *Metrics) ObserveRequest(method string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, statusClass(status)).Inc()
}

// SessionStarted увеличивает число активных сессий
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionEnded уменьшает число активных сессий
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// ChannelLoaded увеличивает число каналов в памяти
func (m *Metrics) ChannelLoaded() {
	if m == nil {
		return
	}
	m.loadedChannels.Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
