package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// BotMetrics tracks inbound chat events handled by the dispatcher.
type BotMetrics struct {
	events *prometheus.CounterVec
	errors *prometheus.CounterVec
	panics prometheus.Counter
}

func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	if reg == nil {
		return &BotMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "waterbot_bot_events_total",
		Help: "Inbound chat events by kind.",
	}, []string{"kind"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "waterbot_bot_handler_errors_total",
		Help: "Handler failures by error code.",
	}, []string{"code"})
	panics := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "waterbot_bot_handler_panics_total",
		Help: "Handlers that panicked and were recovered.",
	})
	reg.MustRegister(events, errs, panics)
	return &BotMetrics{events: events, errors: errs, panics: panics}
}

func (m *BotMetrics) IncEvent(kind string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *BotMetrics) IncError(code string) {
	if m == nil || m.errors == nil {
		return
	}
	m.errors.WithLabelValues(strings.ToLower(normalizeLabel(code))).Inc()
}

func (m *BotMetrics) IncPanic() {
	if m == nil || m.panics == nil {
		return
	}
	m.panics.Inc()
}
