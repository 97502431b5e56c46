package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts bottle movements and their outcomes.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	bottles    *prometheus.CounterVec
	mismatches *prometheus.CounterVec
}

func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "waterbot_ledger_operations_total",
		Help: "Ledger operations by kind and result code.",
	}, []string{"op", "result"})
	bottles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "waterbot_ledger_bottles_total",
		Help: "Bottles moved by successful ledger operations.",
	}, []string{"op"})
	mismatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "waterbot_ledger_audit_mismatches_total",
		Help: "Accounts whose stored balance disagrees with their journal.",
	}, []string{"account"})
	reg.MustRegister(operations, bottles, mismatches)
	return &LedgerMetrics{operations: operations, bottles: bottles, mismatches: mismatches}
}

// Observe records one operation. result is "ok" or a lowercased error code.
func (m *LedgerMetrics) Observe(op, result string, bottles int) {
	if m == nil || m.operations == nil {
		return
	}
	if result == "" {
		result = "ok"
	}
	m.operations.WithLabelValues(normalizeLabel(op), strings.ToLower(result)).Inc()
	if result == "ok" && bottles > 0 {
		m.bottles.WithLabelValues(normalizeLabel(op)).Add(float64(bottles))
	}
}

func (m *LedgerMetrics) IncMismatch(account string) {
	if m == nil || m.mismatches == nil {
		return
	}
	m.mismatches.WithLabelValues(normalizeLabel(account)).Inc()
}
