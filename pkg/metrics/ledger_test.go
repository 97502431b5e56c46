package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestLedgerMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)

	m.Observe("collect", "", 3)
	m.Observe("collect", "INSUFFICIENT_BALANCE", 0)
	m.Observe("transfer", "ok", 2)
	m.IncMismatch("household")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "waterbot_ledger_bottles_total", "op", "collect"); err != nil || got != 3 {
		t.Fatalf("expected 3 collected bottles, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "waterbot_ledger_operations_total", "result", "insufficient_balance"); err != nil || got != 1 {
		t.Fatalf("expected one insufficient balance result, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "waterbot_ledger_audit_mismatches_total", "account", "household"); err != nil || got != 1 {
		t.Fatalf("expected one mismatch, got %f err=%v", got, err)
	}
}

func TestBotMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBotMetrics(reg)
	m.IncEvent("command")
	m.IncError("STORAGE_ERROR")
	m.IncPanic()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "waterbot_bot_handler_errors_total", "code", "storage_error"); err != nil || got != 1 {
		t.Fatalf("expected storage error count 1, got %f err=%v", got, err)
	}
	mf := findMetricFamily(mfs, "waterbot_bot_handler_panics_total")
	if mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("expected one panic recorded")
	}
}
