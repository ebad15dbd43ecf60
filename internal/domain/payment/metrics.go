package payment

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

var (
	ordersCreatedFonePay = metrics.GetOrCreateCounter(`payment_orders_total{provider="fonepay"}`)
	ordersCreatedEsewa   = metrics.GetOrCreateCounter(`payment_orders_total{provider="esewa"}`)

	reconcileMismatchCounter = metrics.GetOrCreateCounter(`payment_reconcile_total{result="mismatch"}`)
	reconcileNoopCounter     = metrics.GetOrCreateCounter(`payment_reconcile_total{result="noop"}`)
	reconcilePaidCounter     = metrics.GetOrCreateCounter(`payment_reconcile_total{result="paid"}`)
	reconcilePendingCounter  = metrics.GetOrCreateCounter(`payment_reconcile_total{result="pending"}`)
	reconcileFailedCounter   = metrics.GetOrCreateCounter(`payment_reconcile_total{result="failed"}`)
	reconcileConflictCounter = metrics.GetOrCreateCounter(`payment_reconcile_total{result="conflict_retry"}`)

	sessionsTimedOutCounter  = metrics.GetOrCreateCounter(`payment_sessions_total{result="timeout"}`)
	sessionsSucceededCounter = metrics.GetOrCreateCounter(`payment_sessions_total{result="success"}`)
	sessionsFailedCounter    = metrics.GetOrCreateCounter(`payment_sessions_total{result="failed"}`)
)

func countOrder(p Provider) {
	switch p {
	case ProviderFonePay:
		ordersCreatedFonePay.Inc()
	case ProviderEsewa:
		ordersCreatedEsewa.Inc()
	}
}

func observeStatusCheck(p Provider, outcome Outcome, err error, took time.Duration) {
	result := string(outcome)
	if err != nil {
		result = "error"
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`payment_status_checks_total{provider=%q,result=%q}`, p, result)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`payment_status_check_duration_seconds{provider=%q}`, p)).Update(took.Seconds())
}
