// Package metrics holds Prometheus collectors of the ledger and coupon services.
// Collectors are registered in the default registry and served by promhttp.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const OutcomeOK = "OK"

var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "hhledger",
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Balance operations by kind and outcome code.",
}, []string{"kind", "outcome"})

var LedgerAmount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "hhledger",
	Subsystem: "ledger",
	Name:      "amount_total",
	Help:      "Sum of committed amounts by kind in the smallest currency unit.",
}, []string{"kind"})

var LedgerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "hhledger",
	Subsystem: "ledger",
	Name:      "operation_duration_seconds",
	Help:      "Balance operation latency including the store round trips.",
	Buckets:   prometheus.DefBuckets,
}, []string{"kind"})

var CouponIssuance = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "hhledger",
	Subsystem: "coupon",
	Name:      "issuance_total",
	Help:      "Coupon issuance attempts by outcome code.",
}, []string{"outcome"})

var DailyResets = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "hhledger",
	Subsystem: "ledger",
	Name:      "daily_reset_balances_total",
	Help:      "Balances whose stale daily charged amount was zeroed.",
})

// ObserveLedger records one balance operation; outcome is OutcomeOK or an error code
func ObserveLedger(kind string, outcome string, amount int64, started time.Time) {
	LedgerOperations.WithLabelValues(kind, outcome).Inc()
	LedgerDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	if outcome == OutcomeOK {
		LedgerAmount.WithLabelValues(kind).Add(float64(amount))
	}
}
