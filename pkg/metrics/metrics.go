// Package metrics exposes Prometheus collectors for the wallet engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WithdrawalsTotal counts withdrawal attempts by terminal outcome
	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "withdrawals",
		Name:      "total",
		Help:      "Withdrawal attempts by outcome",
	}, []string{"outcome"})

	// WithdrawalDuration tracks end-to-end dispatch latency
	WithdrawalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wallet",
		Subsystem: "withdrawals",
		Name:      "dispatch_duration_seconds",
		Help:      "Time from request to gateway dispatch result",
		Buckets:   prometheus.DefBuckets,
	})

	// SettlementsTotal counts webhook settlements by final status
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "settlements",
		Name:      "total",
		Help:      "Webhook settlements by final status",
	}, []string{"status"})

	// SettlementConflicts counts duplicate or out-of-order webhook deliveries
	SettlementConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "settlements",
		Name:      "conflicts_total",
		Help:      "Webhook deliveries rejected as already settled",
	})

	// RefundsTotal counts compensating refunds applied
	RefundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "withdrawals",
		Name:      "refunds_total",
		Help:      "Compensating refunds applied after failed transfers",
	})

	// RefundFailures counts refunds that could not be applied and need
	// manual recovery
	RefundFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "withdrawals",
		Name:      "refund_failures_total",
		Help:      "Refunds that failed and were flagged for manual recovery",
	})

	// ReconciliationRuns counts reconciliation runs by trigger
	ReconciliationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "reconciliation",
		Name:      "runs_total",
		Help:      "Reconciliation runs by trigger type",
	}, []string{"trigger"})

	// ReconciliationDiscrepancies counts per-user discrepancies found
	ReconciliationDiscrepancies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "reconciliation",
		Name:      "discrepancies_total",
		Help:      "Per-user discrepancies flagged by reconciliation",
	})

	// GatewayRequests counts outbound gateway calls by endpoint and result
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Outbound payment gateway requests",
	}, []string{"endpoint", "result"})
)
