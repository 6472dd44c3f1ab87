package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counters for the ledger workflows, exposed on /metrics.

var feesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "clubledger",
	Name:      "fees_issued_total",
	Help:      "Fee entries issued, by fee type.",
}, []string{"fee_type"})

var paymentsAllocated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "clubledger",
	Name:      "payments_allocated_total",
	Help:      "Payments successfully allocated.",
})

var paymentsDeclined = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "clubledger",
	Name:      "payments_declined_total",
	Help:      "Gateway declines, by decline code.",
}, []string{"code"})

var refundsIssued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "clubledger",
	Name:      "refunds_issued_total",
	Help:      "Refund credits created by the cancellation handler.",
})

var overdueSwept = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "clubledger",
	Name:      "overdue_swept_total",
	Help:      "Fee entries promoted to OVERDUE by the sweeper.",
})
