package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================================
// Credit ledger metrics
// ============================================================================

// PaymentsAllocated counts committed FIFO allocations by credit kind.
var PaymentsAllocated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coop",
	Subsystem: "credit",
	Name:      "allocations_total",
	Help:      "Committed FIFO allocations by credit entry kind.",
}, []string{"kind"})

// AllocatedCents sums the cents applied to debits.
var AllocatedCents = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "coop",
	Subsystem: "credit",
	Name:      "allocated_cents_total",
	Help:      "Total cents applied against debit entries.",
})

// AllocationDebitsTouched observes how many debits one payment spans.
var AllocationDebitsTouched = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "coop",
	Subsystem: "credit",
	Name:      "allocation_debits_touched",
	Help:      "Number of debit entries a single allocation touched.",
	Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
})

// PenaltiesApplied counts posted penalties by type.
var PenaltiesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coop",
	Subsystem: "credit",
	Name:      "penalties_applied_total",
	Help:      "Penalty adjustments posted, by penalty type.",
}, []string{"type"})

// InterestPosted counts posted interest adjustments.
var InterestPosted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "coop",
	Subsystem: "credit",
	Name:      "interest_posted_total",
	Help:      "Interest adjustments posted.",
})

// IntegrityErrors counts invariant violations and balance drift findings.
var IntegrityErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coop",
	Subsystem: "credit",
	Name:      "integrity_errors_total",
	Help:      "Ledger integrity failures, by source.",
}, []string{"source"})

// SchedulesMarkedOverdue counts pending -> overdue transitions.
var SchedulesMarkedOverdue = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "coop",
	Subsystem: "credit",
	Name:      "schedules_marked_overdue_total",
	Help:      "Payment schedule rows transitioned to overdue.",
})

// OutboxPublished counts outbox relay outcomes.
var OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coop",
	Subsystem: "outbox",
	Name:      "messages_total",
	Help:      "Outbox messages processed, by result.",
}, []string{"result"})
