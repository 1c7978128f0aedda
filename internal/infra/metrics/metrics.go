package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "repairbot"

var (
	EstimatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "estimates_total",
		Help:      "Price estimations by resulting confidence.",
	}, []string{"confidence"})

	RulesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rules_skipped_total",
		Help:      "Invalid price rules skipped during estimation.",
	})

	ExtractionTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extraction_timeouts_total",
		Help:      "Extraction results that did not arrive in time.",
	})

	LeadsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leads_created_total",
		Help:      "Leads inserted (not counting updates).",
	})

	ConversationsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversations_finished_total",
		Help:      "Conversations that reached a terminal status.",
	}, []string{"status"})

	TurnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_duration_seconds",
		Help:      "Time spent processing one conversation turn.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event"})
)
