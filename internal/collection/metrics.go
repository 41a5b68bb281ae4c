package collection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filecollect_claimed_total",
		Help: "Total number of collection requests claimed by the dispatcher",
	})

	metricAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filecollect_attempts_total",
		Help: "Total collection attempts by collector name and result status",
	}, []string{"collector", "result"})

	metricQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "filecollect_queue_depth",
		Help: "Current number of work items queued per collector",
	}, []string{"collector"})

	metricPollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "filecollect_poll_duration_seconds",
		Help:    "Duration of one dispatcher polling cycle",
		Buckets: prometheus.DefBuckets,
	})
)
