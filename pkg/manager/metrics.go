package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stagesRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mason_stages_run_total",
		Help: "Stage adapter invocations, by stage.",
	}, []string{"stage"})

	stagesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mason_stages_skipped_total",
		Help: "Planned stages skipped before or during execution, by reason.",
	}, []string{"reason"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mason_stage_duration_seconds",
		Help:    "Stage adapter wall time, by stage.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})
)
