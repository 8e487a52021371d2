package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelStatus  = "status"
	LabelStage   = "stage"
	LabelResult  = "result"
	LabelAdapter = "adapter"
	LabelPolicy  = "policy"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vizflow_runs_total",
			Help: "Pipeline runs by terminal status",
		},
		[]string{LabelStatus},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vizflow_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{LabelStage, LabelResult},
	)

	ModelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vizflow_model_calls_total",
			Help: "Model calls by adapter and result",
		},
		[]string{LabelAdapter, LabelResult},
	)

	ModelCallRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vizflow_model_call_retries_total",
			Help: "Model call retries by adapter",
		},
		[]string{LabelAdapter},
	)

	ConsensusScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vizflow_consensus_score",
			Help:    "Aggregate consensus validation score",
			Buckets: prometheus.LinearBuckets(0, 0.2, 6),
		},
		[]string{LabelPolicy},
	)
)

// Result label values.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultTransient = "transient"
	ResultRejected  = "rejected"
	ResultCached    = "cached"
)
