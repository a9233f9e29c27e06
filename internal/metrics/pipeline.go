package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics. All low-cardinality: labels are provider tags, analysis
// modes, error kinds and sensor kinds - never camera or event ids.

var (
	EventsEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_events_enqueued_total",
		Help: "Events accepted into the processing queue",
	})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_events_dropped_total",
		Help: "Events dropped before processing",
	}, []string{"reason"}) // overflow | cooldown | filtered | unknown_camera

	EventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_events_processed_total",
		Help: "Events fully processed by a worker",
	}, []string{"outcome"}) // success | failure

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_queue_depth",
		Help: "Current depth of the bounded event queue",
	})

	WorkerExceptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_worker_exceptions_total",
		Help: "Panics recovered inside event workers",
	})

	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_processing_duration_ms",
		Help:    "Per-event end-to-end processing duration in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	})

	AIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_requests_total",
		Help: "AI provider calls by provider and result",
	}, []string{"provider", "result"})

	AIRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ai_request_latency_ms",
		Help:    "AI provider round-trip latency in milliseconds",
		Buckets: []float64{250, 500, 1000, 2000, 5000, 10000, 30000},
	}, []string{"provider"})

	AICostUSDTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_cost_usd_total",
		Help: "Accumulated AI spend in USD",
	}, []string{"provider"})

	FallbackStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_fallback_steps_total",
		Help: "Evidence-chain fallback entries recorded",
	}, []string{"stage"}) // video_native | multi_frame | single_frame

	FanoutFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_fanout_failures_total",
		Help: "Background fan-out task failures by category",
	}, []string{"category"})

	SensorTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_sensor_triggers_total",
		Help: "Smart-home sensor triggers by kind",
	}, []string{"kind"})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_extracted_total",
		Help: "Frames decoded from clips across all events",
	})

	FramesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_rejected_total",
		Help: "Candidate frames rejected by the quality filter",
	}, []string{"reason"}) // blurry | empty | duplicate
)

func RecordAIRequest(provider string, success bool, latencyMs float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	AIRequestsTotal.WithLabelValues(provider, result).Inc()
	AIRequestLatency.WithLabelValues(provider).Observe(latencyMs)
}
