package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_sessions_active",
		Help: "Currently live transcription sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_sessions_total",
		Help: "Total transcription sessions started",
	})

	Chunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_chunks_processed_total",
		Help: "Total audio chunks received over all sessions",
	})

	ChunksIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_chunks_ignored_total",
		Help: "Chunks below the minimum size, counted but not buffered",
	})

	Dispatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_dispatches_total",
		Help: "Buffer dispatches sent to a transcription engine",
	})

	SilentDispatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_dispatches_silent_total",
		Help: "Dispatches that produced no usable transcription",
	})

	DuplicateDispatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_dispatches_duplicate_total",
		Help: "Dispatches whose text was entirely already known",
	})

	SegmentsSealed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_segments_sealed_total",
		Help: "Sealed segments by cause",
	}, []string{"cause"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "speech_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	EngineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "speech_engine_duration_seconds",
		Help:    "Transcription engine latency by engine",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"engine"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	ArtifactsFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_artifacts_filtered_total",
		Help: "Transcriptions dropped by the stoplist filter",
	})

	WEREstimate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_wer_estimate",
		Help: "Latest word error rate from reference transcript evaluation",
	})

	FinalBufferBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_final_buffer_bytes",
		Help:    "Session audio buffer size at close",
		Buckets: prometheus.ExponentialBuckets(16384, 4, 10),
	})
)
