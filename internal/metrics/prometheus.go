package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/user/meeting-notetaker/internal/errors"
	"github.com/user/meeting-notetaker/internal/filter"
	"github.com/user/meeting-notetaker/internal/pipeline"
	"github.com/user/meeting-notetaker/internal/vad"
)

// Metrics contains all Prometheus metrics for the speech pipelines
type Metrics struct {
	registry prometheus.Gatherer

	// Chunk metrics
	ChunksQueued  prometheus.Counter
	ChunksDropped *prometheus.CounterVec
	QueueDepth    *prometheus.GaugeVec

	// Gate metrics
	GateDecisions *prometheus.CounterVec
	GateDuration  prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests prometheus.Counter
	TranscriptionFailures *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram

	// Output metrics
	FilterOutcomes  *prometheus.CounterVec
	SegmentsEmitted prometheus.Counter
	Degraded        *prometheus.GaugeVec
}

// New creates all metrics and registers them on reg
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		ChunksQueued: f.NewCounter(prometheus.CounterOpts{
			Name: "notetaker_chunks_queued_total",
			Help: "Total number of audio chunks queued for processing",
		}),
		ChunksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notetaker_chunks_dropped_total",
			Help: "Total number of audio chunks dropped before transcription",
		}, []string{"reason"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "notetaker_chunk_queue_depth",
			Help: "Current number of chunks waiting for a worker",
		}, []string{"stream"}),

		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notetaker_gate_decisions_total",
			Help: "Total number of activity gate decisions",
		}, []string{"reason"}),
		GateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "notetaker_gate_duration_seconds",
			Help:    "Time spent classifying a chunk",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
		}),

		TranscriptionRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "notetaker_transcription_requests_total",
			Help: "Total number of transcription requests",
		}),
		TranscriptionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notetaker_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}, []string{"retryable"}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "notetaker_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),

		FilterOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notetaker_filter_outcomes_total",
			Help: "Total number of hallucination filter verdicts",
		}, []string{"reason"}),
		SegmentsEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "notetaker_segments_emitted_total",
			Help: "Total number of text segments emitted",
		}),
		Degraded: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "notetaker_stream_degraded",
			Help: "1 while a stream's transcription is degraded",
		}, []string{"stream"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ForStream returns a pipeline observer whose gauges carry the stream label
func (m *Metrics) ForStream(stream string) pipeline.Observer {
	return &streamObserver{m: m, stream: stream}
}

// Forget removes a finished stream's gauges
func (m *Metrics) Forget(stream string) {
	m.QueueDepth.DeleteLabelValues(stream)
	m.Degraded.DeleteLabelValues(stream)
}

type streamObserver struct {
	m      *Metrics
	stream string
}

var _ pipeline.Observer = (*streamObserver)(nil)

func (o *streamObserver) ChunkQueued() {
	o.m.ChunksQueued.Inc()
}

func (o *streamObserver) ChunkDropped(reason string) {
	o.m.ChunksDropped.WithLabelValues(reason).Inc()
}

func (o *streamObserver) Gated(v vad.Verdict, elapsed time.Duration) {
	o.m.GateDecisions.WithLabelValues(v.Reason).Inc()
	o.m.GateDuration.Observe(elapsed.Seconds())
}

func (o *streamObserver) Transcribed(elapsed time.Duration, err error) {
	o.m.TranscriptionRequests.Inc()
	o.m.TranscriptionDuration.Observe(elapsed.Seconds())
	if err != nil {
		retryable := "false"
		if apperrors.IsRetryable(err) {
			retryable = "true"
		}
		o.m.TranscriptionFailures.WithLabelValues(retryable).Inc()
	}
}

func (o *streamObserver) Filtered(reason filter.Reason) {
	o.m.FilterOutcomes.WithLabelValues(string(reason)).Inc()
}

func (o *streamObserver) Emitted(pipeline.Segment) {
	o.m.SegmentsEmitted.Inc()
}

func (o *streamObserver) HealthChanged(h pipeline.Health) {
	v := 0.0
	if h == pipeline.Degraded {
		v = 1
	}
	o.m.Degraded.WithLabelValues(o.stream).Set(v)
}

func (o *streamObserver) QueueDepth(n int) {
	o.m.QueueDepth.WithLabelValues(o.stream).Set(float64(n))
}
