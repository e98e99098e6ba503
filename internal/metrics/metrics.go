// Package metrics counts conversion work and exports it as a Prometheus textfile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Recorder holds the counters of one run on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	documents *prometheus.CounterVec
	sentences *prometheus.CounterVec
	tokens    *prometheus.CounterVec
	warnings  *prometheus.CounterVec
	lost      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// New creates a Recorder.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		documents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "annotsv_documents_total",
			Help: "Documents processed by operation and result",
		}, []string{"operation", "result"}),
		sentences: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "annotsv_sentences_total",
			Help: "Sentences in successfully processed documents",
		}, []string{"operation"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "annotsv_tokens_total",
			Help: "Tokens in successfully processed documents",
		}, []string{"operation"}),
		warnings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "annotsv_decode_warnings_total",
			Help: "Recoverable decode problems by kind",
		}, []string{"kind"}),
		lost: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "annotsv_lost_elements_total",
			Help: "Annotations the fixed layout could not represent, by element type",
		}, []string{"element"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "annotsv_document_duration_seconds",
			Help:    "Per-document processing time",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"operation"}),
	}
}

// Document records one processed document.
func (r *Recorder) Document(operation string, sentences, tokens int, elapsed time.Duration) {
	r.documents.WithLabelValues(operation, ResultOK).Inc()
	r.sentences.WithLabelValues(operation).Add(float64(sentences))
	r.tokens.WithLabelValues(operation).Add(float64(tokens))
	r.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Failure records a document that could not be processed.
func (r *Recorder) Failure(operation string) {
	r.documents.WithLabelValues(operation, ResultFailed).Inc()
}

// Warning records a decode warning of the given kind.
func (r *Recorder) Warning(kind string) {
	r.warnings.WithLabelValues(kind).Inc()
}

// Lost records n elements of a type dropped by the encoder.
func (r *Recorder) Lost(element string, n int) {
	if n > 0 {
		r.lost.WithLabelValues(element).Add(float64(n))
	}
}

// Gatherer exposes the private registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes every metric in the text exposition format, replacing path
// atomically.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
