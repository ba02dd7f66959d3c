package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docenrich"

// Metrics holds the process collectors. A nil *Metrics is valid and records
// nothing, so components can be used without a registry.
type Metrics struct {
	registry *prometheus.Registry

	Documents        *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	PagesExtracted   *prometheus.CounterVec
	OCRInvocations   *prometheus.CounterVec
	LLMCalls         *prometheus.CounterVec
	LLMTokens        *prometheus.CounterVec
	Enhancements     *prometheus.CounterVec
	VectorsUpserted  prometheus.Counter
	QueueJobs        *prometheus.CounterVec
	InflightDocument prometheus.Gauge
}

// NewMetrics creates a private registry with Go and process collectors and
// the service collectors registered on it.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Metrics{
		registry: reg,
		Documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "documents_total",
			Help: "Documents by terminal outcome.",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds",
			Help:    "Duration of orchestrator stages.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"stage"}),
		PagesExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pages_extracted_total",
			Help: "Pages extracted, by outcome.",
		}, []string{"outcome"}),
		OCRInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ocr_invocations_total",
			Help: "OCR engine invocations by kind (full_page, region, fallback).",
		}, []string{"kind"}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "llm_calls_total",
			Help: "LLM calls by outcome.",
		}, []string{"outcome"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "llm_tokens_total",
			Help: "LLM tokens by direction (prompt, completion).",
		}, []string{"direction"}),
		Enhancements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "enhancements_total",
			Help: "Enhancements emitted by type.",
		}, []string{"type"}),
		VectorsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "vectors_upserted_total",
			Help: "Vectors written to the vector store.",
		}),
		QueueJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "queue_jobs_total",
			Help: "Queue jobs by outcome.",
		}, []string{"outcome"}),
		InflightDocument: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "documents_inflight",
			Help: "Documents currently being processed.",
		}),
	}
	reg.MustRegister(m.Documents, m.StageDuration, m.PagesExtracted, m.OCRInvocations,
		m.LLMCalls, m.LLMTokens, m.Enhancements, m.VectorsUpserted, m.QueueJobs, m.InflightDocument)
	return m
}

// Registry returns the underlying registry, for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Document(outcome string) {
	if m != nil {
		m.Documents.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Stage(stage string, d time.Duration) {
	if m != nil {
		m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

func (m *Metrics) Page(outcome string) {
	if m != nil {
		m.PagesExtracted.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) OCR(kind string) {
	if m != nil {
		m.OCRInvocations.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) LLMCall(outcome string, promptTokens, completionTokens int64) {
	if m == nil {
		return
	}
	m.LLMCalls.WithLabelValues(outcome).Inc()
	if promptTokens > 0 {
		m.LLMTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokens.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

func (m *Metrics) Enhancement(typ string, n int) {
	if m != nil && n > 0 {
		m.Enhancements.WithLabelValues(typ).Add(float64(n))
	}
}

func (m *Metrics) Vectors(n int) {
	if m != nil && n > 0 {
		m.VectorsUpserted.Add(float64(n))
	}
}

func (m *Metrics) QueueJob(outcome string) {
	if m != nil {
		m.QueueJobs.WithLabelValues(outcome).Inc()
	}
}

// Track increments the in-flight gauge and returns its decrement.
func (m *Metrics) Track() func() {
	if m == nil {
		return func() {}
	}
	m.InflightDocument.Inc()
	return m.InflightDocument.Dec
}
