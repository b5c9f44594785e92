package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector of the service. All methods are safe on a nil
// receiver so components can run without instrumentation.
type Metrics struct {
	reg *prometheus.Registry

	// Streaming sessions
	ActiveSessions prometheus.Gauge
	QueueBacklog   *prometheus.GaugeVec
	WindowsEmitted prometheus.Counter
	WindowsSkipped prometheus.Counter
	BytesDropped   prometheus.Counter

	// Provider engine
	ProviderAttempts *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	Escalations      *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	CacheDegraded    *prometheus.CounterVec

	// Clinical pipeline
	GateOutcomes  *prometheus.CounterVec
	EvidenceNull  prometheus.Counter
	EvidenceItems prometheus.Histogram
	JobsByStatus  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "casescribe_active_sessions",
			Help: "Current number of streaming sessions",
		}),
		QueueBacklog: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "casescribe_ingest_queue_backlog",
			Help: "Chunks waiting in a session ingestion queue",
		}, []string{"session_id"}),
		WindowsEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "casescribe_windows_emitted_total",
			Help: "Audio windows emitted by session buffers",
		}),
		WindowsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "casescribe_windows_skipped_total",
			Help: "Audio windows skipped by the speech pre-filter",
		}),
		BytesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "casescribe_buffer_bytes_dropped_total",
			Help: "Audio bytes dropped by the buffer overflow policy",
		}),

		ProviderAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casescribe_provider_attempts_total",
			Help: "Provider calls by capability, provider and outcome",
		}, []string{"capability", "provider", "outcome"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casescribe_provider_call_seconds",
			Help:    "Provider call latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"capability", "provider"}),
		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casescribe_provider_escalations_total",
			Help: "Escalations from one provider to the next",
		}, []string{"capability", "from", "to"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casescribe_cache_lookups_total",
			Help: "Response cache lookups by capability and result",
		}, []string{"capability", "result"}),
		CacheDegraded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casescribe_cache_degraded_total",
			Help: "Shared cache failures served from the in-process store",
		}, []string{"op"}),

		GateOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casescribe_quality_gate_outcomes_total",
			Help: "Terminal clinical record statuses",
		}, []string{"status"}),
		EvidenceNull: f.NewCounter(prometheus.CounterOpts{
			Name: "casescribe_evidence_null_total",
			Help: "Literature searches with no qualifying citations",
		}),
		EvidenceItems: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "casescribe_evidence_items",
			Help:    "Citations surviving inclusion rules per search",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		}),
		JobsByStatus: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casescribe_jobs_total",
			Help: "One-shot analysis jobs by terminal status",
		}, []string{"status"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) SessionClosed(sessionID string) {
	if m != nil {
		m.ActiveSessions.Dec()
		m.QueueBacklog.DeleteLabelValues(sessionID)
	}
}

func (m *Metrics) Backlog(sessionID string, n int) {
	if m != nil {
		m.QueueBacklog.WithLabelValues(sessionID).Set(float64(n))
	}
}

func (m *Metrics) WindowEmitted() {
	if m != nil {
		m.WindowsEmitted.Inc()
	}
}

func (m *Metrics) WindowSkipped() {
	if m != nil {
		m.WindowsSkipped.Inc()
	}
}

func (m *Metrics) Dropped(n int64) {
	if m != nil && n > 0 {
		m.BytesDropped.Add(float64(n))
	}
}

func (m *Metrics) Attempt(capability, provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ProviderAttempts.WithLabelValues(capability, provider, outcome).Inc()
	m.ProviderLatency.WithLabelValues(capability, provider).Observe(seconds)
}

func (m *Metrics) Escalated(capability, from, to string) {
	if m != nil {
		m.Escalations.WithLabelValues(capability, from, to).Inc()
	}
}

func (m *Metrics) CacheLookup(capability string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(capability, result).Inc()
}

func (m *Metrics) CacheFailure(op string) {
	if m != nil {
		m.CacheDegraded.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) GateOutcome(status string) {
	if m != nil {
		m.GateOutcomes.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Evidence(items int, null bool) {
	if m == nil {
		return
	}
	m.EvidenceItems.Observe(float64(items))
	if null {
		m.EvidenceNull.Inc()
	}
}

func (m *Metrics) Job(status string) {
	if m != nil {
		m.JobsByStatus.WithLabelValues(status).Inc()
	}
}
