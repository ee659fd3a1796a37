package triage

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/clarion/internal/ai"
)

// Metrics holds Prometheus metrics for the pipeline.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	ArticlesTotal   *prometheus.CounterVec
	DedupHits       prometheus.Counter
	DeliveriesTotal *prometheus.CounterVec
	AICallsTotal    *prometheus.CounterVec
	AICallDuration  prometheus.Histogram
	AITokensIn      prometheus.Counter
	AITokensOut     prometheus.Counter
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clarion_runs_total",
			Help: "Total pipeline runs by final status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clarion_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}),
		ArticlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clarion_articles_total",
			Help: "Articles by terminal stage and status.",
		}, []string{"stage", "status"}),
		DedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clarion_dedup_hits_total",
			Help: "Articles dropped because their fingerprint was already seen.",
		}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clarion_deliveries_total",
			Help: "Notifier deliveries by channel and result.",
		}, []string{"channel", "result"}),
		AICallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clarion_ai_calls_total",
			Help: "AI provider calls by result.",
		}, []string{"result"}),
		AICallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clarion_ai_call_duration_seconds",
			Help:    "Duration of individual AI provider calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
		AITokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clarion_ai_tokens_input_total",
			Help: "Total AI input tokens consumed.",
		}),
		AITokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clarion_ai_tokens_output_total",
			Help: "Total AI output tokens consumed.",
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.ArticlesTotal,
		m.DedupHits,
		m.DeliveriesTotal,
		m.AICallsTotal,
		m.AICallDuration,
		m.AITokensIn,
		m.AITokensOut,
	)

	return m
}

func (m *Metrics) observeRun(run *Run) {
	m.RunsTotal.WithLabelValues(string(run.Status)).Inc()
	m.RunDuration.Observe(run.Duration)
	for _, o := range run.Outcomes {
		m.ArticlesTotal.WithLabelValues(string(o.Stage), string(o.Status)).Inc()
		if o.Status == OutcomeDuplicate {
			m.DedupHits.Inc()
		}
	}
}

// ObserveDelivery records one notifier send. The fanout composite
// calls this per channel.
func (m *Metrics) ObserveDelivery(channel string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.DeliveriesTotal.WithLabelValues(channel, result).Inc()
}

// InstrumentProvider wraps a provider so every completion updates the
// AI call counters.
func (m *Metrics) InstrumentProvider(p ai.Provider) ai.Provider {
	return &meteredProvider{inner: p, metrics: m}
}

type meteredProvider struct {
	inner   ai.Provider
	metrics *Metrics
}

func (p *meteredProvider) Complete(ctx context.Context, req *ai.Request) (*ai.Response, error) {
	start := time.Now()
	resp, err := p.inner.Complete(ctx, req)
	p.metrics.AICallDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.AICallsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	p.metrics.AICallsTotal.WithLabelValues("success").Inc()
	p.metrics.AITokensIn.Add(float64(resp.Usage.InputTokens))
	p.metrics.AITokensOut.Add(float64(resp.Usage.OutputTokens))
	return resp, nil
}
