package observability

import (
	"time"

	"github.com/aretw0/texrender/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the pipeline's collectors.
type Metrics struct {
	Renders        *prometheus.CounterVec
	RenderDuration *prometheus.HistogramVec
	Retries        prometheus.Counter
	PoolOpens      *prometheus.CounterVec
	PoolRecycled   prometheus.Counter
	Deliveries     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg leaves them
// unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Renders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "texrender_renders_total",
				Help: "Render attempts by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		RenderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "texrender_render_duration_seconds",
				Help:    "Time spent waiting on the rendering backend",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"backend"},
		),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "texrender_backend_retries_total",
			Help: "Binary protocol attempts retried after a transport fault",
		}),
		PoolOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "texrender_pool_opens_total",
				Help: "Backend connections opened by the pool",
			},
			[]string{"result"},
		),
		PoolRecycled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "texrender_pool_recycled_total",
			Help: "Idle connections closed by the recycle loop",
		}),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "texrender_deliveries_total",
				Help: "Finished render requests by delivery state",
			},
			[]string{"state"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Renders, m.RenderDuration, m.Retries, m.PoolOpens, m.PoolRecycled, m.Deliveries)
	}
	return m
}

// ObserveRender records one finished render call.
func (m *Metrics) ObserveRender(backend string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Renders.WithLabelValues(backend, domain.Classify(err).String()).Inc()
	m.RenderDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// Retry records a retried binary attempt.
func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// PoolOpened records the result of opening a pooled connection.
func (m *Metrics) PoolOpened(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PoolOpens.WithLabelValues(result).Inc()
}

// Recycled records a connection closed by the recycle loop.
func (m *Metrics) Recycled() {
	if m == nil {
		return
	}
	m.PoolRecycled.Inc()
}

// Delivered records the terminal state of a request.
func (m *Metrics) Delivered(state string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(state).Inc()
}
