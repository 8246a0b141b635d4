package aqmsim

// metrics.go exports what the pipeline does as Prometheus metrics.  Every
// metric carries a policy label so the runs of a comparison can be told apart
// on one registry

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const metricsNamespace = "aqmsim"

// Metrics is the collection of collectors for all runs of an experiment
type Metrics struct {
	registry *prometheus.Registry

	PacketsTotal   *prometheus.CounterVec // by policy and event
	DropsTotal     *prometheus.CounterVec // by policy and reason
	QueueingDelay  *prometheus.HistogramVec
	QueueLength    *prometheus.GaugeVec
	DropProbabilty *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them, with the Go runtime
// collectors, on a registry of their own
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,

		PacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_total",
			Help:      "Packets seen at each pipeline stage",
		}, []string{"policy", "event"}),

		DropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "drops_total",
			Help:      "Packets that did not complete service",
		}, []string{"policy", "reason"}),

		QueueingDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "queueing_delay_seconds",
			Help:      "Time from queue arrival to start of service",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"policy"}),

		QueueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_length",
			Help:      "Data packets queued at the last sample",
		}, []string{"policy"}),

		DropProbabilty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "drop_probability",
			Help:      "Drop probability of the admission policy at the last sample",
		}, []string{"policy"}),
	}

	registry.MustRegister(
		m.PacketsTotal,
		m.DropsTotal,
		m.QueueingDelay,
		m.QueueLength,
		m.DropProbabilty,
	)
	return m
}

// Registry is where the collectors are registered
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on listen until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, listen string, lg *zap.Logger) error {
	lg = orNop(lg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			lg.Warn("metrics server shutdown", zap.Error(err))
		}
	}()

	lg.Info("serving metrics", zap.String("listen", listen))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}

// ForPolicy gives a StatsSink that updates the collectors under the policy's label
func (m *Metrics) ForPolicy(kind PolicyKind) *MetricsSink {
	return &MetricsSink{m: m, policy: kind.String()}
}

// MetricsSink is a StatsSink feeding a Metrics collection
type MetricsSink struct {
	m      *Metrics
	policy string
}

func (ms *MetricsSink) OnGenerated(p Packet) {
	ms.m.PacketsTotal.WithLabelValues(ms.policy, "generated").Inc()
}

func (ms *MetricsSink) OnEnqueued(p Packet) {
	ms.m.PacketsTotal.WithLabelValues(ms.policy, "enqueued").Inc()
}

func (ms *MetricsSink) OnDropped(p Packet, reason DropReason) {
	ms.m.PacketsTotal.WithLabelValues(ms.policy, "dropped").Inc()
	ms.m.DropsTotal.WithLabelValues(ms.policy, reason.String()).Inc()
}

func (ms *MetricsSink) OnServiced(p Packet) {
	ms.m.PacketsTotal.WithLabelValues(ms.policy, "serviced").Inc()
	ms.m.QueueingDelay.WithLabelValues(ms.policy).Observe(p.QueueingDelay())
}

func (ms *MetricsSink) OnSnapshot(now float64, s Snapshot) {
	ms.m.QueueLength.WithLabelValues(ms.policy).Set(float64(s.Length))
	ms.m.DropProbabilty.WithLabelValues(ms.policy).Set(s.State.DropProbability)
}
