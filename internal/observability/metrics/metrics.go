// Package metrics exposes relay counters and publish batch outcomes in the
// Prometheus text format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pubcontrol/internal/runtime/supervisor"
	"pubcontrol/pkg/eventbus"
	"pubcontrol/pkg/pubcontrol"
)

const subscribeBuffer = 256

// Metrics owns a private registry so several relays (or tests) can coexist in
// one process.
type Metrics struct {
	reg *prometheus.Registry

	envelopes     *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	batches       *prometheus.CounterVec
	batchItems    prometheus.Histogram
	batchDuration *prometheus.HistogramVec
	endpoints     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		envelopes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubcontrol_relay_envelopes_total",
				Help: "Envelopes read by the relay, by result.",
			},
			[]string{"result"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubcontrol_relay_deliveries_total",
				Help: "Aggregated broadcast outcomes, by result.",
			},
			[]string{"result"},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubcontrol_batches_total",
				Help: "Publish transport calls made by endpoint workers.",
			},
			[]string{"uri", "result"},
		),
		batchItems: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pubcontrol_batch_items",
				Help:    "Items per publish transport call.",
				Buckets: prometheus.LinearBuckets(1, 1, pubcontrol.MaxBatch),
			},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pubcontrol_batch_duration_seconds",
				Help:    "Time taken by one publish transport call.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"uri"},
		),
		endpoints: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pubcontrol_relay_endpoints",
				Help: "Endpoints in the current configuration.",
			},
		),
	}
	m.reg.MustRegister(
		m.envelopes,
		m.deliveries,
		m.batches,
		m.batchItems,
		m.batchDuration,
		m.endpoints,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveEnvelope(accepted bool) {
	m.envelopes.WithLabelValues(result(accepted, "accepted", "rejected")).Inc()
}

func (m *Metrics) ObserveDelivery(ok bool) {
	m.deliveries.WithLabelValues(result(ok, "delivered", "failed")).Inc()
}

func (m *Metrics) SetEndpoints(n int) { m.endpoints.Set(float64(n)) }

// ObserveBatch records one worker transport call.
func (m *Metrics) ObserveBatch(ev pubcontrol.BatchEvent) {
	m.batches.WithLabelValues(ev.URI, result(ev.Error == "", "sent", "failed")).Inc()
	m.batchItems.Observe(float64(ev.Size))
	m.batchDuration.WithLabelValues(ev.URI).Observe(ev.Duration.Seconds())
}

// Start observes batch events from bus on a goroutine owned by sup.
func (m *Metrics) Start(sup *supervisor.Supervisor, bus eventbus.Bus) {
	if bus == nil {
		return
	}
	events, unsub := bus.Subscribe(subscribeBuffer, "pubcontrol.batch.")
	sup.Go0("metrics.batches", func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if ev, ok := e.Data.(pubcontrol.BatchEvent); ok {
					m.ObserveBatch(ev)
				}
			}
		}
	})
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
