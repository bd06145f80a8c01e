// Copyright 2025 Redpanda Data, Inc.

// Package metricsexport serves core.Pipeline.Stats() as Prometheus gauges.
// It sits outside the core deliberately (§1 "Non-goals: observability
// layers beyond the stats() call"); the core never imports it.
package metricsexport

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/redpanda-data/edgestream/internal/core"
)

// Exporter periodically samples a Pipeline's Stats() into Prometheus gauges.
type Exporter struct {
	pipeline *core.Pipeline

	messagesReceived prometheus.Gauge
	messagesDropped  prometheus.Gauge
	batchesEmitted   prometheus.Gauge
	batchesExecuted  prometheus.Gauge
	batchesFailed    prometheus.Gauge
	activeKeys       prometheus.Gauge

	registry *prometheus.Registry
	stop     chan struct{}
}

// New builds an Exporter registered against its own registry (not the
// global default, so embedding this alongside other instrumentation never
// collides on metric names).
func New(pipeline *core.Pipeline) *Exporter {
	e := &Exporter{
		pipeline: pipeline,
		registry: prometheus.NewRegistry(),
		stop:     make(chan struct{}),
		messagesReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgestream_messages_received_total", Help: "Messages accepted by the offset tracker.",
		}),
		messagesDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgestream_messages_dropped_total", Help: "Sequences discarded without ever being delivered.",
		}),
		batchesEmitted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgestream_batches_emitted_total", Help: "Batches emitted by the window aggregator.",
		}),
		batchesExecuted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgestream_batches_executed_total", Help: "Batches the worker pool completed successfully.",
		}),
		batchesFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgestream_batches_failed_total", Help: "Batches the worker pool failed permanently.",
		}),
		activeKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgestream_active_keys", Help: "Keys with state currently held by the offset tracker.",
		}),
	}
	e.registry.MustRegister(
		e.messagesReceived, e.messagesDropped, e.batchesEmitted,
		e.batchesExecuted, e.batchesFailed, e.activeKeys,
	)
	return e
}

// Sample copies the pipeline's current stats into the gauges.
func (e *Exporter) Sample() {
	st := e.pipeline.Stats()
	e.messagesReceived.Set(float64(st.MessagesReceived))
	e.messagesDropped.Set(float64(st.MessagesDropped))
	e.batchesEmitted.Set(float64(st.BatchesEmitted))
	e.batchesExecuted.Set(float64(st.BatchesExecuted))
	e.batchesFailed.Set(float64(st.BatchesFailed))
	e.activeKeys.Set(float64(st.ActiveKeys))
}

// Run samples on the given interval until Stop is called.
func (e *Exporter) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.Sample()
		case <-e.stop:
			return
		}
	}
}

// Stop ends the sampling loop started by Run.
func (e *Exporter) Stop() { close(e.stop) }

// Handler returns the /metrics HTTP handler for this exporter's registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
