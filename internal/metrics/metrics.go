// Registers, on a private registry:
//
//	#pythagoras_frames_received_total
//	#pythagoras_parse_failures_total{kind}
//	#pythagoras_read_errors_total{severity}
//	#pythagoras_dispatch_cycles_total
//	#pythagoras_sink_writes_total{sink}
//	#pythagoras_sink_failures_total{sink}
//	#pythagoras_sink_drops_total{sink}
//	#pythagoras_dispatcher_state
//	#go_* and process_* system metrics
//
// Exposed on metrics.address at /metrics when enabled.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pythagoras/logger"
)

const namespace = "pythagoras"

// Metrics holds the pipeline counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived prometheus.Counter
	parseFailures  *prometheus.CounterVec
	readErrors     *prometheus.CounterVec
	dispatchCycles prometheus.Counter
	sinkWrites     *prometheus.CounterVec
	sinkFailures   *prometheus.CounterVec
	sinkDrops      *prometheus.CounterVec
	state          prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Number of frames read from the feed",
		}),
		parseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Number of frames discarded because they could not be parsed",
		}, []string{"kind"}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_errors_total",
			Help:      "Number of feed read errors by severity",
		}, []string{"severity"}),
		dispatchCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_cycles_total",
			Help:      "Number of parsed messages fanned out to the sinks",
		}),
		sinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Number of sink writes that returned without error",
		}, []string{"sink"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Number of failed sink writes",
		}, []string{"sink"}),
		sinkDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_drops_total",
			Help:      "Number of messages dropped because a sink queue was full",
		}, []string{"sink"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_state",
			Help:      "Dispatcher state: 0 subscribing, 1 listening, 2 dispatching, 3 terminated",
		}),
	}

	m.registry.MustRegister(
		m.framesReceived,
		m.parseFailures,
		m.readErrors,
		m.dispatchCycles,
		m.sinkWrites,
		m.sinkFailures,
		m.sinkDrops,
		m.state,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) FrameReceived() {
	if m != nil {
		m.framesReceived.Inc()
	}
}

func (m *Metrics) ParseFailure(kind string) {
	if m != nil {
		m.parseFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ReadError(severity string) {
	if m != nil {
		m.readErrors.WithLabelValues(severity).Inc()
	}
}

func (m *Metrics) DispatchCycle() {
	if m != nil {
		m.dispatchCycles.Inc()
	}
}

func (m *Metrics) SinkWrite(sink string) {
	if m != nil {
		m.sinkWrites.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) SinkFailure(sink string) {
	if m != nil {
		m.sinkFailures.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) SinkDrop(sink string) {
	if m != nil {
		m.sinkDrops.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) SetState(state int) {
	if m != nil {
		m.state.Set(float64(state))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *logger.Log) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithComponent("metrics").WithFields(logger.Fields{"address": addr}).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
