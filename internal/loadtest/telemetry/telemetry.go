// Package telemetry exports live run metrics in the Prometheus format.
package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
)

const namespace = "surge"

// Telemetry is an engine observer backed by its own Prometheus registry.
type Telemetry struct {
	registry *prometheus.Registry

	responses  *prometheus.CounterVec
	failures   *prometheus.CounterVec
	inFlight   prometheus.Gauge
	latency    prometheus.Histogram
	admission  prometheus.Counter
	faults     prometheus.Counter
	lastSecond prometheus.Gauge
	seconds    prometheus.Counter
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry. constLabels are attached to every
// series, typically the run title.
func New(constLabels prometheus.Labels) *Telemetry {
	t := &Telemetry{
		registry: prometheus.NewRegistry(),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "responses_total",
			Help:        "Responses received, by status class",
			ConstLabels: constLabels,
		}, []string{"class"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "request_failures_total",
			Help:        "Requests that produced no response, by failure kind",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "in_flight_requests",
			Help:        "Requests currently in flight",
			ConstLabels: constLabels,
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "request_duration_seconds",
			Help:        "Latency distribution",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15),
			ConstLabels: constLabels,
		}),
		admission: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "admission_failures_total",
			Help:        "Requests that could not obtain a permit",
			ConstLabels: constLabels,
		}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "task_faults_total",
			Help:        "Request tasks that panicked",
			ConstLabels: constLabels,
		}),
		lastSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "requests_last_second",
			Help:        "Requests admitted during the last closed second",
			ConstLabels: constLabels,
		}),
		seconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "seconds_closed_total",
			Help:        "Per-second windows closed so far",
			ConstLabels: constLabels,
		}),
	}

	t.registry.MustRegister(
		t.responses, t.failures, t.inFlight, t.latency,
		t.admission, t.faults, t.lastSecond, t.seconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return t
}

// Registry returns the underlying registry.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// RequestStarted marks a request as in flight.
func (t *Telemetry) RequestStarted() {
	t.inFlight.Inc()
}

// RequestFinished records the outcome of a request started with RequestStarted.
func (t *Telemetry) RequestFinished(o metrics.Outcome) {
	t.inFlight.Dec()
	t.latency.Observe(o.Latency.Seconds())

	if o.Failed() {
		t.failures.WithLabelValues(o.Kind).Inc()
		return
	}
	t.responses.WithLabelValues(statusClass(o.StatusCode)).Inc()
}

// AdmissionFailed counts a task that could not obtain a permit.
func (t *Telemetry) AdmissionFailed() {
	t.admission.Inc()
}

// TaskFaulted counts a panicked task. A panic after RequestStarted never
// reaches RequestFinished, so the in-flight gauge is corrected here.
func (t *Telemetry) TaskFaulted(started bool) {
	t.faults.Inc()
	if started {
		t.inFlight.Dec()
	}
}

// SecondClosed publishes the request count of the second that just ended.
func (t *Telemetry) SecondClosed(_ int, count float64) {
	t.lastSecond.Set(count)
	t.seconds.Inc()
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Handler serves the registry in the Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// Server exposes /metrics on an address.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *zap.Logger
	done   chan struct{}
}

// Listen binds addr and starts serving /metrics in the background.
func (t *Telemetry) Listen(addr string, logger *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		logger: logger,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	logger.Info("Serving metrics", zap.String("addr", "http://"+ln.Addr().String()+"/metrics"))
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for in-progress scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
