// Package metrics exposes client counters to prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agent-command/acpbridge/internal/hooks"
)

const namespace = "acpbridge"

// Metrics implements the client's metrics sink on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	capabilityCalls     *prometheus.CounterVec
	hookExecutions      *prometheus.CounterVec
	hookDuration        *prometheus.HistogramVec
	feedbackResubmitted prometheus.Counter
	feedbackSurfaced    prometheus.Counter
	openTerminals       prometheus.Gauge
	pendingPermissions  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		capabilityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_calls_total",
			Help:      "Agent requests served, by method and result.",
		}, []string{"method", "result"}),
		hookExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_executions_total",
			Help:      "Hook rule evaluations, by event and outcome.",
		}, []string{"event", "outcome"}),
		hookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hook_duration_seconds",
			Help:      "Time spent running hook rules.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"event"}),
		feedbackResubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_resubmitted_total",
			Help:      "Hook feedback sent back to the agent as a new turn.",
		}),
		feedbackSurfaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_surfaced_total",
			Help:      "Hook feedback left for the user once the budget ran out.",
		}),
		openTerminals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_terminals",
			Help:      "Terminals whose command is still running.",
		}),
		pendingPermissions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_permissions",
			Help:      "Permission requests waiting for an answer.",
		}),
	}
	m.registry.MustRegister(
		m.capabilityCalls,
		m.hookExecutions,
		m.hookDuration,
		m.feedbackResubmitted,
		m.feedbackSurfaced,
		m.openTerminals,
		m.pendingPermissions,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry is the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) HookExecuted(event hooks.Event, outcome string, d time.Duration) {
	m.hookExecutions.WithLabelValues(string(event), outcome).Inc()
	m.hookDuration.WithLabelValues(string(event)).Observe(d.Seconds())
}

func (m *Metrics) CapabilityCall(method, result string) {
	m.capabilityCalls.WithLabelValues(method, result).Inc()
}

func (m *Metrics) FeedbackResubmitted() { m.feedbackResubmitted.Inc() }

func (m *Metrics) FeedbackSurfaced() { m.feedbackSurfaced.Inc() }

func (m *Metrics) SetOpenTerminals(n int) { m.openTerminals.Set(float64(n)) }

func (m *Metrics) SetPendingPermissions(n int) { m.pendingPermissions.Set(float64(n)) }

// Server serves /metrics.
type Server struct {
	listen string
	m      *Metrics
	log    logr.Logger
	server *http.Server
	addr   net.Addr
}

func NewServer(listen string, m *Metrics, log logr.Logger) *Server {
	return &Server{listen: listen, m: m, log: log.WithName("metrics")}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.m.registry, promhttp.HandlerOpts{Registry: s.m.registry}))
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	s.addr = ln.Addr()
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		s.log.Info("metrics server listening", "addr", s.addr.String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(err, "metrics server error")
		}
	}()
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

func (s *Server) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}
