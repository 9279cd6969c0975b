// Package metrics exposes harness activity as Prometheus metrics, fed by lifecycle hooks.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/replayfuzz/pkg/domain"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	trials        *prometheus.CounterVec
	trialDuration prometheus.Histogram
	messages      *prometheus.CounterVec
	serverStarts  *prometheus.CounterVec
	startDuration prometheus.Histogram
	serverUptime  prometheus.Histogram
	coverage      *prometheus.CounterVec
}

// New registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		trials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replayfuzz_trials_total",
				Help: "Trials consumed, by outcome and pair",
			},
			[]string{"outcome", "state", "media"},
		),
		trialDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "replayfuzz_trial_duration_seconds",
			Help:    "Duration of the conversation of a trial",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replayfuzz_messages_total",
				Help: "Messages sent to the target, by phase and whether it answered",
			},
			[]string{"phase", "responded"},
		),
		serverStarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replayfuzz_server_starts_total",
				Help: "Server launches, by result",
			},
			[]string{"result"},
		),
		startDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "replayfuzz_server_start_seconds",
			Help:    "Time from launch until the server accepted connections",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		serverUptime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "replayfuzz_server_uptime_seconds",
			Help:    "Lifetime of a server instance",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		coverage: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replayfuzz_coverage_claims_total",
				Help: "Coverage claim attempts, by whether a dump was found",
			},
			[]string{"found"},
		),
	}

	m.registry.MustRegister(
		m.trials, m.trialDuration, m.messages,
		m.serverStarts, m.startDuration, m.serverUptime, m.coverage,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hooks returns lifecycle hooks that record into the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTrialEnd: func(ctx context.Context, e *domain.TrialEvent) {
			if e.Result == nil {
				return
			}
			m.trials.WithLabelValues(string(e.Result.Outcome), e.Trial.State, e.Trial.Media).Inc()
			if e.Result.Duration > 0 {
				m.trialDuration.Observe(e.Result.Duration.Seconds())
			}
		},
		OnMessage: func(ctx context.Context, e *domain.MessageEvent) {
			m.messages.WithLabelValues(string(e.Message.Phase), strconv.FormatBool(e.Message.Responded)).Inc()
		},
		OnServerStart: func(ctx context.Context, e *domain.ServerEvent) {
			if e.Err != nil {
				m.serverStarts.WithLabelValues("error").Inc()
				return
			}
			m.serverStarts.WithLabelValues("ok").Inc()
			m.startDuration.Observe(e.Duration.Seconds())
		},
		OnServerStop: func(ctx context.Context, e *domain.ServerEvent) {
			m.serverUptime.Observe(e.Duration.Seconds())
		},
		OnCoverage: func(ctx context.Context, e *domain.CoverageEvent) {
			m.coverage.WithLabelValues(strconv.FormatBool(e.Path != "")).Inc()
		},
	}
}
