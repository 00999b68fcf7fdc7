package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the executor's Prometheus collectors.
type Metrics struct {
	InstancesStarted  *prometheus.CounterVec
	InstancesFinished *prometheus.CounterVec
	InstanceDuration  *prometheus.HistogramVec
	Transitions       *prometheus.CounterVec
	RunsFinished      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InstancesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestra_instances_started_total",
				Help: "Total number of state instances started",
			},
			[]string{"state", "type"},
		),
		InstancesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestra_instances_finished_total",
				Help: "Total number of state instances finished, by final status",
			},
			[]string{"state", "status"},
		),
		InstanceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestra_instance_duration_seconds",
				Help:    "Duration of state instances from start to finish",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"state"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestra_transitions_total",
				Help: "Total number of transitions taken",
			},
			[]string{"from", "to", "type"},
		),
		RunsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestra_runs_finished_total",
				Help: "Total number of runs and branches ended, by status",
			},
			[]string{"status", "branch"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.InstancesStarted, m.InstancesFinished, m.InstanceDuration, m.Transitions, m.RunsFinished)
	}
	return m
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnInstanceStart: func(_ context.Context, e *domain.InstanceEvent) {
			m.InstancesStarted.WithLabelValues(e.StateName, string(e.StateType)).Inc()
		},
		OnInstanceEnd: func(_ context.Context, e *domain.InstanceEvent) {
			m.InstancesFinished.WithLabelValues(e.StateName, string(e.Status)).Inc()
			if e.Duration > 0 {
				m.InstanceDuration.WithLabelValues(e.StateName).Observe(e.Duration.Seconds())
			}
		},
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			m.Transitions.WithLabelValues(e.From, e.To, string(e.Type)).Inc()
		},
		OnRunEnd: func(_ context.Context, e *domain.RunEvent) {
			branch := "false"
			if e.Branch {
				branch = "true"
			}
			m.RunsFinished.WithLabelValues(string(e.Status), branch).Inc()
		},
	}
}

// LogHooks returns lifecycle hooks that log every event through logger.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnInstanceStart: func(ctx context.Context, e *domain.InstanceEvent) {
			logger.DebugContext(ctx, "instance_start", "run_id", e.RunID, "instance_id", e.InstanceID, "state", e.StateName, "type", e.StateType)
		},
		OnInstanceEnd: func(ctx context.Context, e *domain.InstanceEvent) {
			logger.DebugContext(ctx, "instance_end", "run_id", e.RunID, "instance_id", e.InstanceID, "state", e.StateName, "status", e.Status, "duration", e.Duration)
		},
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			logger.DebugContext(ctx, "transition", "run_id", e.RunID, "from", e.From, "to", e.To, "type", e.Type)
		},
		OnRunEnd: func(ctx context.Context, e *domain.RunEvent) {
			logger.InfoContext(ctx, "run_end", "run_id", e.RunID, "state", e.StateName, "status", e.Status, "branch", e.Branch, "error", e.ErrorMessage)
		},
	}
}
