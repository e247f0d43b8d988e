package workflow

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the workflow subsystem.
type Metrics struct {
	InstancesTotal   *prometheus.CounterVec
	InstanceDuration *prometheus.HistogramVec
	ReplayedSteps    prometheus.Histogram
	StepsTotal       *prometheus.CounterVec
	StepDuration     *prometheus.HistogramVec
	StepAttempts     *prometheus.HistogramVec
	SubmitsTotal     *prometheus.CounterVec
}

// NewMetrics registers and returns workflow metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InstancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prealert_workflow_instances_total",
			Help: "Workflow runs by resulting status and error kind.",
		}, []string{"status", "error_kind"}),
		InstanceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prealert_workflow_run_duration_seconds",
			Help:    "Duration of workflow runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s .. ~17m
		}, []string{"status"}),
		ReplayedSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prealert_workflow_replayed_steps",
			Help:    "Steps replayed from checkpoints per workflow run.",
			Buckets: prometheus.LinearBuckets(0, 1, 7), // 0 .. 6
		}),
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prealert_workflow_step_attempts_total",
			Help: "Step attempts by step and outcome.",
		}, []string{"step", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prealert_workflow_step_duration_seconds",
			Help:    "Duration of single step attempts in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"step", "outcome"}),
		StepAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prealert_workflow_step_attempt_number",
			Help:    "Attempt number at which a step attempt finished.",
			Buckets: prometheus.LinearBuckets(1, 1, 10), // 1 .. 10
		}, []string{"step"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prealert_submits_total",
			Help: "Total inbound email submissions by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.InstancesTotal,
		m.InstanceDuration,
		m.ReplayedSteps,
		m.StepsTotal,
		m.StepDuration,
		m.StepAttempts,
		m.SubmitsTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnStep: func(step StepName, outcome string, attempts int, duration float64) {
			m.StepsTotal.WithLabelValues(string(step), outcome).Inc()
			m.StepDuration.WithLabelValues(string(step), outcome).Observe(duration)
			m.StepAttempts.WithLabelValues(string(step)).Observe(float64(attempts))
		},
		OnComplete: func(e *CompleteEvent) {
			m.InstancesTotal.WithLabelValues(string(e.Status), e.ErrorKind).Inc()
			m.InstanceDuration.WithLabelValues(string(e.Status)).Observe(e.Duration)
			m.ReplayedSteps.Observe(float64(e.Replayed))
		},
	}
}
