package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	turns        *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	planSteps    prometheus.Histogram
	agentCalls   *prometheus.CounterVec
	retries      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arassist",
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"mode", "outcome"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arassist",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a turn from routing to persistence.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"mode"}),
		planSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arassist",
			Name:      "plan_steps",
			Help:      "Steps in each plan produced by the router.",
			Buckets:   prometheus.LinearBuckets(0, 1, 9),
		}),
		agentCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arassist",
			Name:      "agent_calls_total",
			Help:      "Remote agent invocations by agent and outcome.",
		}, []string{"agent", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arassist",
			Name:      "retries_total",
			Help:      "Rate-limited calls that were retried, by source.",
		}, []string{"source"}),
	}
	if reg != nil {
		reg.MustRegister(m.turns, m.turnDuration, m.planSteps, m.agentCalls, m.retries)
	}
	return m
}

func (m *Metrics) turn(mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(mode, outcome).Inc()
	m.turnDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *Metrics) plan(steps int) {
	if m == nil {
		return
	}
	m.planSteps.Observe(float64(steps))
}

func (m *Metrics) agentCall(agent, outcome string) {
	if m == nil {
		return
	}
	m.agentCalls.WithLabelValues(agent, outcome).Inc()
}

// RetryHook returns an llm.RetryPolicy OnRetry callback counting retries
// under source.
func (m *Metrics) RetryHook(source string) func(attempt int, delay time.Duration, err error) {
	return func(int, time.Duration, error) {
		if m == nil {
			return
		}
		m.retries.WithLabelValues(source).Inc()
	}
}
