package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/boringprotocol/boring-bird/internal/model"
)

const namespace = "boring_bird"

// Metrics holds the relay's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	polls          *prometheus.CounterVec
	recordsFetched prometheus.Gauge
	transitions    prometheus.Counter
	notifications  *prometheus.CounterVec
	ticksSkipped   prometheus.Counter
	pollDuration   prometheus.Summary
	lastSuccessTS  prometheus.Gauge
	stateEntries   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Poll cycles by result",
		}, []string{"result"}),
		recordsFetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_fetched",
			Help:      "Records returned by the last successful fetch",
		}),
		transitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Records observed entering the trigger status",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Publish calls by sink and result",
		}, []string{"sink", "result"}),
		ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Ticks skipped because the previous cycle was still running",
		}),
		pollDuration: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Time spent in one poll cycle",
		}),
		lastSuccessTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful poll cycle",
		}),
		stateEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state_entries",
			Help:      "Records tracked in the status map",
		}),
	}
	reg.MustRegister(
		m.polls, m.recordsFetched, m.transitions, m.notifications,
		m.ticksSkipped, m.pollDuration, m.lastSuccessTS, m.stateEntries,
	)
	return m
}

// PollSucceeded records a completed cycle.
func (m *Metrics) PollSucceeded(at time.Time, took time.Duration, fetched, changed, tracked int) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues("ok").Inc()
	m.pollDuration.Observe(took.Seconds())
	m.recordsFetched.Set(float64(fetched))
	m.transitions.Add(float64(changed))
	m.stateEntries.Set(float64(tracked))
	m.lastSuccessTS.Set(float64(at.Unix()))
}

// PollFailed records a cycle aborted by a fetch error.
func (m *Metrics) PollFailed(took time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues("error").Inc()
	m.pollDuration.Observe(took.Seconds())
}

// Seeded records the initial size of the status map.
func (m *Metrics) Seeded(tracked int) {
	if m == nil {
		return
	}
	m.stateEntries.Set(float64(tracked))
}

func (m *Metrics) TickSkipped() {
	if m == nil {
		return
	}
	m.ticksSkipped.Inc()
}

// Published counts one publish attempt.
func (m *Metrics) Published(res model.Result) {
	if m == nil {
		return
	}
	result := "ok"
	if !res.OK() {
		result = "error"
	}
	m.notifications.WithLabelValues(res.Sink, result).Inc()
}
