package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	SessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xrecorder_session_active",
		Help: "1 while a recording session is starting, recording or stopping",
	})
	LiveDisplays = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xrecorder_capture_live_displays",
		Help: "Number of capture displays currently streaming frames",
	})
)

// Counters
var (
	SessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrecorder_sessions_started_total",
		Help: "Sessions that reached the recording state",
	})
	StartFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrecorder_start_failures_total",
		Help: "Start attempts that failed, by reason",
	}, []string{"reason"})
	StartIgnoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrecorder_start_ignored_total",
		Help: "Start requests ignored because a session was already in progress",
	})
	RevocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrecorder_revocations_total",
		Help: "Capture grants revoked by the system while in use",
	})
	TeardownStepFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrecorder_teardown_step_failures_total",
		Help: "Teardown steps that returned an error or panicked, by step",
	}, []string{"step"})
	FinalizeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xrecorder_finalize_failures_total",
		Help: "Recordings that could not be made visible",
	})
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xrecorder_commands_total",
		Help: "Control commands dispatched, by type and outcome",
	}, []string{"type", "outcome"})
)

// Histograms
var (
	TeardownLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xrecorder_teardown_duration_ms",
		Help:    "Time from stop request to output finalized in milliseconds",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xrecorder_session_duration_seconds",
		Help:    "Length of completed recording sessions",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
	})
)
