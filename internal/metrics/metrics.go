package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chat client metrics
var (
	TurnsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bingchat_turns_started_total",
			Help: "Turns whose invocation reached the chat hub",
		},
	)

	// TurnsTotal counts finished turns by outcome: failed, completed,
	// incomplete. Every turn is counted once.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bingchat_turns_total",
			Help: "Total number of chat turns by outcome",
		},
		[]string{"status"},
	)

	BusyRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bingchat_busy_rejections_total",
			Help: "Turns rejected because another turn was in flight",
		},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bingchat_events_total",
			Help: "Conversation events delivered to callers",
		},
		[]string{"kind"},
	)

	// FramesSkippedTotal counts inbound frames dropped by the demultiplexer.
	// reason: invalid_json, missing_type, missing_text, unexpected_type,
	// unknown_type
	FramesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bingchat_frames_skipped_total",
			Help: "Inbound frames skipped while streaming a turn",
		},
		[]string{"reason"},
	)

	BootstrapDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bingchat_bootstrap_duration_seconds",
			Help:    "Conversation creation request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"status"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bingchat_turn_duration_seconds",
			Help:    "Time from sending a turn until its stream ends",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		},
	)
)
