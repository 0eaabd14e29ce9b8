package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "Telemetry connections currently bound to a token",
	})

	ConnectionsDisplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_displaced_total",
		Help: "Connections closed because a newer handshake used the same token",
	})

	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_auth_failures_total",
		Help: "Rejected telemetry handshakes by reason",
	}, []string{"reason"})

	TelemetryUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_telemetry_updates_total",
		Help: "Telemetry snapshots written",
	})

	SnapshotsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_snapshots_evicted_total",
		Help: "Snapshots released after their grace period",
	})

	AudioJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_audio_jobs_total",
		Help: "Audio jobs by outcome (rendered, failed, dropped, flushed)",
	}, []string{"outcome"})

	AudioRenderSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_audio_render_seconds",
		Help:    "Time spent in the renderer per job",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	TipsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_tips_deduplicated_total",
		Help: "Tips dropped because they repeat a recently delivered tip",
	})

	RoomTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_room_transitions_total",
		Help: "Room monitoring state transitions",
	}, []string{"from", "to"})
)
