// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinkBytesTotal counts raw serial bytes by direction (rx, tx)
	LinkBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmcam_link_bytes_total",
			Help: "Total number of bytes read from or written to the serial link",
		},
		[]string{"direction"},
	)

	// FramesTotal counts inbound frames by parse result
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmcam_frames_total",
			Help: "Total number of inbound frames by result (ok, cobs_error, checksum_error, malformed)",
		},
		[]string{"result"},
	)

	// DispatchTotal counts routed publishes by topic and outcome
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmcam_dispatch_total",
			Help: "Total number of routed publishes by outcome (dispatched, suppressed, unhandled, failed)",
		},
		[]string{"topic", "outcome"},
	)

	// DedupEntries tracks the size of the duplicate-suppression cache
	DedupEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bmcam_dedup_entries",
			Help: "Number of entries in the duplicate-suppression cache",
		},
	)

	// TransferLinesTotal counts chunked-transfer lines sent
	TransferLinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmcam_transfer_lines_total",
			Help: "Total number of chunked-transfer lines sent (start, segment and end markers)",
		},
		[]string{"kind"},
	)

	// TransferSessionsTotal counts reassembled sessions by result
	TransferSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmcam_transfer_sessions_total",
			Help: "Total number of reassembled transfer sessions by result (complete, partial, empty, failed)",
		},
		[]string{"kind", "result"},
	)

	// CameraLockBusyTotal counts triggers dropped because the camera was busy
	CameraLockBusyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmcam_camera_lock_busy_total",
			Help: "Total number of camera triggers dropped on lock timeout",
		},
		[]string{"op"},
	)

	// ClockEvaluationsTotal counts clock reference evaluations by result
	ClockEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmcam_clock_evaluations_total",
			Help: "Total number of clock reference evaluations by result",
		},
		[]string{"result"},
	)

	// ClockDriftSeconds is the most recently computed drift (reference - local)
	ClockDriftSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bmcam_clock_drift_seconds",
			Help: "Most recent drift between the reference clock and the local clock in seconds",
		},
	)
)
