// Package metrics defines the Prometheus instrumentation for the relay:
// frame and command throughput, retransmits, RTT, and per-room occupancy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the relay registers.
type Metrics struct {
	FramesReceived   *prometheus.CounterVec
	FramesSent       *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	BytesReceived    prometheus.Counter
	BytesSent        prometheus.Counter
	Retransmits      prometheus.Counter
	DuplicateFrames  prometheus.Counter
	RoundTripTime    prometheus.Histogram
	RoomsActive      prometheus.Gauge
	MembersConnected prometheus.Gauge
	CommandsApplied  *prometheus.CounterVec
	ChannelOverflows *prometheus.CounterVec
}

// New creates and registers the relay's metrics against the default
// Prometheus registry.
func New() *Metrics {
	return &Metrics{
		FramesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_frames_received_total",
				Help: "Total number of frames successfully decoded.",
			},
			[]string{"reliable"},
		),
		FramesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_frames_sent_total",
				Help: "Total number of frames encoded and written to the socket.",
			},
			[]string{"reliable"},
		),
		FramesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_frames_dropped_total",
				Help: "Total number of inbound datagrams dropped, by error kind.",
			},
			[]string{"kind"},
		),
		BytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_bytes_received_total",
			Help: "Total bytes read from the UDP socket.",
		}),
		BytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_bytes_sent_total",
			Help: "Total bytes written to the UDP socket.",
		}),
		Retransmits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_retransmits_total",
			Help: "Total number of reliable frames resent before being acked.",
		}),
		DuplicateFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_duplicate_frames_total",
			Help: "Total number of inbound frames recognized as duplicates and dropped.",
		}),
		RoundTripTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_rtt_seconds",
			Help:    "Smoothed round trip time samples across all connections.",
			Buckets: []float64{.005, .01, .025, .05, .1, .2, .3, .5, .75, 1},
		}),
		RoomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relay_rooms_active",
			Help: "Number of currently active rooms.",
		}),
		MembersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relay_members_connected",
			Help: "Number of currently connected members across all rooms.",
		}),
		CommandsApplied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_commands_applied_total",
				Help: "Total number of commands applied by the room executor, by type.",
			},
			[]string{"type"},
		),
		ChannelOverflows: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_channel_overflows_total",
				Help: "Total number of reorder-buffer overflows, by channel group.",
			},
			[]string{"group"},
		),
	}
}
