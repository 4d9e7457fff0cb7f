package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicbridge",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "musicbridge",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"method", "path"})

	HTTPRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "musicbridge",
		Name:      "http_requests_in_flight",
		Help:      "Number of HTTP requests currently being served.",
	})

	LibrarySongs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "musicbridge",
		Name:      "library_songs",
		Help:      "Number of songs in the current library snapshot.",
	})

	LibraryRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicbridge",
		Name:      "library_refresh_total",
		Help:      "Total library refreshes by trigger reason.",
	}, []string{"reason"})

	LibraryRefreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "musicbridge",
		Name:      "library_refresh_duration_seconds",
		Help:      "Duration of a full library refresh in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	LibrarySongsReused = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "musicbridge",
		Name:      "library_songs_reused_total",
		Help:      "Songs carried over from the previous snapshot without probing.",
	})

	LibrarySongsProbed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "musicbridge",
		Name:      "library_songs_probed_total",
		Help:      "Songs whose tags were extracted by a probe run.",
	})

	PlaybackStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "musicbridge",
		Name:      "playback_started_total",
		Help:      "Total songs started on the speaker.",
	})

	PlaybackStoppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicbridge",
		Name:      "playback_stopped_total",
		Help:      "Total playback stops by reason.",
	}, []string{"reason"})

	QueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "musicbridge",
		Name:      "queue_length",
		Help:      "Number of songs waiting in the playback queue.",
	})

	ReplyInterruptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "musicbridge",
		Name:      "reply_interrupts_total",
		Help:      "Total speaker replies cut short by the reply interrupter.",
	})

	DeviceCommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicbridge",
		Name:      "device_commands_total",
		Help:      "Total device commands sent by command name.",
	}, []string{"command"})

	DeviceCommandFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicbridge",
		Name:      "device_command_failures_total",
		Help:      "Total device command failures by command name.",
	}, []string{"command"})

	SpeakerConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "musicbridge",
		Name:      "speaker_connected",
		Help:      "1 when a speaker agent link is established, else 0.",
	})

	DispatcherEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicbridge",
		Name:      "dispatcher_events_total",
		Help:      "Total speaker events by dispatch route.",
	}, []string{"route"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRequestsInFlight,
		LibrarySongs,
		LibraryRefreshTotal,
		LibraryRefreshDuration,
		LibrarySongsReused,
		LibrarySongsProbed,
		PlaybackStartedTotal,
		PlaybackStoppedTotal,
		QueueLength,
		ReplyInterruptsTotal,
		DeviceCommandsTotal,
		DeviceCommandFailures,
		SpeakerConnected,
		DispatcherEventsTotal,
	)
}
