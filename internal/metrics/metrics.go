package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Client-side synchronization engine metrics.
var (
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_frames_received_total",
			Help: "Inbound frames dispatched, by frame type",
		},
		[]string{"type"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_frames_dropped_total",
			Help: "Inbound frames ignored by the dispatcher, by reason",
		},
		[]string{"reason"}, // "unknown", "malformed", "self_echo"
	)

	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_frames_sent_total",
			Help: "Outbound frames enqueued, by frame type",
		},
		[]string{"type"},
	)

	OutboundDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_outbound_dropped_total",
			Help: "Outbound frames dropped because the send buffer was full or the connection was down",
		},
	)

	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_connection_state",
			Help: "Connection state: 0=disconnected 1=connecting 2=open 3=closed 4=errored",
		},
	)

	PresenceMutations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_presence_mutations_total",
			Help: "Presence events applied to the cache after debouncing",
		},
	)

	PresenceEventsCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_presence_events_coalesced_total",
			Help: "Presence events superseded by a later event for the same user inside the debounce window",
		},
	)

	HistoryFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatsync_history_fetch_duration_seconds",
			Help:    "Duration of conversation history page fetches",
			Buckets: prometheus.DefBuckets,
		},
	)

	HistoryFetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_history_fetch_errors_total",
			Help: "Failed conversation history page fetches",
		},
	)

	HistoryResultsDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_history_results_discarded_total",
			Help: "History pages discarded because the conversation changed while the fetch was in flight",
		},
	)

	UnreadSenders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_unread_senders",
			Help: "Distinct senders with unread messages",
		},
	)

	CollaboratorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "HTTP collaborator requests, by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"}, // outcome: "success", "failure", "rejected"
	)
)

// Relay metrics.
var (
	RelayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_relay_connections",
			Help: "Websocket clients connected to the relay",
		},
	)

	RelayMessagesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_relay_messages_stored_total",
			Help: "Private messages persisted by the relay",
		},
	)
)
