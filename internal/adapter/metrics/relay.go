package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics holds Prometheus metrics for the routing and arbitration engine.
type RelayMetrics struct {
	Groups             *prometheus.GaugeVec
	MessagesReceived   *prometheus.CounterVec
	MalformedMessages  prometheus.Counter
	QueueOverflows     *prometheus.CounterVec
	FramesSent         *prometheus.CounterVec
	SendFailures       prometheus.Counter
	AnswersForwarded   prometheus.Counter
	AnswersDiscarded   *prometheus.CounterVec
	OutstandingDropped prometheus.Counter
	Outstanding        prometheus.Gauge
	GroupsEvicted      prometheus.Counter
	AuthorityDenied    prometheus.Counter
	TickDuration       prometheus.Histogram
	CommandQueueDepth  prometheus.Gauge
}

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		Groups: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "groups",
			Help:      "Number of live groups by namespace.",
		}, []string{"namespace"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_received_total",
			Help:      "Validated inbound messages by namespace and role.",
		}, []string{"namespace", "role"}),
		MalformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "malformed_messages_total",
			Help:      "Inbound frames rejected by the schema check.",
		}),
		QueueOverflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "queue_overflows_total",
			Help:      "Messages dropped from the head of a full queue.",
		}, []string{"queue"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_sent_total",
			Help:      "Outbound frames handed to the transport by kind.",
		}, []string{"kind"}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "send_failures_total",
			Help:      "Outbound frames the transport refused.",
		}),
		AnswersForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "answers_forwarded_total",
			Help:      "Answers forwarded to a master (first answer per message id).",
		}),
		AnswersDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "answers_discarded_total",
			Help:      "Answers dropped during arbitration by reason.",
		}, []string{"reason"}),
		OutstandingDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "outstanding_dropped_total",
			Help:      "Outstanding questions dropped by the outstanding limit or group eviction.",
		}),
		Outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "outstanding_questions",
			Help:      "Questions awaiting a first answer across all groups.",
		}),
		GroupsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "groups_evicted_total",
			Help:      "Idle groups removed from the directory.",
		}),
		AuthorityDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "authority_denied_total",
			Help:      "Master messages dropped because the sender could not claim the group.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one dispatch pass over all groups.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5},
		}),
		CommandQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "command_queue_depth",
			Help:      "Pending commands in the engine's command channel.",
		}),
	}

	reg.MustRegister(
		m.Groups, m.MessagesReceived, m.MalformedMessages, m.QueueOverflows,
		m.FramesSent, m.SendFailures, m.AnswersForwarded, m.AnswersDiscarded,
		m.OutstandingDropped, m.Outstanding, m.GroupsEvicted, m.AuthorityDenied,
		m.TickDuration, m.CommandQueueDepth,
	)
	return m
}
