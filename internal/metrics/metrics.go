package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "node",
		Name:      "messages_total",
		Help:      "Total messages received/sent",
	}, []string{"direction", "type"})

	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "node",
		Name:      "dropped_total",
		Help:      "Inbound messages dropped without handling",
	}, []string{"reason"})

	DecodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "node",
		Name:      "decode_errors_total",
		Help:      "Input lines that could not be decoded",
	})

	EncodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "node",
		Name:      "encode_errors_total",
		Help:      "Outbound envelopes that could not be encoded",
	})

	HandleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "replikit",
		Subsystem: "node",
		Name:      "handle_duration_seconds",
		Help:      "Handler processing duration",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 20),
	}, []string{"type"})

	InboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "replikit",
		Subsystem: "node",
		Name:      "inbox_depth",
		Help:      "Events waiting for the handler",
	})

	PendingReplies = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "replikit",
		Subsystem: "node",
		Name:      "pending_replies",
		Help:      "Outstanding calls awaiting a reply",
	})

	PendingExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "node",
		Name:      "pending_expired_total",
		Help:      "Calls whose reply slot expired unanswered",
	})

	ForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "node",
		Name:      "forwarded_total",
		Help:      "Client requests proxied to another node",
	}, []string{"type"})

	BroadcastValues = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "replikit",
		Subsystem: "broadcast",
		Name:      "values",
		Help:      "Distinct values delivered on this node",
	})

	GossipBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "replikit",
		Subsystem: "gossip",
		Name:      "batch_size",
		Help:      "Entries per gossip message",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"workload"})

	GossipAckedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "gossip",
		Name:      "acked_total",
		Help:      "Gossip messages acknowledged by peers",
	}, []string{"workload"})

	CounterValue = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "replikit",
		Subsystem: "counter",
		Name:      "value",
		Help:      "Locally observed counter total",
	})

	LogAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "log",
		Name:      "appends_total",
		Help:      "Entries appended by the leader",
	})

	LogCommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "log",
		Name:      "quorum_commits_total",
		Help:      "Entries acknowledged once a quorum formed",
	})

	LogPendingAppends = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "replikit",
		Subsystem: "log",
		Name:      "pending_appends",
		Help:      "Appends waiting for a quorum",
	})

	LogAcksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "log",
		Name:      "acks_total",
		Help:      "Replication acknowledgements by outcome",
	}, []string{"result"})

	LogRetransmitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "log",
		Name:      "retransmits_total",
		Help:      "Replicate messages re-sent to replicas that had not acknowledged",
	})

	LogUnacked = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "replikit",
		Subsystem: "log",
		Name:      "unacked_entries",
		Help:      "Entries the leader still has to deliver, summed over replicas",
	})

	LogExpiredAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "log",
		Name:      "expired_appends_total",
		Help:      "Parked client sends dropped before a quorum formed",
	})

	TxnTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "txn",
		Name:      "total",
		Help:      "Transactions executed",
	}, []string{"isolation"})

	TxnRemoteWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "txn",
		Name:      "remote_writes_total",
		Help:      "Replicated writes received from peers",
	}, []string{"result"})

	JournalWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "journal",
		Name:      "writes_total",
		Help:      "Total journal records written",
	})

	JournalWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replikit",
		Subsystem: "journal",
		Name:      "write_errors_total",
		Help:      "Journal records that failed to persist",
	})

	JournalWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "replikit",
		Subsystem: "journal",
		Name:      "write_duration_seconds",
		Help:      "Journal write duration",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 20),
	})
)
