package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RaftLeader reports whether this node is the Raft leader (1 = leader, 0 = not).
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftnode_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower/candidate)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftnode_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftCurrentTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftnode_raft_current_term",
			Help: "Current Raft term",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftnode_raft_log_index",
			Help: "Index of the last log entry",
		},
	)

	RaftCommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftnode_raft_commit_index",
			Help: "Highest known committed log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftnode_raft_applied_index",
			Help: "Last log index applied to the state machine",
		},
	)

	RaftElectionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftnode_raft_elections_started_total",
			Help: "Total number of elections this node has started as a candidate",
		},
	)

	RaftVotesGranted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftnode_raft_votes_granted_total",
			Help: "Total number of vote requests this node has granted",
		},
	)

	RaftHeartbeatsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftnode_raft_heartbeats_sent_total",
			Help: "Total number of heartbeat AppendEntries RPCs sent as leader",
		},
	)

	RaftRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raftnode_raft_rpc_duration_seconds",
			Help:    "Transport round-trip duration by RPC kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"rpc"},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raftnode_raft_apply_duration_seconds",
			Help:    "Time taken to apply a committed log entry to the state machine",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raftnode_raft_commit_duration_seconds",
			Help:    "Time from a leader appending an entry to it becoming committed",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		RaftLeader,
		RaftPeers,
		RaftCurrentTerm,
		RaftLogIndex,
		RaftCommitIndex,
		RaftAppliedIndex,
		RaftElectionsStarted,
		RaftVotesGranted,
		RaftHeartbeatsSent,
		RaftRPCDuration,
		RaftApplyDuration,
		RaftCommitDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
