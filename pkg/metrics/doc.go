/*
Package metrics provides Prometheus metrics collection and exposition for
raftnode.

The metrics package defines and registers Raft metrics using the Prometheus
client library: leader status, term, log/commit/applied indices, election
and vote counters, and RPC/apply/commit latency histograms. Metrics are
exposed via HTTP for scraping by Prometheus servers.

# Usage

	http.Handle("/metrics", metrics.Handler())

	collector := metrics.NewCollector(server)
	collector.Start()
	defer collector.Stop()

Timing an operation:

	timer := metrics.NewTimer()
	applyToStateMachine(entry)
	timer.ObserveDuration(metrics.RaftApplyDuration)

Health and readiness are tracked separately (see health.go):

	metrics.RegisterComponent("raft", true, "")
	metrics.RegisterComponent("transport", true, "")
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
	http.Handle("/live", metrics.LivenessHandler())
*/
package metrics
