package metrics

import (
	"time"

	"github.com/cuemby/raftnode/pkg/raft"
)

// Collector periodically samples a raft.Server's gauges into the package's
// Prometheus metrics. Counters (elections, votes, heartbeats) are
// incremented by the caller at the point of the event instead, since a
// periodic sample can't distinguish "zero events" from "missed a sample".
type Collector struct {
	server *raft.Server
	stopCh chan struct{}
}

// NewCollector creates a metrics collector for server.
func NewCollector(server *raft.Server) *Collector {
	return &Collector{
		server: server,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic collection on its own goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.server.Role() == raft.Leader {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	RaftPeers.Set(float64(c.server.NodeCount()))
	RaftCurrentTerm.Set(float64(c.server.CurrentTerm()))
	RaftLogIndex.Set(float64(c.server.Log().CurrentIndex()))
	RaftCommitIndex.Set(float64(c.server.CommitIndex()))
	RaftAppliedIndex.Set(float64(c.server.LastApplied()))
}
