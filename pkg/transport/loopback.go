package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/raftnode/pkg/raft"
)

// Loopback is an in-process Transport used by tests and by single-binary
// demos that run several Servers in one process: sends are direct calls
// into the destination's RaftService, with no network and no marshaling.
type Loopback struct {
	mu    sync.RWMutex
	peers map[raft.NodeId]RaftService
}

// NewLoopback returns an empty registry; peers register themselves with
// Register before any message addressed to them can be delivered.
func NewLoopback() *Loopback {
	return &Loopback{peers: make(map[raft.NodeId]RaftService)}
}

// Register associates a NodeId with the service that answers its RPCs.
func (l *Loopback) Register(id raft.NodeId, svc RaftService) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.peers[id] = svc
}

// Unregister removes a peer, simulating it going permanently dark.
func (l *Loopback) Unregister(id raft.NodeId) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.peers, id)
}

func (l *Loopback) lookup(id raft.NodeId) (RaftService, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	svc, ok := l.peers[id]
	if !ok {
		return nil, fmt.Errorf("loopback: no peer registered for node %d", id)
	}
	return svc, nil
}

func (l *Loopback) SendVoteRequest(ctx context.Context, peer raft.NodeId, req raft.VoteRequest) (raft.VoteResponse, error) {
	svc, err := l.lookup(peer)
	if err != nil {
		return raft.VoteResponse{}, err
	}
	return svc.RequestVote(ctx, req)
}

func (l *Loopback) SendAppendEntries(ctx context.Context, peer raft.NodeId, from raft.NodeId, req raft.AppendEntriesRequest) (raft.AppendEntriesResponse, error) {
	svc, err := l.lookup(peer)
	if err != nil {
		return raft.AppendEntriesResponse{}, err
	}
	return svc.AppendEntries(ctx, from, req)
}
