// Package transport carries RequestVote and AppendEntries RPCs between
// raftnode peers. pkg/raft never calls a Transport directly — the core
// returns an Outbox of messages to send, and the caller (pkg/agent) drains
// it through a Transport. This keeps the core synchronous and lets tests
// swap a real network for an in-process Loopback.
package transport

import (
	"context"

	"github.com/cuemby/raftnode/pkg/raft"
)

// Transport sends the two Raft RPCs to a named peer and waits for the
// response. Implementations may drop, delay, or reorder messages; the core
// tolerates all three (spec §6). A context deadline bounds the wait.
//
// AppendEntriesRequest's wire shape (§6) carries no leader id, so the
// sender's identity travels alongside the request rather than inside it;
// from is always the caller's own node id.
type Transport interface {
	SendVoteRequest(ctx context.Context, peer raft.NodeId, req raft.VoteRequest) (raft.VoteResponse, error)
	SendAppendEntries(ctx context.Context, peer raft.NodeId, from raft.NodeId, req raft.AppendEntriesRequest) (raft.AppendEntriesResponse, error)
}

// RaftService is the receiving side: what a peer exposes to satisfy
// inbound RequestVote/AppendEntries calls. pkg/agent implements this by
// funneling both into its single-threaded event loop before calling into
// a *raft.Server.
type RaftService interface {
	RequestVote(ctx context.Context, req raft.VoteRequest) (raft.VoteResponse, error)
	AppendEntries(ctx context.Context, from raft.NodeId, req raft.AppendEntriesRequest) (raft.AppendEntriesResponse, error)
}
