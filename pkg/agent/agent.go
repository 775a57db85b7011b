// Package agent wires a raft.Server to a real clock and a real transport:
// a single goroutine owns the Server and serializes every tick, inbound
// RPC, and proposal through one event loop, satisfying the core's
// reentrancy contract without the core ever knowing a goroutine exists.
package agent

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/cuemby/raftnode/pkg/log"
	"github.com/cuemby/raftnode/pkg/metrics"
	"github.com/cuemby/raftnode/pkg/raft"
	"github.com/cuemby/raftnode/pkg/statemachine"
	"github.com/cuemby/raftnode/pkg/storage"
	"github.com/cuemby/raftnode/pkg/transport"
)

type voteCall struct {
	req  raft.VoteRequest
	resp chan raft.VoteResponse
	err  chan error
}

type appendCall struct {
	from raft.NodeId
	req  raft.AppendEntriesRequest
	resp chan raft.AppendEntriesResponse
	err  chan error
}

type proposeCall struct {
	cmd  statemachine.Command
	done chan error
}

type voteResponseEvent struct {
	from raft.NodeId
	resp raft.VoteResponse
}

type appendResponseEvent struct {
	from raft.NodeId
	resp raft.AppendEntriesResponse
}

// Agent runs one raftnode: the Server core, its persister, its state
// machine, and the gRPC listener that serves peer RPCs and relays them
// onto the event loop goroutine.
type Agent struct {
	cfg    Config
	server *raft.Server
	kv     *statemachine.KVStore
	trans  *transport.GRPCTransport
	closer func() error
	logger zerolog.Logger

	grpcServer *grpc.Server
	collector  *metrics.Collector

	voteCalls    chan voteCall
	appendCalls  chan appendCall
	proposeCalls chan proposeCall
	voteResps    chan voteResponseEvent
	appendResps  chan appendResponseEvent

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds an Agent from cfg: opens (or creates) durable storage, loads
// any prior term/vote/log, constructs the Server, and registers every
// configured peer.
func New(cfg Config) (*Agent, error) {
	cfg.Defaults()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = raft.DefaultRequestTimeout
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	nodeLog := log.WithNode(cfg.NodeID)

	var persister raft.Persister
	var closer func() error
	var loadEntries func() ([]raft.LogEntry, error)

	if cfg.InMemory {
		mem := storage.NewMemPersister()
		persister = mem
		closer = func() error { return nil }
	} else {
		bolt, err := storage.NewBoltPersister(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("agent: open storage: %w", err)
		}
		persister = bolt
		closer = bolt.Close
		loadEntries = bolt.LoadEntries
	}

	kv := statemachine.NewKVStore()

	server, err := raft.NewServer(raft.Config{
		ThisNode:        raft.NodeId(cfg.NodeID),
		RequestTimeout:  cfg.RequestTimeout,
		ElectionTimeout: cfg.ElectionTimeout,
		Persister:       persister,
		Apply:           kv.Apply,
	})
	if err != nil {
		closer()
		return nil, fmt.Errorf("agent: build server: %w", err)
	}

	if loadEntries != nil {
		entries, err := loadEntries()
		if err != nil {
			closer()
			return nil, fmt.Errorf("agent: replay log: %w", err)
		}
		for _, e := range entries {
			if st := server.Log().Append(e, nil); st != raft.StatusOK {
				closer()
				return nil, fmt.Errorf("agent: replay log: append returned %s", st)
			}
		}
	}

	addresses := make(map[raft.NodeId]string, len(cfg.Peers))
	for id, addr := range cfg.Peers {
		if id == cfg.NodeID {
			continue
		}
		addresses[raft.NodeId(id)] = addr
		server.AddPeer(raft.NodeId(id))
	}
	trans := transport.NewGRPCTransport(addresses)

	a := &Agent{
		cfg:          cfg,
		server:       server,
		kv:           kv,
		trans:        trans,
		closer:       closer,
		logger:       nodeLog,
		collector:    metrics.NewCollector(server),
		voteCalls:    make(chan voteCall),
		appendCalls:  make(chan appendCall),
		proposeCalls: make(chan proposeCall),
		voteResps:    make(chan voteResponseEvent),
		appendResps:  make(chan appendResponseEvent),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	return a, nil
}

// KV returns the agent's replicated key/value store, for read-only local
// access (reads never go through Raft).
func (a *Agent) KV() *statemachine.KVStore { return a.kv }

// Propose submits cmd to be appended and replicated. It returns an error
// immediately if this node is not the current leader; it does not wait
// for the entry to commit.
func (a *Agent) Propose(ctx context.Context, cmd statemachine.Command) error {
	call := proposeCall{cmd: cmd, done: make(chan error, 1)}
	select {
	case a.proposeCalls <- call:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopCh:
		return fmt.Errorf("agent: stopped")
	}
	select {
	case err := <-call.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestVote implements transport.RaftService by handing the request to
// the event loop and waiting for its response.
func (a *Agent) RequestVote(ctx context.Context, req raft.VoteRequest) (raft.VoteResponse, error) {
	call := voteCall{req: req, resp: make(chan raft.VoteResponse, 1), err: make(chan error, 1)}
	select {
	case a.voteCalls <- call:
	case <-ctx.Done():
		return raft.VoteResponse{}, ctx.Err()
	case <-a.stopCh:
		return raft.VoteResponse{}, fmt.Errorf("agent: stopped")
	}
	select {
	case resp := <-call.resp:
		return resp, nil
	case err := <-call.err:
		return raft.VoteResponse{}, err
	case <-ctx.Done():
		return raft.VoteResponse{}, ctx.Err()
	}
}

// AppendEntries implements transport.RaftService the same way.
func (a *Agent) AppendEntries(ctx context.Context, from raft.NodeId, req raft.AppendEntriesRequest) (raft.AppendEntriesResponse, error) {
	call := appendCall{from: from, req: req, resp: make(chan raft.AppendEntriesResponse, 1), err: make(chan error, 1)}
	select {
	case a.appendCalls <- call:
	case <-ctx.Done():
		return raft.AppendEntriesResponse{}, ctx.Err()
	case <-a.stopCh:
		return raft.AppendEntriesResponse{}, fmt.Errorf("agent: stopped")
	}
	select {
	case resp := <-call.resp:
		return resp, nil
	case err := <-call.err:
		return raft.AppendEntriesResponse{}, err
	case <-ctx.Done():
		return raft.AppendEntriesResponse{}, ctx.Err()
	}
}

// Run starts the gRPC server, the metrics collector, and the event loop,
// blocking until the context is canceled or Stop is called.
func (a *Agent) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return fmt.Errorf("agent: listen on %s: %w", a.cfg.Listen, err)
	}
	a.grpcServer = grpc.NewServer()
	transport.RegisterRaftServer(a.grpcServer, a)

	errCh := make(chan error, 1)
	go func() {
		if err := a.grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("agent: grpc serve: %w", err)
		}
	}()

	a.collector.Start()
	defer a.collector.Stop()

	go a.loop()

	select {
	case <-ctx.Done():
	case <-a.stopCh:
	case err := <-errCh:
		a.Stop()
		return err
	}
	a.Stop()
	return nil
}

// Stop signals the event loop to exit and tears down the gRPC server and
// transport connections. Safe to call more than once.
func (a *Agent) Stop() {
	select {
	case <-a.stopCh:
		return
	default:
		close(a.stopCh)
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}
	<-a.doneCh
	a.trans.Close()
	a.closer()
}

// loop is the single goroutine that ever touches a.server. Every inbound
// RPC, proposal, and RPC response is funneled through a channel so the
// core's single-threaded contract holds without the core knowing
// goroutines exist.
func (a *Agent) loop() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return

		case <-ticker.C:
			termBefore := a.server.CurrentTerm()
			ob, status := a.server.Periodic(a.cfg.TickInterval)
			if status != raft.StatusOK {
				a.logger.Warn().Str("status", status.String()).Msg("periodic tick failed")
				continue
			}
			if a.server.CurrentTerm() > termBefore {
				metrics.RaftElectionsStarted.Inc()
			}
			a.dispatch(ob)

		case c := <-a.voteCalls:
			resp, status := a.server.RecvVoteRequest(c.req)
			if status != raft.StatusOK {
				c.err <- fmt.Errorf("raft: recv_vote_request: %s", status)
				continue
			}
			if resp.Vote == raft.VoteGranted {
				metrics.RaftVotesGranted.Inc()
			}
			c.resp <- resp

		case c := <-a.appendCalls:
			resp, status := a.server.RecvAppendEntriesRequest(c.from, c.req)
			if status != raft.StatusOK {
				c.err <- fmt.Errorf("raft: recv_append_entries_request: %s", status)
				continue
			}
			c.resp <- resp

		case c := <-a.proposeCalls:
			if a.server.Role() != raft.Leader {
				c.done <- fmt.Errorf("agent: not leader")
				continue
			}
			entry, err := statemachine.NewEntry(a.server.CurrentTerm(), c.cmd)
			if err != nil {
				c.done <- err
				continue
			}
			if st := a.server.Append(entry); st != raft.StatusOK {
				c.done <- fmt.Errorf("raft: append: %s", st)
				continue
			}
			c.done <- nil

		case ev := <-a.voteResps:
			ob, status := a.server.RecvVoteResponse(ev.from, ev.resp)
			if status != raft.StatusOK {
				a.logger.Warn().Str("status", status.String()).Msg("recv_vote_response failed")
				continue
			}
			a.dispatch(ob)

		case ev := <-a.appendResps:
			if status := a.server.RecvAppendEntriesResponse(ev.from, ev.resp); status != raft.StatusOK {
				a.logger.Warn().Str("status", status.String()).Msg("recv_append_entries_response failed")
			}
		}
	}
}

// dispatch fires every outbound RPC in ob concurrently; each successful
// response feeds back onto the loop as a synthetic event so
// RecvVoteResponse/RecvAppendEntriesResponse only ever run on the loop
// goroutine. A call that fails or times out delivers nothing, which the
// core tolerates per spec.
func (a *Agent) dispatch(ob raft.Outbox) {
	for _, vr := range ob.VoteRequests {
		vr := vr
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
			defer cancel()
			resp, err := a.trans.SendVoteRequest(ctx, vr.Peer, vr.Req)
			if err != nil {
				return
			}
			select {
			case a.voteResps <- voteResponseEvent{from: vr.Peer, resp: resp}:
			case <-a.stopCh:
			}
		}()
	}
	for _, hb := range ob.Heartbeats {
		hb := hb
		metrics.RaftHeartbeatsSent.Inc()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
			defer cancel()
			resp, err := a.trans.SendAppendEntries(ctx, hb.Peer, raft.NodeId(a.cfg.NodeID), hb.Req)
			if err != nil {
				return
			}
			select {
			case a.appendResps <- appendResponseEvent{from: hb.Peer, resp: resp}:
			case <-a.stopCh:
			}
		}()
	}
}
