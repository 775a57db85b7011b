package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/raftnode/pkg/raft"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const serviceName = "raftnode.Raft"

var raftServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RaftService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: requestVoteHandler},
		{MethodName: "AppendEntries", Handler: appendEntriesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raftnode/transport.go",
}

// RegisterRaftServer wires srv into s under the hand-rolled ServiceDesc
// above. There is no generated raftnode_grpc.pb.go — this module has no
// .proto source — so the ServiceDesc and both MethodDescs are written by
// hand, the way grpc-go's own codec_perf benchmarks hand-describe services
// that skip protoc.
func RegisterRaftServer(s *grpc.Server, srv RaftService) {
	s.RegisterService(&raftServiceDesc, srv)
}

func requestVoteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(raft.VoteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftService).RequestVote(ctx, *in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/RequestVote"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RaftService).RequestVote(ctx, *req.(*raft.VoteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// appendEntriesEnvelope carries the sender's node id alongside the wire
// request, since AppendEntriesRequest's shape (§6) has no leader_id field.
type appendEntriesEnvelope struct {
	From raft.NodeId
	Req  raft.AppendEntriesRequest
}

func appendEntriesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(appendEntriesEnvelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftService).AppendEntries(ctx, in.From, in.Req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/AppendEntries"}
	handler := func(ctx context.Context, req any) (any, error) {
		env := req.(*appendEntriesEnvelope)
		return srv.(RaftService).AppendEntries(ctx, env.From, env.Req)
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCTransport dials peers lazily from a static address book and invokes
// the two RPCs through the JSON codec, without a generated client stub.
// Connections are cached and reused; DialOptions defaults to insecure
// credentials since on-the-wire encryption is an explicit non-goal.
type GRPCTransport struct {
	addresses map[raft.NodeId]string
	dialOpts  []grpc.DialOption

	mu    sync.Mutex
	conns map[raft.NodeId]*grpc.ClientConn
}

// NewGRPCTransport builds a transport over a fixed id->address book.
// Passing custom DialOptions (e.g. TLS transport credentials) overrides
// the insecure default.
func NewGRPCTransport(addresses map[raft.NodeId]string, dialOpts ...grpc.DialOption) *GRPCTransport {
	if len(dialOpts) == 0 {
		dialOpts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &GRPCTransport{
		addresses: addresses,
		dialOpts:  dialOpts,
		conns:     make(map[raft.NodeId]*grpc.ClientConn),
	}
}

func (t *GRPCTransport) connFor(peer raft.NodeId) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[peer]; ok {
		return c, nil
	}
	addr, ok := t.addresses[peer]
	if !ok {
		return nil, fmt.Errorf("transport: no address known for peer %d", peer)
	}
	conn, err := grpc.NewClient(addr, t.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("transport: dial peer %d at %s: %w", peer, addr, err)
	}
	t.conns[peer] = conn
	return conn, nil
}

func (t *GRPCTransport) SendVoteRequest(ctx context.Context, peer raft.NodeId, req raft.VoteRequest) (raft.VoteResponse, error) {
	conn, err := t.connFor(peer)
	if err != nil {
		return raft.VoteResponse{}, err
	}
	out := new(raft.VoteResponse)
	err = conn.Invoke(ctx, "/"+serviceName+"/RequestVote", &req, out, grpc.CallContentSubtype(codecName))
	if err != nil {
		return raft.VoteResponse{}, err
	}
	return *out, nil
}

func (t *GRPCTransport) SendAppendEntries(ctx context.Context, peer raft.NodeId, from raft.NodeId, req raft.AppendEntriesRequest) (raft.AppendEntriesResponse, error) {
	conn, err := t.connFor(peer)
	if err != nil {
		return raft.AppendEntriesResponse{}, err
	}
	env := &appendEntriesEnvelope{From: from, Req: req}
	out := new(raft.AppendEntriesResponse)
	err = conn.Invoke(ctx, "/"+serviceName+"/AppendEntries", env, out, grpc.CallContentSubtype(codecName))
	if err != nil {
		return raft.AppendEntriesResponse{}, err
	}
	return *out, nil
}

// Close tears down every cached connection.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for id, c := range t.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("transport: closing peer %d: %w", id, err)
		}
	}
	t.conns = make(map[raft.NodeId]*grpc.ClientConn)
	return firstErr
}
