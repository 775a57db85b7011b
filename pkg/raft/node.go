package raft

// Peer is the Server's view of one other participant in the cluster:
// replication cursors plus a small flag set used during elections and
// membership commit tracking. Peer records live in the Server's node
// table; a reference handed to a handler is valid only for that call.
type Peer struct {
	ID NodeId

	NextIndex  Index
	MatchIndex Index

	votedForMe       bool
	voting           bool
	sufficientLogs   bool
	inactive         bool
	votingCommitted  bool
	additionCommited bool
}

func newPeer(id NodeId, voting bool) *Peer {
	return &Peer{
		ID:         id,
		NextIndex:  1,
		MatchIndex: 0,
		voting:     voting,
	}
}

// IsVoting reports whether this peer's vote counts toward majority.
func (p *Peer) IsVoting() bool { return p.voting }

// IsActive reports whether the peer currently participates in heartbeats
// and majority counts.
func (p *Peer) IsActive() bool { return !p.inactive }

// HasVoteForMe reports whether this peer granted its vote in the current
// election round.
func (p *Peer) HasVoteForMe() bool { return p.votedForMe }

func (p *Peer) clearVoteForMe() { p.votedForMe = false }
func (p *Peer) setVoteForMe()   { p.votedForMe = true }

// nodeTable is the arena owning every Peer by id. leader and voted_for are
// represented elsewhere as *NodeId (non-owning, possibly nil) lookups into
// this table — never as long-lived Peer references.
type nodeTable struct {
	peers map[NodeId]*Peer
}

func newNodeTable() *nodeTable {
	return &nodeTable{peers: make(map[NodeId]*Peer)}
}

func (t *nodeTable) add(id NodeId, voting bool) *Peer {
	if p, ok := t.peers[id]; ok {
		return p
	}
	p := newPeer(id, voting)
	t.peers[id] = p
	return p
}

func (t *nodeTable) get(id NodeId) (*Peer, bool) {
	p, ok := t.peers[id]
	return p, ok
}

func (t *nodeTable) remove(id NodeId) {
	delete(t.peers, id)
}

func (t *nodeTable) count() int {
	return len(t.peers)
}

func (t *nodeTable) each(f func(*Peer)) {
	for _, p := range t.peers {
		f(p)
	}
}

// votingActiveCount returns the number of peers (including non-this_node
// peers only — the caller adds the self vote separately) that count
// toward majority.
func (t *nodeTable) votingActiveCount() int {
	n := 0
	for _, p := range t.peers {
		if p.IsVoting() && p.IsActive() {
			n++
		}
	}
	return n
}
