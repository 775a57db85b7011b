package raft

import (
	"math/rand"
	"time"
)

const (
	DefaultRequestTimeout  = 200 * time.Millisecond
	DefaultElectionTimeout = 1000 * time.Millisecond
)

// Config are the constructor parameters for a Server: request/election
// timeouts, an optional deterministic seed, and the external collaborators
// it calls through (persistence and the application state machine;
// transport and logging live one layer up, in pkg/agent).
type Config struct {
	ThisNode NodeId

	RequestTimeout  time.Duration
	ElectionTimeout time.Duration
	Seed            *int64

	Persister Persister
	Apply     ApplyFunc
}

// VoteRequestOut pairs an outbound VoteRequest with its destination.
type VoteRequestOut struct {
	Peer NodeId
	Req  VoteRequest
}

// AppendEntriesOut pairs an outbound AppendEntriesRequest with its
// destination.
type AppendEntriesOut struct {
	Peer NodeId
	Req  AppendEntriesRequest
}

// Outbox collects the RPCs a Server call wants sent. A zero-value Outbox
// sends nothing. The Server never calls a transport itself; the caller
// (pkg/agent's event loop) drains an Outbox and dispatches it.
type Outbox struct {
	VoteRequests []VoteRequestOut
	Heartbeats   []AppendEntriesOut
}

func (o *Outbox) addVoteRequest(peer NodeId, req VoteRequest) {
	o.VoteRequests = append(o.VoteRequests, VoteRequestOut{Peer: peer, Req: req})
}

func (o *Outbox) addHeartbeat(peer NodeId, req AppendEntriesRequest) {
	o.Heartbeats = append(o.Heartbeats, AppendEntriesOut{Peer: peer, Req: req})
}

// Server is the orchestrator: it owns the log, the node table, the role
// FSM, the current term, the vote record, the leader pointer, and the
// timing state. It is single-threaded and reentrant-free — every method
// mutates state synchronously and returns; none blocks, spawns a
// goroutine, or reads wall time. Serializing calls onto one goroutine is
// the caller's job (see pkg/agent).
type Server struct {
	thisNode NodeId

	currentTerm Term
	votedFor    *NodeId
	leader      *NodeId

	role  *roleFSM
	log   *Log
	nodes *nodeTable

	commitIndex Index
	lastApplied Index

	elapsedTimeout      time.Duration
	requestTimeout      time.Duration
	electionTimeout     time.Duration
	electionTimeoutRand time.Duration

	rng *rand.Rand

	persister Persister
	apply     ApplyFunc
}

// NewServer constructs a Server in role follower, term 0, with an empty
// log, no vote, and no leader, restoring term/vote from Persister if a
// prior run left durable state.
func NewServer(cfg Config) (*Server, error) {
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	electionTimeout := cfg.ElectionTimeout
	if electionTimeout <= 0 {
		electionTimeout = DefaultElectionTimeout
	}

	var seed int64
	if cfg.Seed != nil {
		seed = *cfg.Seed
	} else {
		seed = int64(cfg.ThisNode) + 1
	}

	s := &Server{
		thisNode:        cfg.ThisNode,
		role:            newRoleFSM(),
		log:             NewLog(),
		nodes:           newNodeTable(),
		requestTimeout:  requestTimeout,
		electionTimeout: electionTimeout,
		rng:             rand.New(rand.NewSource(seed)),
		persister:       cfg.Persister,
		apply:           cfg.Apply,
	}
	s.randomizeElectionTimeout()

	if s.persister != nil {
		term, votedFor, err := s.persister.LoadState()
		if err != nil {
			return nil, err
		}
		s.currentTerm = term
		s.votedFor = votedFor
	}
	return s, nil
}

// --- accessors ---

func (s *Server) ThisNode() NodeId     { return s.thisNode }
func (s *Server) CurrentTerm() Term    { return s.currentTerm }
func (s *Server) Role() Role           { return s.role.State() }
func (s *Server) Log() *Log            { return s.log }
func (s *Server) CommitIndex() Index   { return s.commitIndex }
func (s *Server) LastApplied() Index   { return s.lastApplied }
func (s *Server) ElapsedTimeout() time.Duration { return s.elapsedTimeout }

func (s *Server) Leader() *NodeId {
	if s.leader == nil {
		return nil
	}
	id := *s.leader
	return &id
}

func (s *Server) VotedFor() *NodeId {
	if s.votedFor == nil {
		return nil
	}
	id := *s.votedFor
	return &id
}

// --- node table ---

// AddPeer registers a voting peer. Allocation never fails in this
// implementation (the table is a Go map), so the enomem path described by
// spec.md §7 is reserved for hosts under memory pressure and is not
// exercised here.
func (s *Server) AddPeer(id NodeId) *Peer {
	return s.nodes.add(id, true)
}

// AddNonVotingPeer registers a peer that receives replication but never
// votes and is never counted toward majority.
func (s *Server) AddNonVotingPeer(id NodeId) *Peer {
	return s.nodes.add(id, false)
}

// RemovePeer drops a peer from the node table.
func (s *Server) RemovePeer(id NodeId) {
	s.nodes.remove(id)
}

// GetPeer looks up a peer by id.
func (s *Server) GetPeer(id NodeId) (*Peer, bool) {
	return s.nodes.get(id)
}

// NodeCount is the number of entries in the peer table (excluding self).
func (s *Server) NodeCount() int {
	return s.nodes.count()
}

// votingParticipants is the total number of voting nodes, self included.
func (s *Server) votingParticipants() int {
	return 1 + s.nodes.votingActiveCount()
}

func majority(n int) int {
	return (n / 2) + 1
}

// --- term/vote/role transitions ---

// adoptTerm bumps current_term to t if t is strictly greater, clearing
// voted_for. Persistence failure leaves in-memory state unchanged and
// returns the error.
func (s *Server) adoptTerm(t Term) error {
	if t <= s.currentTerm {
		return nil
	}
	if s.persister != nil {
		if err := s.persister.PersistTerm(t); err != nil {
			return err
		}
		if err := s.persister.PersistVote(nil); err != nil {
			return err
		}
	}
	s.currentTerm = t
	s.votedFor = nil
	return nil
}

// demoteToFollower transitions the current role to follower using
// whichever table event applies: high_term from leader, new_term from
// candidate. A follower observing this is already a follower — no
// transition is needed.
func (s *Server) demoteToFollower() {
	switch s.role.State() {
	case Leader:
		s.role.Fire(EventHighTerm, func() bool { return true })
	case Candidate:
		s.role.Fire(EventNewTerm, func() bool { return true })
	}
	s.leader = nil
	s.resetElectionTimer()
}

// recognizeLeader demotes a candidate that learns of a legitimate current
// leader (an AppendEntries at an acceptable term) without necessarily a
// term bump.
func (s *Server) recognizeLeader(from NodeId) {
	if s.role.State() == Candidate {
		s.role.Fire(EventNewLeader, func() bool { return true })
	}
	id := from
	s.leader = &id
	s.resetElectionTimer()
}

func (s *Server) resetElectionTimer() {
	s.elapsedTimeout = 0
	s.randomizeElectionTimeout()
}

// randomizeElectionTimeout resamples election_timeout_rand =
// election_timeout + uniform(0, election_timeout-1), the split-vote
// mitigation. Re-sampled on every role transition.
func (s *Server) randomizeElectionTimeout() {
	if s.electionTimeout <= 0 {
		s.electionTimeoutRand = 0
		return
	}
	jitter := time.Duration(s.rng.Int63n(int64(s.electionTimeout)))
	s.electionTimeoutRand = s.electionTimeout + jitter
}

// ElectionStart begins a new election round: increments the term, clears
// every peer's voted-for-me flag, votes for self, clears leader, resets
// the election timer, and transitions to candidate.
func (s *Server) ElectionStart() (Outbox, Status) {
	var ob Outbox
	newTerm := s.currentTerm + 1

	ok := s.role.Fire(EventElection, func() bool {
		if s.persister != nil {
			if err := s.persister.PersistTerm(newTerm); err != nil {
				return false
			}
			self := s.thisNode
			if err := s.persister.PersistVote(&self); err != nil {
				return false
			}
		}
		s.currentTerm = newTerm
		self := s.thisNode
		s.votedFor = &self
		s.leader = nil
		s.nodes.each(func(p *Peer) { p.clearVoteForMe() })
		s.resetElectionTimer()
		return true
	})
	if !ok {
		return ob, StatusFail
	}

	lastIdx := s.log.CurrentIndex()
	var lastTerm Term
	if e, found := s.log.At(lastIdx); found {
		lastTerm = e.Term
	}
	req := VoteRequest{
		Term:        s.currentTerm,
		CandidateID: s.thisNode,
		LastLogIdx:  lastIdx,
		LastLogTerm: lastTerm,
	}
	s.nodes.each(func(p *Peer) {
		if p.IsActive() {
			ob.addVoteRequest(p.ID, req)
		}
	})
	return ob, StatusOK
}

// becomeLeader fires the majority transition, initializes replication
// cursors for every peer in the table, and returns the immediate empty
// append-entries heartbeats spec.md §4.2 requires to assert leadership.
func (s *Server) becomeLeader() Outbox {
	var ob Outbox
	ok := s.role.Fire(EventMajority, func() bool {
		self := s.thisNode
		s.leader = &self
		return true
	})
	if !ok {
		return ob
	}
	nextIdx := s.log.CurrentIndex() + 1
	s.nodes.each(func(p *Peer) {
		p.NextIndex = nextIdx
		p.MatchIndex = 0
	})
	s.elapsedTimeout = 0
	ob.Heartbeats = s.buildHeartbeats()
	return ob
}

func (s *Server) buildHeartbeats() []AppendEntriesOut {
	var out []AppendEntriesOut
	s.nodes.each(func(p *Peer) {
		if !p.IsActive() {
			return
		}
		prevIdx := p.NextIndex - 1
		var prevTerm Term
		if e, found := s.log.At(prevIdx); found {
			prevTerm = e.Term
		}
		out = append(out, AppendEntriesOut{
			Peer: p.ID,
			Req: AppendEntriesRequest{
				Term:         s.currentTerm,
				PrevLogIdx:   prevIdx,
				PrevLogTerm:  prevTerm,
				LeaderCommit: s.commitIndex,
			},
		})
	})
	return out
}

// --- vote request / response handlers (spec.md §4.4) ---

// RecvVoteRequest implements the grant predicate and sticky-leader rule.
func (s *Server) RecvVoteRequest(req VoteRequest) (VoteResponse, Status) {
	node, known := s.nodes.get(req.CandidateID)
	if !known {
		node = s.nodes.add(req.CandidateID, false)
	}

	// Sticky leader: a follower with a known, live leader ignores
	// disruptors.
	if s.role.State() == Follower && s.leader != nil && *s.leader != req.CandidateID && s.elapsedTimeout < s.electionTimeoutRand {
		return VoteResponse{Term: s.currentTerm, Vote: VoteNotGranted}, StatusOK
	}

	if req.Term > s.currentTerm {
		if err := s.adoptTerm(req.Term); err != nil {
			return VoteResponse{Term: s.currentTerm, Vote: VoteNotGranted}, StatusOK
		}
		s.demoteToFollower()
	}

	if s.grantVote(node, req) {
		if s.role.State() != Follower {
			// A candidate or leader granting a vote violates the
			// voted-for-self invariant.
			panic("raft: grant predicate satisfied outside follower role")
		}
		self := req.CandidateID
		if s.persister != nil {
			if err := s.persister.PersistVote(&self); err != nil {
				return VoteResponse{Term: s.currentTerm, Vote: VoteNotGranted}, StatusOK
			}
		}
		s.votedFor = &self
		s.leader = nil
		s.resetElectionTimer()
		return VoteResponse{Term: s.currentTerm, Vote: VoteGranted}, StatusOK
	}

	if node == nil {
		return VoteResponse{Term: s.currentTerm, Vote: VoteNodeNotFound}, StatusOK
	}
	return VoteResponse{Term: s.currentTerm, Vote: VoteNotGranted}, StatusOK
}

// grantVote evaluates the four-condition grant predicate. voted_for must be
// unset or already equal to the requesting candidate, so a retransmitted
// identical request is granted again rather than rejected the second time.
func (s *Server) grantVote(node *Peer, req VoteRequest) bool {
	if node == nil || !node.IsVoting() {
		return false
	}
	if req.Term < s.currentTerm {
		return false
	}
	if s.votedFor != nil && *s.votedFor != req.CandidateID {
		return false
	}
	return s.candidateUpToDate(req)
}

// candidateUpToDate is the "up-to-date log" check of spec.md §4.4 / §4.6's
// glossary entry.
func (s *Server) candidateUpToDate(req VoteRequest) bool {
	i := s.log.CurrentIndex()
	if i == 0 {
		return true
	}
	entry, _ := s.log.At(i)
	t := entry.Term
	if t < req.LastLogTerm {
		return true
	}
	return t == req.LastLogTerm && i <= req.LastLogIdx
}

// RecvVoteResponse implements the candidate's majority-counting logic.
func (s *Server) RecvVoteResponse(from NodeId, resp VoteResponse) (Outbox, Status) {
	var ob Outbox
	if s.role.State() != Candidate {
		return ob, StatusOK
	}
	if resp.Term > s.currentTerm {
		if err := s.adoptTerm(resp.Term); err != nil {
			return ob, StatusFail
		}
		s.demoteToFollower()
		return ob, StatusOK
	}
	if resp.Term != s.currentTerm {
		return ob, StatusOK
	}

	switch resp.Vote {
	case VoteGranted:
		if p, ok := s.nodes.get(from); ok {
			p.setVoteForMe()
		}
		votes := 1 // self
		s.nodes.each(func(p *Peer) {
			if p.IsVoting() && p.IsActive() && p.HasVoteForMe() {
				votes++
			}
		})
		if votes >= majority(s.votingParticipants()) {
			ob = s.becomeLeader()
		}
	case VoteNotGranted, VoteNodeNotFound, VoteErr:
		// no-op
	}
	return ob, StatusOK
}

// --- append-entries contract (spec.md §4.5, sketch-level) ---

// RecvAppendEntriesRequest implements the post-conditions spec.md §4.5
// fixes: term adoption, prev-log matching, truncate-and-append, and
// commit-index advancement up to leader_commit.
func (s *Server) RecvAppendEntriesRequest(from NodeId, req AppendEntriesRequest) (AppendEntriesResponse, Status) {
	if req.Term < s.currentTerm {
		return AppendEntriesResponse{Term: s.currentTerm, Success: false, CurrentIdx: s.log.CurrentIndex()}, StatusOK
	}
	if req.Term > s.currentTerm {
		if err := s.adoptTerm(req.Term); err != nil {
			return AppendEntriesResponse{Term: s.currentTerm, Success: false}, StatusFail
		}
		s.demoteToFollower()
	}
	s.recognizeLeader(from)

	matches := req.PrevLogIdx == 0
	if !matches {
		if e, ok := s.log.At(req.PrevLogIdx); ok {
			matches = e.Term == req.PrevLogTerm
		}
	}
	if !matches {
		return AppendEntriesResponse{Term: s.currentTerm, Success: false, CurrentIdx: s.log.CurrentIndex()}, StatusOK
	}

	if st := s.log.TruncateFrom(req.PrevLogIdx+1, s.truncateHook); st != StatusOK {
		return AppendEntriesResponse{Term: s.currentTerm, Success: false, CurrentIdx: s.log.CurrentIndex()}, StatusFail
	}
	for _, e := range req.Entries {
		if st := s.log.Append(e, s.appendHook); st != StatusOK {
			return AppendEntriesResponse{Term: s.currentTerm, Success: false, CurrentIdx: s.log.CurrentIndex()}, StatusFail
		}
	}

	if req.LeaderCommit > s.commitIndex {
		ci := req.LeaderCommit
		if cur := s.log.CurrentIndex(); ci > cur {
			ci = cur
		}
		s.commitIndex = ci
		s.applyCommitted()
	}

	firstIdx := Index(0)
	if len(req.Entries) > 0 {
		firstIdx = req.PrevLogIdx + 1
	}
	return AppendEntriesResponse{
		Term:       s.currentTerm,
		Success:    true,
		CurrentIdx: s.log.CurrentIndex(),
		FirstIdx:   firstIdx,
	}, StatusOK
}

func (s *Server) appendHook(entry LogEntry, index Index) Status {
	if s.persister == nil {
		return StatusOK
	}
	if err := s.persister.PersistEntry(entry, index); err != nil {
		return StatusFail
	}
	return StatusOK
}

func (s *Server) truncateHook(entry LogEntry, index Index) Status {
	if s.persister == nil {
		return StatusOK
	}
	if err := s.persister.PersistTruncate(entry, index); err != nil {
		return StatusFail
	}
	return StatusOK
}

func (s *Server) pollHook(entry LogEntry, index Index) Status {
	if s.persister == nil {
		return StatusOK
	}
	if err := s.persister.PersistPoll(entry, index); err != nil {
		return StatusFail
	}
	return StatusOK
}

// RecvAppendEntriesResponse updates the leader's replication cursors and
// advances commit_index per the Raft commit rule: a majority match_index
// only commits when the entry at that index carries the current term.
func (s *Server) RecvAppendEntriesResponse(from NodeId, resp AppendEntriesResponse) Status {
	if s.role.State() != Leader {
		return StatusOK
	}
	if resp.Term > s.currentTerm {
		if err := s.adoptTerm(resp.Term); err != nil {
			return StatusFail
		}
		s.demoteToFollower()
		return StatusOK
	}
	p, ok := s.nodes.get(from)
	if !ok {
		return StatusOK
	}
	if !resp.Success {
		if p.NextIndex > 1 {
			p.NextIndex--
		}
		return StatusOK
	}
	if resp.CurrentIdx > p.MatchIndex {
		p.MatchIndex = resp.CurrentIdx
	}
	p.NextIndex = p.MatchIndex + 1

	s.advanceCommitIndex()
	return StatusOK
}

func (s *Server) advanceCommitIndex() {
	for n := s.log.CurrentIndex(); n > s.commitIndex; n-- {
		entry, ok := s.log.At(n)
		if !ok || entry.Term != s.currentTerm {
			continue
		}
		votes := 1 // leader counts its own match
		s.nodes.each(func(p *Peer) {
			if p.IsVoting() && p.IsActive() && p.MatchIndex >= n {
				votes++
			}
		})
		if votes >= majority(s.votingParticipants()) {
			s.commitIndex = n
			s.applyCommitted()
			return
		}
	}
}

func (s *Server) applyCommitted() {
	for s.lastApplied < s.commitIndex {
		idx := s.lastApplied + 1
		entry, ok := s.log.At(idx)
		if !ok {
			break
		}
		if s.apply != nil {
			s.apply(entry, idx)
		}
		s.lastApplied = idx
	}
}

// Append is the leader-side write path: places entry at
// current_index+1, persisting it before it's held in memory.
func (s *Server) Append(entry LogEntry) Status {
	return s.log.Append(entry, s.appendHook)
}

// Poll removes the oldest held entry (after a snapshot has captured it).
func (s *Server) Poll() Status {
	return s.log.Poll(s.pollHook)
}

// --- periodic tick (spec.md §4.6) ---

// Periodic advances elapsed_timeout by dt and, depending on role and
// elapsed time, becomes leader (single-voter cluster), sends heartbeats,
// or starts an election.
func (s *Server) Periodic(dt time.Duration) (Outbox, Status) {
	s.elapsedTimeout += dt

	if s.votingParticipants() == 1 && s.role.State() != Leader {
		if s.role.State() != Candidate {
			if _, status := s.ElectionStart(); status != StatusOK {
				return Outbox{}, status
			}
		}
		return s.becomeLeader(), StatusOK
	}

	if s.role.State() == Leader {
		if s.elapsedTimeout >= s.requestTimeout {
			ob := Outbox{Heartbeats: s.buildHeartbeats()}
			s.elapsedTimeout = 0
			return ob, StatusOK
		}
		return Outbox{}, StatusOK
	}

	if s.elapsedTimeout >= s.electionTimeoutRand {
		return s.ElectionStart()
	}
	return Outbox{}, StatusOK
}
