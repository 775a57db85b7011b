package raft

import "testing"

// fakePersister is an in-memory stand-in for the durable store used only
// by this package's own tests; pkg/storage provides the real bbolt-backed
// and in-memory persisters used by the rest of the module.
type fakePersister struct {
	term     Term
	votedFor *NodeId
	entries  map[Index]LogEntry

	failTerm  bool
	failVote  bool
	failEntry bool
}

func newFakePersister() *fakePersister {
	return &fakePersister{entries: make(map[Index]LogEntry)}
}

func (p *fakePersister) PersistTerm(term Term) error {
	if p.failTerm {
		return errFake
	}
	p.term = term
	return nil
}

func (p *fakePersister) PersistVote(votedFor *NodeId) error {
	if p.failVote {
		return errFake
	}
	p.votedFor = votedFor
	return nil
}

func (p *fakePersister) PersistEntry(entry LogEntry, index Index) error {
	if p.failEntry {
		return errFake
	}
	p.entries[index] = entry
	return nil
}

func (p *fakePersister) PersistTruncate(_ LogEntry, index Index) error {
	delete(p.entries, index)
	return nil
}

func (p *fakePersister) PersistPoll(_ LogEntry, index Index) error {
	delete(p.entries, index)
	return nil
}

func (p *fakePersister) LoadState() (Term, *NodeId, error) {
	return p.term, p.votedFor, nil
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const errFake = fakeError("fake persistence failure")

func newTestServer(t *testing.T, id NodeId, peers ...NodeId) *Server {
	t.Helper()
	seed := int64(id) + 1
	s, err := NewServer(Config{
		ThisNode:  id,
		Persister: newFakePersister(),
		Seed:      &seed,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	for _, p := range peers {
		s.AddPeer(p)
	}
	return s
}

// Scenario 1: three-node election happy path.
func TestThreeNodeElectionHappyPath(t *testing.T) {
	s0 := newTestServer(t, 0, 1, 2)

	ob, status := s0.ElectionStart()
	if status != StatusOK {
		t.Fatalf("ElectionStart status = %v, want ok", status)
	}
	if s0.Role() != Candidate || s0.CurrentTerm() != 1 {
		t.Fatalf("after ElectionStart: role=%v term=%v, want candidate/1", s0.Role(), s0.CurrentTerm())
	}
	if len(ob.VoteRequests) != 2 {
		t.Fatalf("VoteRequests = %d, want 2", len(ob.VoteRequests))
	}
	for _, vr := range ob.VoteRequests {
		if vr.Req != (VoteRequest{Term: 1, CandidateID: 0, LastLogIdx: 0, LastLogTerm: 0}) {
			t.Fatalf("VoteRequest to %d = %+v, want term=1 candidate=0 idx=0 term=0", vr.Peer, vr.Req)
		}
	}

	// Self plus server 1 is 2 of 3 voting nodes: a majority.
	ob1, status := s0.RecvVoteResponse(1, VoteResponse{Term: 1, Vote: VoteGranted})
	if status != StatusOK {
		t.Fatalf("RecvVoteResponse(1) status = %v", status)
	}
	if s0.Role() != Leader {
		t.Fatalf("role after self+one vote = %v, want leader", s0.Role())
	}

	// The second response arrives after the election is won and is ignored.

	if _, status := s0.RecvVoteResponse(2, VoteResponse{Term: 1, Vote: VoteGranted}); status != StatusOK {
		t.Fatalf("RecvVoteResponse(2) status = %v", status)
	}
	if s0.Role() != Leader {
		t.Fatalf("role after second response = %v, want leader", s0.Role())
	}
	if s0.Leader() == nil || *s0.Leader() != 0 {
		t.Fatal("leader != self after becoming leader")
	}
	if s0.VotedFor() == nil || *s0.VotedFor() != 0 {
		t.Fatal("voted_for != self after becoming leader")
	}
	if len(ob1.Heartbeats) != 2 {
		t.Fatalf("heartbeats on becoming leader = %d, want 2", len(ob1.Heartbeats))
	}
}

// Scenario 2: split vote and retry.
func TestSplitVoteThenRetryWins(t *testing.T) {
	s0 := newTestServer(t, 0, 1, 2)
	s1 := newTestServer(t, 1, 0, 2)

	if _, status := s0.ElectionStart(); status != StatusOK {
		t.Fatalf("s0.ElectionStart status = %v", status)
	}
	if _, status := s1.ElectionStart(); status != StatusOK {
		t.Fatalf("s1.ElectionStart status = %v", status)
	}
	if s0.CurrentTerm() != 1 || s1.CurrentTerm() != 1 {
		t.Fatalf("terms after simultaneous elections = %d,%d, want 1,1", s0.CurrentTerm(), s1.CurrentTerm())
	}

	// s1's vote request reaches s0, which already voted for itself at
	// term 1.
	resp0, _ := s0.RecvVoteRequest(VoteRequest{Term: 1, CandidateID: 1, LastLogIdx: 0, LastLogTerm: 0})
	if resp0.Vote != VoteNotGranted {
		t.Fatalf("s0 granted a second vote at its own term: %+v", resp0)
	}
	resp1, _ := s1.RecvVoteRequest(VoteRequest{Term: 1, CandidateID: 0, LastLogIdx: 0, LastLogTerm: 0})
	if resp1.Vote != VoteNotGranted {
		t.Fatalf("s1 granted a second vote at its own term: %+v", resp1)
	}

	if s0.Role() != Candidate || s1.Role() != Candidate {
		t.Fatal("neither candidate should have reached majority")
	}

	// Timeout elapses; s0 retries at term 2 and wins with server 2's vote.
	ob, status := s0.ElectionStart()
	if status != StatusOK {
		t.Fatalf("retry ElectionStart status = %v", status)
	}
	if s0.CurrentTerm() != 2 {
		t.Fatalf("term after retry = %d, want 2", s0.CurrentTerm())
	}
	if len(ob.VoteRequests) != 2 {
		t.Fatalf("retry VoteRequests = %d, want 2", len(ob.VoteRequests))
	}

	if _, status := s0.RecvVoteResponse(2, VoteResponse{Term: 2, Vote: VoteGranted}); status != StatusOK {
		t.Fatalf("RecvVoteResponse(2) status = %v", status)
	}
	if s0.Role() != Leader {
		t.Fatalf("role after self+server2 majority = %v, want leader", s0.Role())
	}
}

// Scenario 3: term bump demotes leader.
func TestHigherTermDemotesLeader(t *testing.T) {
	s0 := newTestServer(t, 0, 1, 2)
	s0.currentTerm = 2
	s0.role = &roleFSM{state: Candidate}
	s0.becomeLeader()
	if s0.Role() != Leader {
		t.Fatalf("setup: role = %v, want leader", s0.Role())
	}

	resp, status := s0.RecvVoteRequest(VoteRequest{Term: 5, CandidateID: 1, LastLogIdx: 0, LastLogTerm: 0})
	if status != StatusOK {
		t.Fatalf("RecvVoteRequest status = %v", status)
	}
	if s0.Role() != Follower {
		t.Fatalf("role after higher-term vote request = %v, want follower", s0.Role())
	}
	if s0.CurrentTerm() != 5 {
		t.Fatalf("term after adopting = %d, want 5", s0.CurrentTerm())
	}
	if s0.Leader() != nil {
		t.Fatal("leader not cleared after demotion")
	}
	if resp.Term != 5 {
		t.Fatalf("response term = %d, want 5", resp.Term)
	}
	// Empty log: up-to-date check always passes, so the vote is granted
	// and voted_for becomes 1.
	if resp.Vote != VoteGranted {
		t.Fatalf("vote = %v, want granted (empty log is always up to date)", resp.Vote)
	}
	if s0.VotedFor() == nil || *s0.VotedFor() != 1 {
		t.Fatalf("voted_for = %v, want 1", s0.VotedFor())
	}
}

// Scenario 4: sticky leader rejects disruptor.
func TestStickyLeaderRejectsDisruptor(t *testing.T) {
	s0 := newTestServer(t, 0, 1, 2)
	leaderID := NodeId(1)
	s0.leader = &leaderID
	s0.elapsedTimeout = 0

	resp, status := s0.RecvVoteRequest(VoteRequest{Term: s0.CurrentTerm() + 1, CandidateID: 2, LastLogIdx: 0, LastLogTerm: 0})
	if status != StatusOK {
		t.Fatalf("status = %v, want ok", status)
	}
	if resp.Vote != VoteNotGranted {
		t.Fatalf("vote = %v, want not_granted", resp.Vote)
	}
	if s0.CurrentTerm() != 0 {
		t.Fatalf("term changed to %d, want unchanged (0)", s0.CurrentTerm())
	}
	if s0.VotedFor() != nil {
		t.Fatal("voted_for changed, want unchanged")
	}
	if s0.Leader() == nil || *s0.Leader() != 1 {
		t.Fatal("leader changed, want still 1")
	}
}

// Scenario 5: log match-up on grant.
func TestLogMatchUpOnGrant(t *testing.T) {
	newFollowerWithLog := func(t *testing.T) *Server {
		s := newTestServer(t, 0, 1)
		s.log.Append(LogEntry{Term: 1, EntryID: "A"}, alwaysOK)
		s.log.Append(LogEntry{Term: 1, EntryID: "B"}, alwaysOK)
		return s
	}

	t.Run("behind candidate rejected", func(t *testing.T) {
		s := newFollowerWithLog(t)
		resp, _ := s.RecvVoteRequest(VoteRequest{Term: 1, CandidateID: 1, LastLogTerm: 1, LastLogIdx: 1})
		if resp.Vote != VoteNotGranted {
			t.Fatalf("vote = %v, want not_granted", resp.Vote)
		}
	})

	t.Run("same term higher index granted", func(t *testing.T) {
		s := newFollowerWithLog(t)
		resp, _ := s.RecvVoteRequest(VoteRequest{Term: 1, CandidateID: 1, LastLogTerm: 1, LastLogIdx: 2})
		if resp.Vote != VoteGranted {
			t.Fatalf("vote = %v, want granted", resp.Vote)
		}
	})

	t.Run("higher term granted", func(t *testing.T) {
		s := newFollowerWithLog(t)
		resp, _ := s.RecvVoteRequest(VoteRequest{Term: 1, CandidateID: 1, LastLogTerm: 2, LastLogIdx: 1})
		if resp.Vote != VoteGranted {
			t.Fatalf("vote = %v, want granted", resp.Vote)
		}
	})
}

func TestSingleVotingNodeBecomesLeaderOnFirstTick(t *testing.T) {
	s := newTestServer(t, 0)
	ob, status := s.Periodic(1)
	if status != StatusOK {
		t.Fatalf("Periodic status = %v", status)
	}
	if s.Role() != Leader {
		t.Fatalf("role = %v, want leader", s.Role())
	}
	if len(ob.Heartbeats) != 0 {
		t.Fatalf("heartbeats = %d, want 0 (no peers)", len(ob.Heartbeats))
	}
}

func TestVoteRequestBoundaryEmptyLogAlwaysUpToDate(t *testing.T) {
	s := newTestServer(t, 0, 1)
	resp, _ := s.RecvVoteRequest(VoteRequest{Term: 1, CandidateID: 1, LastLogIdx: 0, LastLogTerm: 0})
	if resp.Vote != VoteGranted {
		t.Fatalf("vote = %v, want granted (empty log)", resp.Vote)
	}
}

func TestRepeatedVoteRequestIsIdempotent(t *testing.T) {
	s := newTestServer(t, 0, 1)
	req := VoteRequest{Term: 1, CandidateID: 1, LastLogIdx: 0, LastLogTerm: 0}
	first, _ := s.RecvVoteRequest(req)
	second, _ := s.RecvVoteRequest(req)
	if first != second {
		t.Fatalf("responses differ across identical requests: %+v vs %+v", first, second)
	}
}

func TestAdoptTermPersistenceFailureLeavesStateUnchanged(t *testing.T) {
	seed := int64(1)
	p := newFakePersister()
	p.failTerm = true
	s, err := NewServer(Config{ThisNode: 0, Persister: p, Seed: &seed})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	s.AddPeer(1)

	resp, status := s.RecvVoteRequest(VoteRequest{Term: 5, CandidateID: 1})
	if status != StatusOK {
		t.Fatalf("status = %v, want ok (caller inspects the not_granted response)", status)
	}
	if resp.Vote != VoteNotGranted {
		t.Fatalf("vote = %v, want not_granted on persistence failure", resp.Vote)
	}
	if s.CurrentTerm() != 0 {
		t.Fatalf("term advanced to %d despite persistence failure", s.CurrentTerm())
	}
}

func TestCommitAdvancesOnlyForCurrentTermEntries(t *testing.T) {
	s := newTestServer(t, 0, 1, 2)
	s.currentTerm = 2
	s.role = &roleFSM{state: Candidate}
	s.becomeLeader()

	// A prior-term entry already replicated to a majority must not be
	// committed directly by counting replicas.
	s.log.Append(LogEntry{Term: 1, EntryID: "old"}, alwaysOK)
	p1, _ := s.GetPeer(1)
	p1.MatchIndex = 1
	p2, _ := s.GetPeer(2)
	p2.MatchIndex = 1
	s.advanceCommitIndex()
	if s.CommitIndex() != 0 {
		t.Fatalf("commit_index = %d, want 0 (entry is from a prior term)", s.CommitIndex())
	}

	s.log.Append(LogEntry{Term: 2, EntryID: "new"}, alwaysOK)
	p1.MatchIndex = 2
	p2.MatchIndex = 2
	s.advanceCommitIndex()
	if s.CommitIndex() != 2 {
		t.Fatalf("commit_index = %d, want 2 (current-term entry with majority)", s.CommitIndex())
	}
}

func TestApplyLoopInvokesInIndexOrder(t *testing.T) {
	var applied []Index
	seed := int64(1)
	s, err := NewServer(Config{
		ThisNode:  0,
		Persister: newFakePersister(),
		Seed:      &seed,
		Apply: func(_ LogEntry, index Index) {
			applied = append(applied, index)
		},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	s.log.Append(LogEntry{Term: 1}, alwaysOK)
	s.log.Append(LogEntry{Term: 1}, alwaysOK)
	s.log.Append(LogEntry{Term: 1}, alwaysOK)
	s.commitIndex = 3
	s.applyCommitted()

	if len(applied) != 3 || applied[0] != 1 || applied[1] != 2 || applied[2] != 3 {
		t.Fatalf("applied = %v, want [1 2 3]", applied)
	}
	if s.LastApplied() != 3 {
		t.Fatalf("last_applied = %d, want 3", s.LastApplied())
	}
}
