package raft

// Persister is the durable-storage port. PersistTerm and PersistVote must
// complete before any reply depending on them is observable to a peer;
// PersistEntry is called from Log.Append and a failure there aborts the
// append. The Server never assumes persistence happens asynchronously —
// it calls these synchronously and treats a non-nil error as a failure of
// the operation: StatusFail, except in RecvVoteRequest, which replies
// not_granted with StatusOK.
type Persister interface {
	PersistTerm(term Term) error
	PersistVote(votedFor *NodeId) error
	PersistEntry(entry LogEntry, index Index) error
	PersistTruncate(entry LogEntry, index Index) error
	PersistPoll(entry LogEntry, index Index) error

	// LoadState returns the last durably written term and vote, for
	// startup recovery. A fresh store returns term 0 and a nil vote.
	LoadState() (Term, *NodeId, error)
}

// ApplyFunc is the application state machine's single entry point,
// invoked once per committed entry in index order. The core does not
// inspect or care about side effects.
type ApplyFunc func(entry LogEntry, index Index)
