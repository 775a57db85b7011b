package storage

import (
	"sync"

	"github.com/cuemby/raftnode/pkg/raft"
)

// MemPersister is an in-memory raft.Persister for tests and single-process
// demos where durability across restarts does not matter.
type MemPersister struct {
	mu       sync.Mutex
	term     raft.Term
	votedFor *raft.NodeId
	entries  map[raft.Index]raft.LogEntry
}

// NewMemPersister returns an empty persister at term 0 with no vote.
func NewMemPersister() *MemPersister {
	return &MemPersister{entries: make(map[raft.Index]raft.LogEntry)}
}

func (m *MemPersister) PersistTerm(term raft.Term) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.term = term
	return nil
}

func (m *MemPersister) PersistVote(votedFor *raft.NodeId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if votedFor == nil {
		m.votedFor = nil
		return nil
	}
	id := *votedFor
	m.votedFor = &id
	return nil
}

func (m *MemPersister) PersistEntry(entry raft.LogEntry, index raft.Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[index] = entry
	return nil
}

func (m *MemPersister) PersistTruncate(_ raft.LogEntry, index raft.Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, index)
	return nil
}

func (m *MemPersister) PersistPoll(_ raft.LogEntry, index raft.Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, index)
	return nil
}

func (m *MemPersister) LoadState() (raft.Term, *raft.NodeId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.votedFor == nil {
		return m.term, nil, nil
	}
	id := *m.votedFor
	return m.term, &id, nil
}
