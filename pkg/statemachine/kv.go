// Package statemachine is a demo application state machine: a replicated
// key/value store driven by committed raft.LogEntry values through the
// raft.ApplyFunc contract.
package statemachine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/raftnode/pkg/raft"
	"github.com/google/uuid"
)

// Command is the envelope carried in a LogEntry's Payload, mirroring the
// {op, data} shape the pack's replicated state machines use to multiplex a
// single log over several operation kinds.
type Command struct {
	Op    string          `json:"op"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

const (
	OpSet    = "set"
	OpDelete = "delete"
)

// NewEntry builds a user LogEntry carrying cmd, stamped with a fresh entry
// id. The leader appends the result via Server.Append; term is filled in
// by the caller (the current leader term) since the state machine has no
// view of Raft state.
func NewEntry(term raft.Term, cmd Command) (raft.LogEntry, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return raft.LogEntry{}, fmt.Errorf("statemachine: encode command: %w", err)
	}
	return raft.LogEntry{
		Kind:    raft.EntryUser,
		Term:    term,
		EntryID: uuid.New().String(),
		Payload: payload,
	}, nil
}

// KVStore is a minimal replicated map. Its Apply method matches
// raft.ApplyFunc and is meant to be passed directly as Config.Apply.
type KVStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewKVStore returns an empty store.
func NewKVStore() *KVStore {
	return &KVStore{data: make(map[string]json.RawMessage)}
}

// Apply decodes entry.Payload as a Command and applies it. Entries of kind
// EntryRegular (no-op heartbeats written at leadership establishment, if
// any) are ignored. Decode failures are dropped rather than panicking —
// the core has already committed the entry; refusing to apply it would
// desynchronize last_applied from commit_index.
func (k *KVStore) Apply(entry raft.LogEntry, _ raft.Index) {
	if entry.Kind != raft.EntryUser {
		return
	}
	var cmd Command
	if err := json.Unmarshal(entry.Payload, &cmd); err != nil {
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	switch cmd.Op {
	case OpSet:
		k.data[cmd.Key] = cmd.Value
	case OpDelete:
		delete(k.data, cmd.Key)
	}
}

// Get returns the raw JSON value stored at key, if any.
func (k *KVStore) Get(key string) (json.RawMessage, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.data[key]
	return v, ok
}

// Snapshot returns a point-in-time copy of the whole key space, suitable
// for handing to raft.Log.LoadSnapshot callers building a new follower's
// initial state out-of-band.
func (k *KVStore) Snapshot() map[string]json.RawMessage {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(k.data))
	for key, v := range k.data {
		out[key] = v
	}
	return out
}
