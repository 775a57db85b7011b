// Package storage provides durable implementations of raft.Persister.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/raftnode/pkg/raft"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketState   = []byte("state")
	bucketEntries = []byte("entries")

	keyTerm     = []byte("current_term")
	keyVotedFor = []byte("voted_for")
)

// BoltPersister implements raft.Persister over a single bbolt file: one
// bucket holds current_term/voted_for, the other holds log entries keyed
// by their big-endian index.
type BoltPersister struct {
	db *bolt.DB
}

// NewBoltPersister opens (creating if absent) raftnode.db under dataDir.
func NewBoltPersister(dataDir string) (*BoltPersister, error) {
	dbPath := filepath.Join(dataDir, "raftnode.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketState, bucketEntries} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltPersister{db: db}, nil
}

// Close closes the underlying database file.
func (s *BoltPersister) Close() error {
	return s.db.Close()
}

func entryKey(index raft.Index) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(index))
	return b
}

func (s *BoltPersister) PersistTerm(term raft.Term) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(term))
		return tx.Bucket(bucketState).Put(keyTerm, b)
	})
}

func (s *BoltPersister) PersistVote(votedFor *raft.NodeId) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if votedFor == nil {
			return b.Delete(keyVotedFor)
		}
		data := make([]byte, 8)
		binary.BigEndian.PutUint64(data, uint64(*votedFor))
		return b.Put(keyVotedFor, data)
	})
}

func (s *BoltPersister) PersistEntry(entry raft.LogEntry, index raft.Index) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEntries).Put(entryKey(index), data)
	})
}

func (s *BoltPersister) PersistTruncate(_ raft.LogEntry, index raft.Index) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete(entryKey(index))
	})
}

func (s *BoltPersister) PersistPoll(_ raft.LogEntry, index raft.Index) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete(entryKey(index))
	})
}

// LoadState reads back current_term and voted_for for startup recovery. A
// fresh database returns term 0 and a nil vote.
func (s *BoltPersister) LoadState() (raft.Term, *raft.NodeId, error) {
	var term raft.Term
	var votedFor *raft.NodeId

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if data := b.Get(keyTerm); data != nil {
			term = raft.Term(binary.BigEndian.Uint64(data))
		}
		if data := b.Get(keyVotedFor); data != nil {
			id := raft.NodeId(binary.BigEndian.Uint64(data))
			votedFor = &id
		}
		return nil
	})
	return term, votedFor, err
}

// LoadEntries replays every persisted log entry in index order, for
// rebuilding an in-memory Log at startup. The caller is expected to feed
// these into raft.Log.Append with a no-op persist hook (they are already
// durable).
func (s *BoltPersister) LoadEntries() ([]raft.LogEntry, error) {
	var entries []raft.LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e raft.LogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("storage: decode entry at key %x: %w", k, err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}
