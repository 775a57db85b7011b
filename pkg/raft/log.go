package raft

// PersistHook is the persistence port a Log mutation calls before
// committing to memory. A non-ok Status aborts the mutation of the entry
// the hook was called for, which stays as it was in memory (TruncateFrom
// keeps the entries it already removed earlier in the same call). The Log itself holds no reference to a Persister
// and performs no I/O — callers (the Server) supply the hook per call.
type PersistHook func(entry LogEntry, index Index) Status

// Log is an ordered, append-only sequence of entries addressed by 1-based
// index. base is the index of the entry just before the first held entry;
// entries at indices <= base have been polled (snapshotted away) and are
// no longer individually readable.
type Log struct {
	base    Index
	entries []LogEntry

	lastSnapshotTerm Term
}

// NewLog returns an empty log with base 0.
func NewLog() *Log {
	return &Log{}
}

// CurrentIndex is base + the number of held entries.
func (l *Log) CurrentIndex() Index {
	return l.base + Index(len(l.entries))
}

// Base returns the index of the entry just before the first held entry.
func (l *Log) Base() Index {
	return l.base
}

// At yields the entry at index, or false for index <= base or index >
// CurrentIndex(). Never panics on an out-of-range index.
func (l *Log) At(index Index) (LogEntry, bool) {
	if index <= l.base || index > l.CurrentIndex() {
		return LogEntry{}, false
	}
	return l.entries[index-l.base-1], true
}

// Tail returns the entry at CurrentIndex(), or false if the log is empty.
func (l *Log) Tail() (LogEntry, bool) {
	if len(l.entries) == 0 {
		return LogEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Append places entry at CurrentIndex()+1. The persist hook, if non-nil,
// runs before the entry is held in memory; a failure there aborts the
// append.
func (l *Log) Append(entry LogEntry, persist PersistHook) Status {
	idx := l.CurrentIndex() + 1
	if persist != nil {
		if st := persist(entry, idx); st != StatusOK {
			return st
		}
	}
	l.entries = append(l.entries, entry)
	return StatusOK
}

// TruncateFrom removes every entry at index >= max(index, base+1), tail to
// head (youngest first), invoking hook for each removed entry. A hook
// failure stops the operation: entries already removed stay removed, and
// TruncateFrom returns StatusFail. index == 0 is rejected outright.
func (l *Log) TruncateFrom(index Index, hook PersistHook) Status {
	if index == 0 {
		return StatusFail
	}
	start := index
	if start < l.base+1 {
		start = l.base + 1
	}
	for cur := l.CurrentIndex(); cur >= start && cur > l.base; cur-- {
		entry, ok := l.At(cur)
		if !ok {
			break
		}
		if hook != nil {
			if st := hook(entry, cur); st != StatusOK {
				return StatusFail
			}
		}
		l.entries = l.entries[:len(l.entries)-1]
	}
	return StatusOK
}

// Poll removes the head (oldest) entry, advances base by 1, and invokes
// hook with the removed entry and its former index. Rejects an empty log.
// A hook failure leaves the entry in place.
func (l *Log) Poll(hook PersistHook) Status {
	if len(l.entries) == 0 {
		return StatusFail
	}
	entry := l.entries[0]
	idx := l.base + 1
	if hook != nil {
		if st := hook(entry, idx); st != StatusOK {
			return StatusFail
		}
	}
	l.entries = l.entries[1:]
	l.base++
	return StatusOK
}

// LoadSnapshot discards every held entry and rebases the log at
// baseIndex/term. After this call CurrentIndex() == baseIndex.
func (l *Log) LoadSnapshot(baseIndex Index, term Term) {
	l.entries = nil
	l.base = baseIndex
	l.lastSnapshotTerm = term
}
