package raft

import "testing"

func alwaysOK(LogEntry, Index) Status { return StatusOK }

func TestLogAppendAndAt(t *testing.T) {
	l := NewLog()
	e := LogEntry{Kind: EntryUser, Term: 1, EntryID: "A"}

	if st := l.Append(e, alwaysOK); st != StatusOK {
		t.Fatalf("Append returned %v, want ok", st)
	}
	if l.CurrentIndex() != 1 {
		t.Fatalf("CurrentIndex = %d, want 1", l.CurrentIndex())
	}

	got, ok := l.At(1)
	if !ok {
		t.Fatal("At(1) = not found, want the appended entry")
	}
	if got.Term != e.Term || got.EntryID != e.EntryID {
		t.Fatalf("At(1) = %+v, want %+v", got, e)
	}
}

func TestLogAtBoundaries(t *testing.T) {
	l := NewLog()
	if _, ok := l.At(0); ok {
		t.Fatal("At(0) found an entry on an empty log")
	}
	l.Append(LogEntry{Term: 1, EntryID: "A"}, alwaysOK)
	if _, ok := l.At(l.CurrentIndex() + 1); ok {
		t.Fatal("At(current+1) found an entry that shouldn't exist")
	}
}

func TestLogAppendTailRoundTrip(t *testing.T) {
	l := NewLog()
	a := LogEntry{Term: 1, EntryID: "A"}
	l.Append(a, alwaysOK)

	got, ok := l.At(l.CurrentIndex())
	if !ok || got.EntryID != "A" {
		t.Fatalf("At(current_index) = %+v, %v; want A, true", got, ok)
	}
}

func TestLogPollThenAt(t *testing.T) {
	l := NewLog()
	l.Append(LogEntry{Term: 1, EntryID: "A"}, alwaysOK)
	l.Append(LogEntry{Term: 1, EntryID: "B"}, alwaysOK)

	before := l.CurrentIndex()
	if st := l.Poll(alwaysOK); st != StatusOK {
		t.Fatalf("Poll returned %v, want ok", st)
	}
	if l.CurrentIndex() != before {
		t.Fatalf("CurrentIndex changed from %d to %d after Poll", before, l.CurrentIndex())
	}
	if _, ok := l.At(1); ok {
		t.Fatal("At(1) found the polled entry")
	}
}

func TestLogPollEmptyFails(t *testing.T) {
	l := NewLog()
	if st := l.Poll(alwaysOK); st != StatusFail {
		t.Fatalf("Poll on empty log = %v, want fail", st)
	}
}

func TestLogTruncateFromRejectsZero(t *testing.T) {
	l := NewLog()
	l.Append(LogEntry{Term: 1, EntryID: "A"}, alwaysOK)
	if st := l.TruncateFrom(0, alwaysOK); st != StatusFail {
		t.Fatalf("TruncateFrom(0) = %v, want fail", st)
	}
	if l.CurrentIndex() != 1 {
		t.Fatal("log mutated after rejected TruncateFrom(0)")
	}
}

func TestLogTruncateFromRoundTrip(t *testing.T) {
	l := NewLog()
	l.Append(LogEntry{Term: 1, EntryID: "A"}, alwaysOK)
	l.Append(LogEntry{Term: 1, EntryID: "B"}, alwaysOK)
	l.Append(LogEntry{Term: 1, EntryID: "C"}, alwaysOK)

	var removedOrder []string
	hook := func(e LogEntry, _ Index) Status {
		removedOrder = append(removedOrder, e.EntryID)
		return StatusOK
	}

	if st := l.TruncateFrom(2, hook); st != StatusOK {
		t.Fatalf("TruncateFrom(2) = %v, want ok", st)
	}
	if len(removedOrder) != 2 || removedOrder[0] != "C" || removedOrder[1] != "B" {
		t.Fatalf("removal order = %v, want [C B] (youngest first)", removedOrder)
	}

	got, ok := l.At(1)
	if !ok || got.EntryID != "A" {
		t.Fatalf("At(1) = %+v, %v; want A, true", got, ok)
	}
	if _, ok := l.At(2); ok {
		t.Fatal("At(2) found an entry after truncation")
	}
	if _, ok := l.At(3); ok {
		t.Fatal("At(3) found an entry after truncation")
	}
	if l.CurrentIndex() != 1 {
		t.Fatalf("CurrentIndex = %d, want 1", l.CurrentIndex())
	}
}

func TestLogTruncateFromIsIdempotentGoingForward(t *testing.T) {
	l := NewLog()
	l.Append(LogEntry{Term: 1, EntryID: "A"}, alwaysOK)
	l.Append(LogEntry{Term: 1, EntryID: "B"}, alwaysOK)
	l.Append(LogEntry{Term: 1, EntryID: "C"}, alwaysOK)

	l.TruncateFrom(2, alwaysOK)
	before := l.CurrentIndex()
	if st := l.TruncateFrom(3, alwaysOK); st != StatusOK {
		t.Fatalf("second TruncateFrom = %v, want ok", st)
	}
	if l.CurrentIndex() != before {
		t.Fatalf("second TruncateFrom mutated the log: %d -> %d", before, l.CurrentIndex())
	}
}

func TestLogTruncateFromHookFailureStopsPartway(t *testing.T) {
	l := NewLog()
	l.Append(LogEntry{Term: 1, EntryID: "A"}, alwaysOK)
	l.Append(LogEntry{Term: 1, EntryID: "B"}, alwaysOK)
	l.Append(LogEntry{Term: 1, EntryID: "C"}, alwaysOK)

	calls := 0
	hook := func(LogEntry, Index) Status {
		calls++
		if calls == 2 {
			return StatusFail
		}
		return StatusOK
	}

	if st := l.TruncateFrom(1, hook); st != StatusFail {
		t.Fatalf("TruncateFrom = %v, want fail", st)
	}
	if l.CurrentIndex() != 2 {
		t.Fatalf("CurrentIndex = %d, want 2 (one entry removed before the hook vetoed)", l.CurrentIndex())
	}
}

func TestLogLoadSnapshot(t *testing.T) {
	l := NewLog()
	l.Append(LogEntry{Term: 1, EntryID: "A"}, alwaysOK)
	l.Append(LogEntry{Term: 1, EntryID: "B"}, alwaysOK)

	l.LoadSnapshot(5, 2)
	if l.CurrentIndex() != 5 {
		t.Fatalf("CurrentIndex after LoadSnapshot = %d, want 5", l.CurrentIndex())
	}
	if _, ok := l.At(5); ok {
		t.Fatal("At(base) found an entry right after LoadSnapshot")
	}
	if _, ok := l.At(1); ok {
		t.Fatal("At(1) found a pre-snapshot entry")
	}
}
