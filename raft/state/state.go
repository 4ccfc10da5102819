package state

import (
	"github.com/pkg/errors"

	"github.com/Hemanth-S/consensus-playground/raft/types"
)

// LogEntry is a single entry of the replicated log. Equality is structural
// over all three fields.
type LogEntry struct {
	Term    types.Term
	Index   types.Index
	Command string
}

// New creates empty node state.
func New() *State {
	return &State{}
}

// State holds the per-node Raft state. The persistent part (term, vote, log)
// survives crashes; the volatile part (commit and applied indices) only moves
// forward and is not reset on crashes or role changes.
type State struct {
	currentTerm types.Term
	votedFor    types.NodeID
	log         []LogEntry

	commitIndex types.Index
	lastApplied types.Index
}

// CurrentTerm returns the current term.
func (s *State) CurrentTerm() types.Term {
	return s.currentTerm
}

// SetCurrentTerm sets the current term. The term must be greater than the
// current one; a lower or equal term indicates a protocol inconsistency.
// Entering a new term resets the recorded vote.
func (s *State) SetCurrentTerm(term types.Term) error {
	if term <= s.currentTerm {
		return errors.New("bug in protocol: term may only increase")
	}
	s.currentTerm = term
	s.votedFor = types.ZeroNodeID
	return nil
}

// VotedFor returns the candidate voted for in the current term, if any.
func (s *State) VotedFor() (types.NodeID, bool) {
	return s.votedFor, s.votedFor != types.ZeroNodeID
}

// VoteFor records a vote for the candidate in the current term. The vote is
// granted iff no vote has been cast yet or the same candidate was voted for
// before.
func (s *State) VoteFor(candidate types.NodeID) (bool, error) {
	if candidate == types.ZeroNodeID {
		return false, errors.New("bug in protocol: vote for zero node")
	}
	if s.votedFor != types.ZeroNodeID && s.votedFor != candidate {
		return false, nil
	}
	s.votedFor = candidate
	return true, nil
}

// LogLen returns the number of log entries.
func (s *State) LogLen() types.Index {
	return types.Index(len(s.log))
}

// LastLogIndex returns the index of the last entry, 0 for an empty log.
func (s *State) LastLogIndex() types.Index {
	return types.Index(len(s.log))
}

// LastLogTerm returns the term of the last entry, 0 for an empty log.
func (s *State) LastLogTerm() types.Term {
	if len(s.log) == 0 {
		return 0
	}
	return s.log[len(s.log)-1].Term
}

// EntryAt returns the entry at a 1-based index.
func (s *State) EntryAt(i types.Index) (LogEntry, bool) {
	if i < 1 || i > types.Index(len(s.log)) {
		return LogEntry{}, false
	}
	return s.log[i-1], true
}

// TermAt returns the term of the entry at a 1-based index, 0 for index 0.
func (s *State) TermAt(i types.Index) (types.Term, error) {
	if i == 0 {
		return 0, nil
	}
	if i > types.Index(len(s.log)) {
		return 0, errors.Errorf("bug in protocol: no log entry at index %d", i)
	}
	return s.log[i-1].Term, nil
}

// EntriesFrom returns a copy of the entries starting at a 1-based index.
func (s *State) EntriesFrom(i types.Index) []LogEntry {
	if i < 1 || i > types.Index(len(s.log)) {
		return nil
	}
	entries := make([]LogEntry, len(s.log)-int(i-1))
	copy(entries, s.log[i-1:])
	return entries
}

// Entries returns a copy of the whole log.
func (s *State) Entries() []LogEntry {
	return s.EntriesFrom(1)
}

// Append appends a new entry carrying the command at the next index in the
// current term and returns it.
func (s *State) Append(command string) LogEntry {
	entry := LogEntry{
		Term:    s.currentTerm,
		Index:   types.Index(len(s.log) + 1),
		Command: command,
	}
	s.log = append(s.log, entry)
	return entry
}

// ApplyEntries merges incoming entries starting after prevIndex. At the first
// position where the local log disagrees (different term at the same index)
// the local log is truncated and the remaining incoming entries are appended.
// Entries already identical are left untouched, so applying the same request
// twice yields the same log.
func (s *State) ApplyEntries(prevIndex types.Index, entries []LogEntry) error {
	for n, entry := range entries {
		i := prevIndex + types.Index(n) + 1
		if entry.Index != i {
			return errors.Errorf("bug in protocol: entry index %d at position %d", entry.Index, i)
		}
		if i <= types.Index(len(s.log)) {
			if s.log[i-1].Term == entry.Term {
				continue
			}
			s.log = s.log[:i-1]
		}
		s.log = append(s.log, entries[n:]...)
		break
	}
	return nil
}

// SeedLog replaces the log with the given entries. Used to install initial
// scenario state before the simulation starts.
func (s *State) SeedLog(entries []LogEntry) error {
	for n, entry := range entries {
		if entry.Index != types.Index(n+1) {
			return errors.Errorf("invalid seed log: entry index %d at position %d", entry.Index, n+1)
		}
		if n > 0 && entry.Term < entries[n-1].Term {
			return errors.Errorf("invalid seed log: term decreases at index %d", n+1)
		}
	}
	s.log = make([]LogEntry, len(entries))
	copy(s.log, entries)
	return nil
}

// CommitIndex returns the highest committed index.
func (s *State) CommitIndex() types.Index {
	return s.commitIndex
}

// SetCommitIndex advances the commit index. It never retreats and never
// passes the end of the log.
func (s *State) SetCommitIndex(i types.Index) error {
	if i > types.Index(len(s.log)) {
		return errors.Errorf("bug in protocol: commit index %d beyond log of %d", i, len(s.log))
	}
	if i > s.commitIndex {
		s.commitIndex = i
	}
	return nil
}

// LastApplied returns the highest applied index.
func (s *State) LastApplied() types.Index {
	return s.lastApplied
}

// MarkApplied advances the applied index up to the commit index.
func (s *State) MarkApplied(i types.Index) error {
	if i > s.commitIndex {
		return errors.Errorf("bug in protocol: applying %d beyond commit %d", i, s.commitIndex)
	}
	if i > s.lastApplied {
		s.lastApplied = i
	}
	return nil
}
