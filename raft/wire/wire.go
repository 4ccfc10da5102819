// Package wire defines the RPC payloads exchanged between raft nodes. The
// set is closed; handlers do exhaustive case analysis on the payload type.
package wire

import (
	"github.com/Hemanth-S/consensus-playground/raft/state"
	"github.com/Hemanth-S/consensus-playground/raft/types"
)

// RequestVote is sent by candidates to gather votes.
type RequestVote struct {
	Term         types.Term
	CandidateID  types.NodeID
	LastLogIndex types.Index
	LastLogTerm  types.Term
}

// RequestVoteResp answers a RequestVote.
type RequestVoteResp struct {
	Term    types.Term
	Granted bool
}

// AppendEntries is sent by leaders to replicate entries; with no entries it
// serves as heartbeat.
type AppendEntries struct {
	Term         types.Term
	LeaderID     types.NodeID
	PrevLogIndex types.Index
	PrevLogTerm  types.Term
	Entries      []state.LogEntry
	LeaderCommit types.Index
}

// Heartbeat reports whether the request carries no entries.
func (r AppendEntries) Heartbeat() bool {
	return len(r.Entries) == 0
}

// AppendEntriesResp answers an AppendEntries.
type AppendEntriesResp struct {
	Term       types.Term
	Success    bool
	MatchIndex types.Index
}
