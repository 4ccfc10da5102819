package node

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Hemanth-S/consensus-playground/raft/state"
	"github.com/Hemanth-S/consensus-playground/raft/types"
	"github.com/Hemanth-S/consensus-playground/raft/wire"
	"github.com/Hemanth-S/consensus-playground/sim/bus"
	"github.com/Hemanth-S/consensus-playground/sim/random"
)

// Config holds the tick-denominated timers of a node. The election window
// must be wider than the heartbeat period to make split votes unlikely.
type Config struct {
	HeartbeatTicks   types.Tick
	ElectionMinTicks types.Tick
	ElectionMaxTicks types.Tick
}

// DefaultConfig returns the default timer configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatTicks:   2,
		ElectionMinTicks: 9,
		ElectionMaxTicks: 15,
	}
}

// New creates a raft node. The peer set excludes the node itself; the random
// source must be the cluster-wide one.
func New(
	id types.NodeID,
	peers []types.NodeID,
	s *state.State,
	ticks bus.TickSource,
	src *random.Source,
	log *zap.Logger,
	config Config,
) (*Node, error) {
	if id == types.ZeroNodeID {
		return nil, errors.New("node id must not be empty")
	}
	if config.HeartbeatTicks <= 0 {
		return nil, errors.Errorf("invalid heartbeat period %d", config.HeartbeatTicks)
	}
	if config.ElectionMinTicks <= 0 || config.ElectionMinTicks > config.ElectionMaxTicks {
		return nil, errors.Errorf("invalid election window [%d, %d]",
			config.ElectionMinTicks, config.ElectionMaxTicks)
	}

	n := &Node{
		id:         id,
		peers:      make([]types.NodeID, 0, len(peers)),
		state:      s,
		ticks:      ticks,
		src:        src,
		log:        log.With(zap.String("node", string(id))),
		config:     config,
		up:         true,
		nextIndex:  map[types.NodeID]types.Index{},
		matchIndex: map[types.NodeID]types.Index{},
	}
	for _, p := range peers {
		if p != id {
			n.peers = append(n.peers, p)
		}
	}
	n.total = len(n.peers) + 1
	if err := n.transitionToFollower(); err != nil {
		return nil, err
	}

	return n, nil
}

// Node implements Raft's state machine on top of the simulated clock and bus.
type Node struct {
	id     types.NodeID
	peers  []types.NodeID
	total  int
	state  *state.State
	ticks  bus.TickSource
	src    *random.Source
	log    *zap.Logger
	config Config

	role types.Role
	up   bool

	lastActivity    types.Tick
	electionTimeout types.Tick

	// Candidate specific.
	votesReceived int

	// Leader specific.
	nextIndex  map[types.NodeID]types.Index
	matchIndex map[types.NodeID]types.Index
}

// ID returns the node identifier.
func (n *Node) ID() types.NodeID {
	return n.id
}

// Up reports whether the node is live.
func (n *Node) Up() bool {
	return n.up
}

// Role returns the current role.
func (n *Node) Role() types.Role {
	return n.role
}

// State returns the node state for introspection. Callers must not mutate it
// while the simulation is running.
func (n *Node) State() *state.State {
	return n.state
}

// SetUp crashes or recovers the node. A crash demotes to follower and wipes
// the volatile leader state; persistent state survives. Recovery restarts the
// election timer from the current tick, not from crash time.
func (n *Node) SetUp(up bool) error {
	if up == n.up {
		return nil
	}
	if !up {
		n.up = false
		n.role = types.RoleFollower
		n.votesReceived = 0
		clear(n.nextIndex)
		clear(n.matchIndex)
		return nil
	}

	n.up = true
	if err := n.transitionToFollower(); err != nil {
		return err
	}
	n.lastActivity = n.ticks.Now()
	return nil
}

// OnTick runs the role's timer logic for the current tick.
func (n *Node) OnTick(b *bus.Bus) error {
	now := n.ticks.Now()

	switch n.role {
	case types.RoleFollower, types.RoleCandidate:
		if now-n.lastActivity > n.electionTimeout {
			return n.startElection(b)
		}
	case types.RoleLeader:
		if now-n.lastActivity >= n.config.HeartbeatTicks {
			n.lastActivity = now
			return n.broadcastAppendEntries(b)
		}
	}

	return nil
}

// OnMessage dispatches an incoming RPC to its handler.
func (n *Node) OnMessage(msg bus.Message, b *bus.Bus) error {
	switch payload := msg.Payload.(type) {
	case wire.RequestVote:
		return n.applyRequestVote(msg.From, payload, b)
	case wire.RequestVoteResp:
		return n.applyRequestVoteResp(payload, b)
	case wire.AppendEntries:
		return n.applyAppendEntries(msg.From, payload, b)
	case wire.AppendEntriesResp:
		return n.applyAppendEntriesResp(msg.From, payload)
	default:
		return errors.Errorf("unexpected message type %T", payload)
	}
}

// ClientWrite appends a command to the log. Only a leader accepts; the entry
// is pushed to the peers immediately instead of waiting for the heartbeat.
func (n *Node) ClientWrite(command string, b *bus.Bus) (bool, error) {
	if !n.up || n.role != types.RoleLeader {
		return false, nil
	}

	entry := n.state.Append(command)
	n.lastActivity = n.ticks.Now()
	if err := n.advanceCommitIndex(); err != nil {
		return false, err
	}
	if err := n.broadcastAppendEntries(b); err != nil {
		return false, err
	}

	n.log.Debug("Accepted client write",
		zap.String("command", command),
		zap.Uint64("index", uint64(entry.Index)))

	return true, nil
}

// Dump renders the node state in a stable, seed-reproducible format.
func (n *Node) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "role=%s, term=%d, commit=%d, logSize=%d",
		n.role, n.state.CurrentTerm(), n.state.CommitIndex(), n.state.LogLen())
	if n.role == types.RoleLeader {
		next := make([]string, 0, len(n.peers))
		match := make([]string, 0, len(n.peers))
		for _, p := range n.peers {
			next = append(next, fmt.Sprintf("%s=%d", p, n.nextIndex[p]))
			match = append(match, fmt.Sprintf("%s=%d", p, n.matchIndex[p]))
		}
		fmt.Fprintf(&sb, ", nextIndex={%s}, matchIndex={%s}",
			strings.Join(next, " "), strings.Join(match, " "))
	}
	return sb.String()
}

func (n *Node) applyRequestVote(from types.NodeID, req wire.RequestVote, b *bus.Bus) error {
	if req.Term > n.state.CurrentTerm() {
		if err := n.state.SetCurrentTerm(req.Term); err != nil {
			return err
		}
		if n.role != types.RoleFollower {
			if err := n.transitionToFollower(); err != nil {
				return err
			}
		}
	}

	granted := false
	if req.Term == n.state.CurrentTerm() && n.logUpToDate(req.LastLogIndex, req.LastLogTerm) {
		var err error
		granted, err = n.state.VoteFor(req.CandidateID)
		if err != nil {
			return err
		}
		if granted {
			n.lastActivity = n.ticks.Now()
		}
	}

	b.Send(bus.NewMessage(n.id, from, bus.KindRequestVoteResp, wire.RequestVoteResp{
		Term:    n.state.CurrentTerm(),
		Granted: granted,
	}))
	return nil
}

func (n *Node) applyRequestVoteResp(resp wire.RequestVoteResp, b *bus.Bus) error {
	if resp.Term > n.state.CurrentTerm() {
		if err := n.state.SetCurrentTerm(resp.Term); err != nil {
			return err
		}
		if n.role != types.RoleFollower {
			return n.transitionToFollower()
		}
		return nil
	}

	if n.role != types.RoleCandidate || resp.Term != n.state.CurrentTerm() || !resp.Granted {
		return nil
	}

	n.votesReceived++
	if n.votesReceived > n.total/2 {
		return n.becomeLeader(b)
	}
	return nil
}

func (n *Node) applyAppendEntries(from types.NodeID, req wire.AppendEntries, b *bus.Bus) error {
	if req.Term < n.state.CurrentTerm() {
		b.Send(bus.NewMessage(n.id, from, bus.KindAppendEntriesResp, wire.AppendEntriesResp{
			Term:    n.state.CurrentTerm(),
			Success: false,
		}))
		return nil
	}

	if n.role == types.RoleLeader && req.Term == n.state.CurrentTerm() {
		return errors.New("bug in protocol: two leaders in one term")
	}

	if req.Term > n.state.CurrentTerm() {
		if err := n.state.SetCurrentTerm(req.Term); err != nil {
			return err
		}
	}
	if n.role != types.RoleFollower {
		if err := n.transitionToFollower(); err != nil {
			return err
		}
	}
	n.lastActivity = n.ticks.Now()

	if req.PrevLogIndex > 0 {
		if req.PrevLogIndex > n.state.LogLen() {
			b.Send(bus.NewMessage(n.id, from, bus.KindAppendEntriesResp, wire.AppendEntriesResp{
				Term:    n.state.CurrentTerm(),
				Success: false,
			}))
			return nil
		}
		term, err := n.state.TermAt(req.PrevLogIndex)
		if err != nil {
			return err
		}
		if term != req.PrevLogTerm {
			b.Send(bus.NewMessage(n.id, from, bus.KindAppendEntriesResp, wire.AppendEntriesResp{
				Term:    n.state.CurrentTerm(),
				Success: false,
			}))
			return nil
		}
	}

	if err := n.state.ApplyEntries(req.PrevLogIndex, req.Entries); err != nil {
		return err
	}

	if req.LeaderCommit > n.state.CommitIndex() {
		if err := n.state.SetCommitIndex(min(req.LeaderCommit, n.state.LogLen())); err != nil {
			return err
		}
	}

	b.Send(bus.NewMessage(n.id, from, bus.KindAppendEntriesResp, wire.AppendEntriesResp{
		Term:       n.state.CurrentTerm(),
		Success:    true,
		MatchIndex: req.PrevLogIndex + types.Index(len(req.Entries)),
	}))
	return nil
}

func (n *Node) applyAppendEntriesResp(from types.NodeID, resp wire.AppendEntriesResp) error {
	if resp.Term > n.state.CurrentTerm() {
		if err := n.state.SetCurrentTerm(resp.Term); err != nil {
			return err
		}
		if n.role != types.RoleFollower {
			return n.transitionToFollower()
		}
		return nil
	}

	if n.role != types.RoleLeader || resp.Term != n.state.CurrentTerm() {
		return nil
	}

	if resp.Success {
		n.nextIndex[from] = resp.MatchIndex + 1
		n.matchIndex[from] = resp.MatchIndex
		return n.advanceCommitIndex()
	}

	if n.nextIndex[from] > 1 {
		n.nextIndex[from]--
	}
	return nil
}

func (n *Node) startElection(b *bus.Bus) error {
	if err := n.state.SetCurrentTerm(n.state.CurrentTerm() + 1); err != nil {
		return err
	}
	granted, err := n.state.VoteFor(n.id)
	if err != nil {
		return err
	}
	if !granted {
		return errors.New("bug in protocol: vote for self rejected")
	}

	n.role = types.RoleCandidate
	n.votesReceived = 1
	n.lastActivity = n.ticks.Now()
	if err := n.resetElectionTimer(); err != nil {
		return err
	}

	n.log.Debug("Started election", zap.Uint64("term", uint64(n.state.CurrentTerm())))

	if n.votesReceived > n.total/2 {
		return n.becomeLeader(b)
	}

	req := wire.RequestVote{
		Term:         n.state.CurrentTerm(),
		CandidateID:  n.id,
		LastLogIndex: n.state.LastLogIndex(),
		LastLogTerm:  n.state.LastLogTerm(),
	}
	for _, p := range n.peers {
		b.Send(bus.NewMessage(n.id, p, bus.KindRequestVote, req))
	}
	return nil
}

func (n *Node) becomeLeader(b *bus.Bus) error {
	n.role = types.RoleLeader
	for _, p := range n.peers {
		n.nextIndex[p] = n.state.LastLogIndex() + 1
		n.matchIndex[p] = 0
	}
	n.lastActivity = n.ticks.Now()

	n.log.Info("Became leader", zap.Uint64("term", uint64(n.state.CurrentTerm())))

	return n.broadcastAppendEntries(b)
}

func (n *Node) transitionToFollower() error {
	n.role = types.RoleFollower
	n.votesReceived = 0
	clear(n.nextIndex)
	clear(n.matchIndex)
	return n.resetElectionTimer()
}

func (n *Node) resetElectionTimer() error {
	timeout, err := n.src.Jitter(int(n.config.ElectionMinTicks), int(n.config.ElectionMaxTicks))
	if err != nil {
		return err
	}
	n.electionTimeout = types.Tick(timeout)
	return nil
}

func (n *Node) broadcastAppendEntries(b *bus.Bus) error {
	for _, p := range n.peers {
		next := n.nextIndex[p]
		if next == 0 {
			next = n.state.LastLogIndex() + 1
		}
		prev := next - 1
		prevTerm, err := n.state.TermAt(prev)
		if err != nil {
			return err
		}
		b.Send(bus.NewMessage(n.id, p, bus.KindAppendEntries, wire.AppendEntries{
			Term:         n.state.CurrentTerm(),
			LeaderID:     n.id,
			PrevLogIndex: prev,
			PrevLogTerm:  prevTerm,
			Entries:      n.state.EntriesFrom(next),
			LeaderCommit: n.state.CommitIndex(),
		}))
	}
	return nil
}

// advanceCommitIndex computes the largest index replicated on a strict
// majority and commits it, but only if the entry was appended in the current
// term. Prior-term entries commit transitively.
func (n *Node) advanceCommitIndex() error {
	matches := make([]types.Index, 0, n.total)
	for _, p := range n.peers {
		matches = append(matches, n.matchIndex[p])
	}
	matches = append(matches, n.state.LastLogIndex())
	sort.Slice(matches, func(i, j int) bool {
		return matches[i] > matches[j]
	})

	candidate := matches[n.total/2]
	if candidate <= n.state.CommitIndex() {
		return nil
	}
	term, err := n.state.TermAt(candidate)
	if err != nil {
		return err
	}
	if term != n.state.CurrentTerm() {
		return nil
	}
	return n.state.SetCommitIndex(candidate)
}

func (n *Node) logUpToDate(lastLogIndex types.Index, lastLogTerm types.Term) bool {
	return lastLogTerm > n.state.LastLogTerm() ||
		(lastLogTerm == n.state.LastLogTerm() && lastLogIndex >= n.state.LastLogIndex())
}
