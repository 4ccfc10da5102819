// Package model wires a cluster of raft nodes and exposes the operations the
// REPL and scenario layers are allowed to use. Callers never reach into node
// internals; their only surface is this facade plus the bus rule API.
package model

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Hemanth-S/consensus-playground/raft/node"
	"github.com/Hemanth-S/consensus-playground/raft/state"
	"github.com/Hemanth-S/consensus-playground/raft/types"
	"github.com/Hemanth-S/consensus-playground/sim/bus"
	"github.com/Hemanth-S/consensus-playground/sim/cluster"
	"github.com/Hemanth-S/consensus-playground/sim/random"
)

// WriteResult reports how a client write was handled.
type WriteResult int

const (
	// WriteAccepted means a live leader appended the command.
	WriteAccepted WriteResult = iota
	// WriteQueued means no leader was live and the command waits in the
	// pending queue until one is.
	WriteQueued
)

// String returns the result name.
func (r WriteResult) String() string {
	if r == WriteAccepted {
		return "Accepted"
	}
	return "Queued"
}

// New builds a model: one random source seeded once, a cluster, and a raft
// node per ID with mutual peer sets. Node IDs must be non-empty and unique.
func New(nodeIDs []types.NodeID, seed int64, log *zap.Logger, config node.Config) (*Model, error) {
	if len(nodeIDs) == 0 {
		return nil, errors.New("node list must not be empty")
	}
	if len(lo.Uniq(nodeIDs)) != len(nodeIDs) {
		return nil, errors.New("node IDs must be unique")
	}

	src := random.New(seed)
	c := cluster.New(src)

	m := &Model{
		cluster: c,
		nodeIDs: nodeIDs,
		byID:    map[types.NodeID]*node.Node{},
		seed:    seed,
		log:     log,
	}

	for _, id := range nodeIDs {
		n, err := node.New(id, nodeIDs, state.New(), c, src, log, config)
		if err != nil {
			return nil, err
		}
		m.byID[id] = n
		c.Add(n)
	}

	return m, nil
}

// Model is the facade over a simulated raft cluster.
type Model struct {
	cluster *cluster.Cluster
	nodeIDs []types.NodeID
	byID    map[types.NodeID]*node.Node
	seed    int64
	log     *zap.Logger

	pending []string
}

// Cluster returns the underlying driver for direct access (dump, scheduled
// events, fingerprints).
func (m *Model) Cluster() *cluster.Cluster {
	return m.cluster
}

// Bus returns the message bus for rule management.
func (m *Model) Bus() *bus.Bus {
	return m.cluster.Bus()
}

// Seed returns the seed this model was built with.
func (m *Model) Seed() int64 {
	return m.seed
}

// NodeIDs returns the IDs in registry order.
func (m *Model) NodeIDs() []types.NodeID {
	return lo.Map(m.nodeIDs, func(id types.NodeID, _ int) types.NodeID { return id })
}

// Node returns a node by ID.
func (m *Model) Node(id types.NodeID) (*node.Node, bool) {
	n, ok := m.byID[id]
	return n, ok
}

// Step advances the simulation one tick, verifies invariants, then flushes
// pending client writes to the leader if one is live.
func (m *Model) Step() error {
	if err := m.cluster.Step(); err != nil {
		return err
	}
	if err := m.CheckInvariants(); err != nil {
		return err
	}
	return m.flushPending()
}

// StepN advances the simulation n ticks.
func (m *Model) StepN(n int) error {
	for range n {
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Crash takes a node down. Unknown IDs are logged and ignored to keep
// scenarios forgiving.
func (m *Model) Crash(id types.NodeID) error {
	n, ok := m.byID[id]
	if !ok {
		m.log.Warn("Crash of unknown node ignored", zap.String("node", string(id)))
		return nil
	}
	if err := n.SetUp(false); err != nil {
		return err
	}
	m.log.Info("Node crashed", zap.String("node", string(id)),
		zap.Int("tick", int(m.cluster.Now())))
	return nil
}

// Recover brings a node back up. Unknown IDs are logged and ignored;
// recovering a live node is a no-op.
func (m *Model) Recover(id types.NodeID) error {
	n, ok := m.byID[id]
	if !ok {
		m.log.Warn("Recover of unknown node ignored", zap.String("node", string(id)))
		return nil
	}
	if err := n.SetUp(true); err != nil {
		return err
	}
	m.log.Info("Node recovered", zap.String("node", string(id)),
		zap.Int("tick", int(m.cluster.Now())))
	return nil
}

// Partition installs drop rules for every directed pair across the two
// groups, both directions.
func (m *Model) Partition(groupA, groupB []types.NodeID) {
	b := m.cluster.Bus()
	for _, a := range groupA {
		for _, bID := range groupB {
			b.AddRule(bus.Drop(a, bID))
			b.AddRule(bus.Drop(bID, a))
		}
	}
	m.log.Info("Partition installed",
		zap.Strings("groupA", nodeIDStrings(groupA)),
		zap.Strings("groupB", nodeIDStrings(groupB)))
}

// ClearPartitions clears all bus rules. This is intentionally coarse; callers
// that want finer granularity manage rules directly on the bus.
func (m *Model) ClearPartitions() {
	m.cluster.Bus().ClearRules()
	m.log.Info("All network rules cleared")
}

// ClientWrite hands a command to the live leader, or queues it when none is
// live. Queued commands are flushed FIFO at the end of each step.
func (m *Model) ClientWrite(command string) (WriteResult, error) {
	if leader, ok := m.currentLeader(); ok {
		accepted, err := leader.ClientWrite(command, m.cluster.Bus())
		if err != nil {
			return WriteQueued, err
		}
		if accepted {
			return WriteAccepted, nil
		}
	}
	m.pending = append(m.pending, command)
	return WriteQueued, nil
}

// PendingWrites returns the number of queued client writes.
func (m *Model) PendingWrites() int {
	return len(m.pending)
}

// CurrentLeaderID scans live nodes in registry order and returns the first
// leader. There is at most one live leader per term by invariant.
func (m *Model) CurrentLeaderID() (types.NodeID, bool) {
	if leader, ok := m.currentLeader(); ok {
		return leader.ID(), true
	}
	return types.ZeroNodeID, false
}

// LogsArePrefixConsistent reports whether for every pair of live nodes the
// shorter log equals the prefix of the longer one, entry by entry. Trivially
// true with at most one live node.
func (m *Model) LogsArePrefixConsistent() bool {
	live := lo.FilterMap(m.nodeIDs, func(id types.NodeID, _ int) (*node.Node, bool) {
		n := m.byID[id]
		return n, n.Up()
	})
	for i := range live {
		for j := i + 1; j < len(live); j++ {
			if !prefixConsistent(live[i].State(), live[j].State()) {
				return false
			}
		}
	}
	return true
}

// CheckInvariants verifies that at most one live node leads any term and that
// every log is well-formed. A violation is a bug in the simulator, not in the
// scenario, and aborts the run.
func (m *Model) CheckInvariants() error {
	leaders := map[types.Term]types.NodeID{}
	for _, id := range m.nodeIDs {
		n := m.byID[id]
		if !n.Up() {
			continue
		}
		if n.Role() == types.RoleLeader {
			term := n.State().CurrentTerm()
			if other, ok := leaders[term]; ok {
				return errors.Errorf("bug in protocol: nodes %s and %s both lead term %d",
					other, id, term)
			}
			leaders[term] = id
		}
		if err := wellFormedLog(n.State()); err != nil {
			return errors.Wrapf(err, "node %s", id)
		}
	}
	return nil
}

// Dump renders the model state: clock, leader, per-node summary, in registry
// order.
func (m *Model) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "RaftModel state:\n")
	fmt.Fprintf(&sb, "  Tick: %d\n", m.cluster.Now())
	fmt.Fprintf(&sb, "  Nodes: %d\n", len(m.nodeIDs))
	fmt.Fprintf(&sb, "  Pending messages: %d\n", m.cluster.Bus().Pending())
	fmt.Fprintf(&sb, "  Pending writes: %d\n", len(m.pending))

	if leader, ok := m.CurrentLeaderID(); ok {
		fmt.Fprintf(&sb, "  Current leader: %s\n", leader)
	} else {
		fmt.Fprintf(&sb, "  Current leader: none\n")
	}

	for _, id := range m.nodeIDs {
		n := m.byID[id]
		status := "UP"
		if !n.Up() {
			status = "DOWN"
		}
		fmt.Fprintf(&sb, "  %s: %s %s\n", id, status, n.Dump())
	}

	return sb.String()
}

func (m *Model) currentLeader() (*node.Node, bool) {
	for _, id := range m.nodeIDs {
		n := m.byID[id]
		if n.Up() && n.Role() == types.RoleLeader {
			return n, true
		}
	}
	return nil, false
}

func (m *Model) flushPending() error {
	leader, ok := m.currentLeader()
	if !ok {
		return nil
	}
	for len(m.pending) > 0 {
		accepted, err := leader.ClientWrite(m.pending[0], m.cluster.Bus())
		if err != nil {
			return err
		}
		if !accepted {
			return nil
		}
		m.pending = m.pending[1:]
	}
	return nil
}

func prefixConsistent(a, b *state.State) bool {
	n := min(a.LogLen(), b.LogLen())
	for i := types.Index(1); i <= n; i++ {
		ea, _ := a.EntryAt(i)
		eb, _ := b.EntryAt(i)
		if ea != eb {
			return false
		}
	}
	return true
}

func wellFormedLog(s *state.State) error {
	var prevTerm types.Term
	for i := types.Index(1); i <= s.LogLen(); i++ {
		entry, _ := s.EntryAt(i)
		if entry.Index != i {
			return errors.Errorf("log entry at position %d has index %d", i, entry.Index)
		}
		if entry.Term < prevTerm {
			return errors.Errorf("log term decreases at index %d", i)
		}
		prevTerm = entry.Term
	}
	if s.CommitIndex() > s.LogLen() {
		return errors.Errorf("commit index %d beyond log of %d", s.CommitIndex(), s.LogLen())
	}
	return nil
}

func nodeIDStrings(ids []types.NodeID) []string {
	return lo.Map(ids, func(id types.NodeID, _ int) string { return string(id) })
}
