package node

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Hemanth-S/consensus-playground/raft/state"
	"github.com/Hemanth-S/consensus-playground/raft/types"
	"github.com/Hemanth-S/consensus-playground/raft/wire"
	"github.com/Hemanth-S/consensus-playground/sim/bus"
)

func TestLeaderSendsHeartbeatsOnCadence(t *testing.T) {
	requireT := require.New(t)
	n, ts, b := newTestNode(t, state.New())
	makeLeader(t, n, ts, b)

	// Within the heartbeat period nothing goes out.
	ts.Add(n.config.HeartbeatTicks - 1)
	requireT.NoError(n.OnTick(b))
	requireT.Empty(b.Drain(peer1))

	ts.Add(1)
	requireT.NoError(n.OnTick(b))
	for _, p := range []types.NodeID{peer1, peer2} {
		msg := drainOne(t, b, p)
		requireT.Equal(bus.KindAppendEntries, msg.Kind)
		requireT.True(msg.Payload.(wire.AppendEntries).Heartbeat())
	}
}

func TestLeaderClientWriteAppendsAndReplicates(t *testing.T) {
	requireT := require.New(t)
	n, ts, b := newTestNode(t, state.New())
	makeLeader(t, n, ts, b)

	accepted, err := n.ClientWrite("x=1", b)
	requireT.NoError(err)
	requireT.True(accepted)

	requireT.Equal([]state.LogEntry{
		{Term: 1, Index: 1, Command: "x=1"},
	}, n.state.Entries())

	for _, p := range []types.NodeID{peer1, peer2} {
		msg := drainOne(t, b, p)
		req := msg.Payload.(wire.AppendEntries)
		requireT.EqualValues(0, req.PrevLogIndex)
		requireT.Equal([]state.LogEntry{
			{Term: 1, Index: 1, Command: "x=1"},
		}, req.Entries)
	}
}

func TestLeaderAdvancesCommitOnMajorityAck(t *testing.T) {
	requireT := require.New(t)
	n, ts, b := newTestNode(t, state.New())
	makeLeader(t, n, ts, b)

	_, err := n.ClientWrite("x=1", b)
	requireT.NoError(err)
	b.Drain(peer1)
	b.Drain(peer2)
	requireT.EqualValues(0, n.state.CommitIndex())

	requireT.NoError(n.OnMessage(
		bus.NewMessage(peer1, nodeID, bus.KindAppendEntriesResp, wire.AppendEntriesResp{
			Term:       1,
			Success:    true,
			MatchIndex: 1,
		}), b))

	// Leader + peer1 is a majority of three.
	requireT.EqualValues(1, n.state.CommitIndex())
	requireT.EqualValues(2, n.nextIndex[peer1])
	requireT.EqualValues(1, n.matchIndex[peer1])
}

func TestLeaderRetriesOnFailedAppendEntries(t *testing.T) {
	requireT := require.New(t)
	s := state.New()
	requireT.NoError(s.SeedLog([]state.LogEntry{
		{Term: 1, Index: 1, Command: "a"},
		{Term: 1, Index: 2, Command: "b"},
	}))
	n, ts, b := newTestNode(t, s)
	requireT.NoError(s.SetCurrentTerm(1))
	makeLeader(t, n, ts, b)

	requireT.EqualValues(3, n.nextIndex[peer1])

	requireT.NoError(n.OnMessage(
		bus.NewMessage(peer1, nodeID, bus.KindAppendEntriesResp, wire.AppendEntriesResp{
			Term:    n.state.CurrentTerm(),
			Success: false,
		}), b))
	requireT.EqualValues(2, n.nextIndex[peer1])

	// The next heartbeat carries the tail from the decremented index.
	ts.Add(n.config.HeartbeatTicks)
	requireT.NoError(n.OnTick(b))
	msg := drainOne(t, b, peer1)
	req := msg.Payload.(wire.AppendEntries)
	requireT.EqualValues(1, req.PrevLogIndex)
	requireT.Len(req.Entries, 1)

	// nextIndex never drops below one.
	requireT.NoError(n.OnMessage(
		bus.NewMessage(peer1, nodeID, bus.KindAppendEntriesResp, wire.AppendEntriesResp{
			Term:    n.state.CurrentTerm(),
			Success: false,
		}), b))
	requireT.NoError(n.OnMessage(
		bus.NewMessage(peer1, nodeID, bus.KindAppendEntriesResp, wire.AppendEntriesResp{
			Term:    n.state.CurrentTerm(),
			Success: false,
		}), b))
	requireT.EqualValues(1, n.nextIndex[peer1])
}

func TestLeaderNeverCommitsPriorTermEntriesDirectly(t *testing.T) {
	requireT := require.New(t)
	s := state.New()
	requireT.NoError(s.SeedLog([]state.LogEntry{
		{Term: 1, Index: 1, Command: "old"},
	}))
	n, ts, b := newTestNode(t, s)
	requireT.NoError(s.SetCurrentTerm(1))
	makeLeader(t, n, ts, b)
	requireT.EqualValues(2, n.state.CurrentTerm())

	// The prior-term entry is acknowledged by a majority but must not commit.
	requireT.NoError(n.OnMessage(
		bus.NewMessage(peer1, nodeID, bus.KindAppendEntriesResp, wire.AppendEntriesResp{
			Term:       2,
			Success:    true,
			MatchIndex: 1,
		}), b))
	requireT.EqualValues(0, n.state.CommitIndex())

	// A current-term entry on top commits both transitively.
	_, err := n.ClientWrite("new", b)
	requireT.NoError(err)
	requireT.NoError(n.OnMessage(
		bus.NewMessage(peer1, nodeID, bus.KindAppendEntriesResp, wire.AppendEntriesResp{
			Term:       2,
			Success:    true,
			MatchIndex: 2,
		}), b))
	requireT.EqualValues(2, n.state.CommitIndex())
}

func TestLeaderStepsDownOnHigherTermResponse(t *testing.T) {
	requireT := require.New(t)
	n, ts, b := newTestNode(t, state.New())
	makeLeader(t, n, ts, b)

	requireT.NoError(n.OnMessage(
		bus.NewMessage(peer1, nodeID, bus.KindAppendEntriesResp, wire.AppendEntriesResp{
			Term:    7,
			Success: false,
		}), b))

	requireT.Equal(types.RoleFollower, n.role)
	requireT.EqualValues(7, n.state.CurrentTerm())
	requireT.Empty(n.nextIndex)
	requireT.Empty(n.matchIndex)
}

func TestLeaderStepsDownOnHigherTermAppendEntries(t *testing.T) {
	requireT := require.New(t)
	n, ts, b := newTestNode(t, state.New())
	makeLeader(t, n, ts, b)

	requireT.NoError(n.OnMessage(
		bus.NewMessage(peer1, nodeID, bus.KindAppendEntries, wire.AppendEntries{
			Term:     2,
			LeaderID: peer1,
		}), b))

	requireT.Equal(types.RoleFollower, n.role)
	requireT.EqualValues(2, n.state.CurrentTerm())
	msg := drainOne(t, b, peer1)
	requireT.Equal(wire.AppendEntriesResp{Term: 2, Success: true}, msg.Payload)
}

func TestTwoLeadersInOneTermIsFatal(t *testing.T) {
	requireT := require.New(t)
	n, ts, b := newTestNode(t, state.New())
	makeLeader(t, n, ts, b)

	err := n.OnMessage(
		bus.NewMessage(peer1, nodeID, bus.KindAppendEntries, wire.AppendEntries{
			Term:     1,
			LeaderID: peer1,
		}), b)
	requireT.Error(err)
}

func TestLeaderCrashResetsVolatileState(t *testing.T) {
	requireT := require.New(t)
	n, ts, b := newTestNode(t, state.New())
	makeLeader(t, n, ts, b)

	_, err := n.ClientWrite("x=1", b)
	requireT.NoError(err)

	requireT.NoError(n.SetUp(false))
	requireT.Equal(types.RoleFollower, n.role)
	requireT.Empty(n.nextIndex)
	requireT.Empty(n.matchIndex)

	// Log and term survive.
	requireT.EqualValues(1, n.state.LogLen())
	requireT.EqualValues(1, n.state.CurrentTerm())

	accepted, err := n.ClientWrite("x=2", b)
	requireT.NoError(err)
	requireT.False(accepted)
}
