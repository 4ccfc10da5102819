package node

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Hemanth-S/consensus-playground/raft/state"
	"github.com/Hemanth-S/consensus-playground/raft/types"
	"github.com/Hemanth-S/consensus-playground/raft/wire"
	"github.com/Hemanth-S/consensus-playground/sim/bus"
	"github.com/Hemanth-S/consensus-playground/sim/random"
)

const (
	nodeID = types.NodeID("n1")
	peer1  = types.NodeID("n2")
	peer2  = types.NodeID("n3")
)

func newTestNode(t *testing.T, s *state.State, ids ...types.NodeID) (*Node, *bus.TestTickSource, *bus.Bus) {
	if len(ids) == 0 {
		ids = []types.NodeID{nodeID, peer1, peer2}
	}
	ts := &bus.TestTickSource{}
	src := random.New(42)
	b := bus.New(ts, src)
	n, err := New(nodeID, ids, s, ts, src, zap.NewNop(), DefaultConfig())
	require.NoError(t, err)
	return n, ts, b
}

// makeCandidate advances virtual time past the election timeout and ticks the
// node so it starts an election. Vote requests are left in the peer inboxes.
func makeCandidate(t *testing.T, n *Node, ts *bus.TestTickSource, b *bus.Bus) {
	ts.Add(n.electionTimeout + 1)
	require.NoError(t, n.OnTick(b))
	require.Equal(t, types.RoleCandidate, n.role)
}

// makeLeader elects the node by granting it peer1's vote.
func makeLeader(t *testing.T, n *Node, ts *bus.TestTickSource, b *bus.Bus) {
	makeCandidate(t, n, ts, b)
	for _, p := range n.peers {
		b.Drain(p)
	}
	require.NoError(t, n.OnMessage(
		bus.NewMessage(peer1, nodeID, bus.KindRequestVoteResp, wire.RequestVoteResp{
			Term:    n.state.CurrentTerm(),
			Granted: true,
		}), b))
	require.Equal(t, types.RoleLeader, n.role)
	for _, p := range n.peers {
		b.Drain(p)
	}
}

func drainOne(t *testing.T, b *bus.Bus, id types.NodeID) bus.Message {
	msgs := b.Drain(id)
	require.Len(t, msgs, 1)
	return msgs[0]
}
