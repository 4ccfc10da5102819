package node

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Hemanth-S/consensus-playground/raft/state"
	"github.com/Hemanth-S/consensus-playground/raft/types"
	"github.com/Hemanth-S/consensus-playground/sim/bus"
	"github.com/Hemanth-S/consensus-playground/sim/random"
)

func TestDefaultConfig(t *testing.T) {
	requireT := require.New(t)

	config := DefaultConfig()
	requireT.EqualValues(2, config.HeartbeatTicks)
	requireT.EqualValues(9, config.ElectionMinTicks)
	requireT.EqualValues(15, config.ElectionMaxTicks)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	requireT := require.New(t)

	ts := &bus.TestTickSource{}
	src := random.New(42)
	log := zap.NewNop()
	ids := []types.NodeID{nodeID, peer1}

	_, err := New(types.ZeroNodeID, ids, state.New(), ts, src, log, DefaultConfig())
	requireT.Error(err)

	config := DefaultConfig()
	config.HeartbeatTicks = 0
	_, err = New(nodeID, ids, state.New(), ts, src, log, config)
	requireT.Error(err)

	config = DefaultConfig()
	config.ElectionMinTicks = 0
	_, err = New(nodeID, ids, state.New(), ts, src, log, config)
	requireT.Error(err)

	config = DefaultConfig()
	config.ElectionMinTicks = 20
	_, err = New(nodeID, ids, state.New(), ts, src, log, config)
	requireT.Error(err)
}

func TestDumpFormats(t *testing.T) {
	requireT := require.New(t)
	n, ts, b := newTestNode(t, state.New())

	requireT.Equal("role=Follower, term=0, commit=0, logSize=0", n.Dump())

	makeLeader(t, n, ts, b)
	requireT.Equal(
		"role=Leader, term=1, commit=0, logSize=0, nextIndex={n2=1 n3=1}, matchIndex={n2=0 n3=0}",
		n.Dump())
}
