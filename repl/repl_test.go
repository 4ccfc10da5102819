package repl

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Hemanth-S/consensus-playground/raft/node"
)

func runScript(t *testing.T, script string) string {
	var out bytes.Buffer
	r := New(strings.NewReader(script), &out, zap.NewNop(), node.DefaultConfig())
	require.NoError(t, r.Run(context.Background()))
	return out.String()
}

func TestQuit(t *testing.T) {
	requireT := require.New(t)
	out := runScript(t, "quit\n")
	requireT.Contains(out, "> ")
}

func TestEOFEndsSession(t *testing.T) {
	requireT := require.New(t)
	out := runScript(t, "")
	requireT.Contains(out, "> ")
}

func TestUnknownCommand(t *testing.T) {
	requireT := require.New(t)
	out := runScript(t, "frobnicate\nquit\n")
	requireT.Contains(out, `unknown command "frobnicate"`)
}

func TestCommandsRequireModel(t *testing.T) {
	requireT := require.New(t)
	out := runScript(t, "step\nquit\n")
	requireT.Contains(out, "no model")
}

func TestInitAndStep(t *testing.T) {
	requireT := require.New(t)
	out := runScript(t, "init raft --nodes 3 --seed 12345\nstep 30\ndump state\nquit\n")
	requireT.Contains(out, "initialized raft model with 3 nodes, seed=12345")
	requireT.Contains(out, "t=30")
	requireT.Contains(out, "Current leader: n")
}

func TestWriteBeforeAndAfterElection(t *testing.T) {
	requireT := require.New(t)
	out := runScript(t, strings.Join([]string{
		"init raft --nodes 3 --seed 7",
		`write "a"`,
		"step 40",
		`write "b"`,
		"dump logs",
		"quit",
	}, "\n")+"\n")
	requireT.Contains(out, "Queued")
	requireT.Contains(out, "Accepted")
	requireT.Contains(out, `cmd="a"`)
	requireT.Contains(out, `cmd="b"`)
}

func TestCrashAndRecover(t *testing.T) {
	requireT := require.New(t)
	out := runScript(t, strings.Join([]string{
		"init raft --nodes 3 --seed 7",
		"crash n1",
		"dump nodes",
		"recover n1",
		"dump nodes",
		"quit",
	}, "\n")+"\n")
	requireT.Contains(out, "n1: DOWN")
	requireT.Contains(out, "n1: UP")
}

func TestPartitionCommands(t *testing.T) {
	requireT := require.New(t)
	out := runScript(t, strings.Join([]string{
		"init raft --nodes 5 --seed 7",
		"partition add n1,n2 n3,n4,n5",
		"dump net",
		"partition clear",
		"dump net",
		"quit",
	}, "\n")+"\n")
	requireT.Contains(out, "partition installed")
	requireT.Contains(out, "rules (12):")
	requireT.Contains(out, "rules cleared")
	requireT.Contains(out, "rules (0):")
}

func TestDelayAndDropCommands(t *testing.T) {
	requireT := require.New(t)
	out := runScript(t, strings.Join([]string{
		"init raft --nodes 3 --seed 7",
		"delay from=n1 to=n2 steps=3",
		"drop from=n2 to=n3 pct=0.5",
		"drop from=n3 to=n1",
		"dump net",
		"quit",
	}, "\n")+"\n")
	requireT.Contains(out, "delay from=n1 to=n2 type=* steps=3")
	requireT.Contains(out, "drop_pct from=n2 to=n3 type=* pct=0.50")
	requireT.Contains(out, "drop from=n3 to=n1 type=*")
}

func TestInvalidRuleArguments(t *testing.T) {
	requireT := require.New(t)
	out := runScript(t, strings.Join([]string{
		"init raft --nodes 3 --seed 7",
		"delay from=n1 steps=3",
		"drop from=n2 to=n3 pct=1.5",
		"quit",
	}, "\n")+"\n")
	requireT.Contains(out, "usage: delay")
	requireT.Contains(out, "invalid rule")
}

func TestLoadAndPlayScenario(t *testing.T) {
	requireT := require.New(t)

	path := filepath.Join(t.TempDir(), "base.yaml")
	requireT.NoError(os.WriteFile(path, []byte(`
scenario:
  model: "raft"
  seed: 12345
  cluster:
    nodes: [n1, n2, n3]
  assertions:
    - type: leader_exists
      args: {after: 30}
`), 0o600))

	out := runScript(t, "load "+path+"\nplay\nquit\n")
	requireT.Contains(out, "loaded scenario with 3 nodes, seed=12345")
	requireT.Contains(out, "PASS leader_exists")
}

func TestLoadReportsParseFailure(t *testing.T) {
	requireT := require.New(t)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	requireT.NoError(os.WriteFile(path, []byte(`
scenario:
  model: "paxos"
  cluster:
    nodes: [n1]
`), 0o600))

	out := runScript(t, "load "+path+"\nquit\n")
	requireT.Contains(out, "load failed")
}
