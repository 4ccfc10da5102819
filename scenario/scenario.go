// Package scenario loads YAML scenario documents and drives a raft model
// through their timelines and assertions.
package scenario

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Hemanth-S/consensus-playground/raft/model"
	"github.com/Hemanth-S/consensus-playground/raft/node"
	"github.com/Hemanth-S/consensus-playground/raft/state"
	"github.com/Hemanth-S/consensus-playground/raft/types"
	"github.com/Hemanth-S/consensus-playground/sim/bus"
)

// ErrUnknownModel is returned when a scenario names a consensus model other
// than raft.
var ErrUnknownModel = errors.New("unknown model")

// Scenario is the parsed document: cluster layout, initial state, network
// rules, a time-sorted action timeline and a set of assertions.
type Scenario struct {
	Model      string        `yaml:"model"`
	Seed       *int64        `yaml:"seed"`
	Cluster    ClusterSpec   `yaml:"cluster"`
	Initial    *InitialSpec  `yaml:"initial"`
	Network    *NetworkSpec  `yaml:"network"`
	Timeline   []TimedAction `yaml:"timeline"`
	Assertions []Assertion   `yaml:"assertions"`
}

// ClusterSpec names the nodes of the cluster.
type ClusterSpec struct {
	Nodes []string `yaml:"nodes"`
}

// InitialSpec is the optional pre-simulation state.
type InitialSpec struct {
	NodeState map[string]NodeStateSpec  `yaml:"node_state"`
	Logs      map[string][]LogEntrySpec `yaml:"logs"`
}

// NodeStateSpec is the initial state of one node.
type NodeStateSpec struct {
	Crashed bool `yaml:"crashed"`
}

// LogEntrySpec seeds one log entry; indices are assigned in order.
type LogEntrySpec struct {
	Term uint64 `yaml:"term"`
	Cmd  string `yaml:"cmd"`
}

// NetworkSpec lists the initial bus rules.
type NetworkSpec struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is the document form of a bus rule.
type RuleSpec struct {
	Match      MatchSpec `yaml:"match"`
	Action     string    `yaml:"action"`
	DelaySteps int       `yaml:"delay_steps"`
	Pct        float64   `yaml:"pct"`
}

// MatchSpec is the document form of a rule predicate. Between is shorthand
// for a bidirectional pair.
type MatchSpec struct {
	From          string   `yaml:"from"`
	To            string   `yaml:"to"`
	Type          string   `yaml:"type"`
	Between       []string `yaml:"between"`
	Bidirectional bool     `yaml:"bidirectional"`
}

// TimedAction groups actions fired at one tick.
type TimedAction struct {
	At      types.Tick   `yaml:"at"`
	Actions []ActionSpec `yaml:"actions"`
}

// ActionSpec is a single timeline action.
type ActionSpec struct {
	Kind string     `yaml:"kind"`
	Args ActionArgs `yaml:"args"`
}

// ActionArgs carries the arguments of every action kind; unused fields stay
// zero.
type ActionArgs struct {
	Node    string     `yaml:"node"`
	Command string     `yaml:"command"`
	Groups  [][]string `yaml:"groups"`
	GroupA  []string   `yaml:"groupA"`
	GroupB  []string   `yaml:"groupB"`
	From    string     `yaml:"from"`
	To      string     `yaml:"to"`
	Type    string     `yaml:"type"`
	Steps   types.Tick `yaml:"steps"`
	Pct     *float64   `yaml:"pct"`
	Ticks   int        `yaml:"ticks"`
}

// Assertion names a check evaluated after a tick.
type Assertion struct {
	Type string        `yaml:"type"`
	Args AssertionArgs `yaml:"args"`
}

// AssertionArgs carries assertion arguments.
type AssertionArgs struct {
	After types.Tick `yaml:"after"`
}

type document struct {
	Scenario Scenario `yaml:"scenario"`
}

// Load reads and validates a scenario file.
func Load(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, errors.WithStack(err)
	}
	s, err := Parse(raw)
	if err != nil {
		return Scenario{}, errors.Wrapf(err, "scenario file %s", path)
	}
	return s, nil
}

// Parse parses and validates a scenario document.
func Parse(raw []byte) (Scenario, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Scenario{}, errors.Wrap(err, "parsing scenario")
	}
	s := doc.Scenario

	if s.Model != "raft" {
		return Scenario{}, errors.Wrapf(ErrUnknownModel, "%q", s.Model)
	}
	if len(s.Cluster.Nodes) == 0 {
		return Scenario{}, errors.New("scenario cluster must name at least one node")
	}
	if len(lo.Uniq(s.Cluster.Nodes)) != len(s.Cluster.Nodes) {
		return Scenario{}, errors.New("scenario cluster nodes must be unique")
	}
	for _, ta := range s.Timeline {
		if ta.At < 0 {
			return Scenario{}, errors.Errorf("timeline action at negative tick %d", ta.At)
		}
	}

	return s, nil
}

// Rule converts a rule spec into a validated bus rule.
func (r RuleSpec) Rule() (bus.Rule, error) {
	m := bus.Match{
		From:          r.Match.From,
		To:            r.Match.To,
		Kind:          r.Match.Type,
		Bidirectional: r.Match.Bidirectional,
	}
	if len(r.Match.Between) == 2 {
		m.From = r.Match.Between[0]
		m.To = r.Match.Between[1]
		m.Bidirectional = true
	}
	if m.From == "" {
		m.From = bus.Wildcard
	}
	if m.To == "" {
		m.To = bus.Wildcard
	}
	if m.Kind == "" {
		m.Kind = bus.Wildcard
	}

	var action bus.Action
	switch r.Action {
	case "pass":
		action = bus.ActionPass
	case "drop":
		action = bus.ActionDrop
	case "delay":
		action = bus.ActionDelay
	case "drop_pct":
		action = bus.ActionDropProb
	default:
		return bus.Rule{}, errors.Errorf("unknown rule action %q", r.Action)
	}

	return bus.NewRule(m, action, types.Tick(r.DelaySteps), r.Pct)
}

// Build constructs a model from the scenario and applies its initial state:
// seed (wall clock when omitted), seeded logs, crashed nodes, network rules.
func Build(s Scenario, log *zap.Logger, config node.Config) (*model.Model, error) {
	seed := time.Now().UnixNano()
	if s.Seed != nil {
		seed = *s.Seed
	}

	ids := lo.Map(s.Cluster.Nodes, func(id string, _ int) types.NodeID { return types.NodeID(id) })
	m, err := model.New(ids, seed, log, config)
	if err != nil {
		return nil, err
	}

	if err := Apply(s, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Apply installs the scenario's initial state and network rules on an
// existing model.
func Apply(s Scenario, m *model.Model) error {
	if s.Initial != nil {
		for _, id := range s.Cluster.Nodes {
			entries, ok := s.Initial.Logs[id]
			if !ok {
				continue
			}
			n, ok := m.Node(types.NodeID(id))
			if !ok {
				continue
			}
			seeded := lo.Map(entries, func(e LogEntrySpec, i int) state.LogEntry {
				return state.LogEntry{
					Term:    types.Term(e.Term),
					Index:   types.Index(i + 1),
					Command: e.Cmd,
				}
			})
			if err := n.State().SeedLog(seeded); err != nil {
				return errors.Wrapf(err, "seeding log of node %s", id)
			}
		}
		for _, id := range s.Cluster.Nodes {
			st, ok := s.Initial.NodeState[id]
			if !ok || !st.Crashed {
				continue
			}
			if err := m.Crash(types.NodeID(id)); err != nil {
				return err
			}
		}
	}

	if s.Network != nil {
		for _, spec := range s.Network.Rules {
			rule, err := spec.Rule()
			if err != nil {
				return err
			}
			m.Bus().AddRule(rule)
		}
	}

	return nil
}
