package scenario

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Hemanth-S/consensus-playground/raft/model"
	"github.com/Hemanth-S/consensus-playground/raft/types"
	"github.com/Hemanth-S/consensus-playground/sim/bus"
)

// settleTicks is the quiescence buffer stepped past the last timeline action
// and assertion horizon so heartbeats and commits can propagate.
const settleTicks = 5

// AssertionResult is the outcome of one assertion. Failures are data, not
// errors; they never halt the simulation.
type AssertionResult struct {
	Index  int
	Type   string
	After  types.Tick
	Tick   types.Tick
	Passed bool
	Detail string
}

// String renders the result as a report line.
func (r AssertionResult) String() string {
	verdict := "FAIL"
	if r.Passed {
		verdict = "PASS"
	}
	s := fmt.Sprintf("[%d] %s %s after=%d at t=%d", r.Index, verdict, r.Type, r.After, r.Tick)
	if r.Detail != "" {
		s += " " + r.Detail
	}
	return s
}

// NewController attaches a scenario to a model. The timeline is sorted by
// tick, preserving document order within a tick.
func NewController(m *model.Model, s Scenario, log *zap.Logger) *Controller {
	timeline := make([]TimedAction, len(s.Timeline))
	copy(timeline, s.Timeline)
	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].At < timeline[j].At
	})

	return &Controller{
		model:    m,
		scenario: s,
		timeline: timeline,
		log:      log,
	}
}

// Controller executes timeline actions at their scheduled ticks and evaluates
// assertions.
type Controller struct {
	model    *model.Model
	scenario Scenario
	timeline []TimedAction
	log      *zap.Logger

	tick      types.Tick
	actionIdx int
}

// Now returns the controller tick, which mirrors the cluster.
func (c *Controller) Now() types.Tick {
	return c.tick
}

// Model returns the driven model.
func (c *Controller) Model() *model.Model {
	return c.model
}

// Step fires every action due at the current tick, advances the model one
// tick, then increments the tick.
func (c *Controller) Step() error {
	if err := c.fireDueActions(); err != nil {
		return err
	}
	if err := c.model.Step(); err != nil {
		return err
	}
	c.tick++
	return nil
}

// StepN executes n steps.
func (c *Controller) StepN(n int) error {
	for range n {
		if err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}

// PlayToEnd steps until the tick passes the last timeline action and the
// largest assertion horizon, plus the settle buffer.
func (c *Controller) PlayToEnd() error {
	lastAction := types.Tick(0)
	for _, ta := range c.timeline {
		if ta.At > lastAction {
			lastAction = ta.At
		}
	}

	for c.tick <= lastAction {
		if err := c.Step(); err != nil {
			return err
		}
	}

	target := max(c.tick, c.maxAssertionAfter()) + settleTicks
	for c.tick < target {
		if err := c.Step(); err != nil {
			return err
		}
	}

	c.log.Info("Timeline complete", zap.Int("tick", int(c.tick)))
	return nil
}

// EvaluateAssertions checks every assertion, stepping to its horizon first if
// the simulation is not there yet.
func (c *Controller) EvaluateAssertions() ([]AssertionResult, error) {
	results := make([]AssertionResult, 0, len(c.scenario.Assertions))
	for i, a := range c.scenario.Assertions {
		if c.tick < a.Args.After {
			if err := c.StepN(int(a.Args.After - c.tick)); err != nil {
				return nil, err
			}
		}

		result := AssertionResult{
			Index: i + 1,
			Type:  a.Type,
			After: a.Args.After,
			Tick:  c.tick,
		}
		switch a.Type {
		case "leader_exists":
			leader, ok := c.model.CurrentLeaderID()
			result.Passed = ok
			if ok {
				result.Detail = fmt.Sprintf("leader=%s", leader)
			}
		case "log_consistency":
			result.Passed = c.model.LogsArePrefixConsistent()
		default:
			result.Detail = fmt.Sprintf("unknown assertion type %q", a.Type)
		}
		results = append(results, result)
	}
	return results, nil
}

func (c *Controller) fireDueActions() error {
	for c.actionIdx < len(c.timeline) && c.timeline[c.actionIdx].At <= c.tick {
		entry := c.timeline[c.actionIdx]
		c.actionIdx++
		for _, action := range entry.Actions {
			if err := c.execute(action); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Controller) execute(action ActionSpec) error {
	switch action.Kind {
	case "crash":
		return c.model.Crash(types.NodeID(action.Args.Node))
	case "recover":
		return c.model.Recover(types.NodeID(action.Args.Node))
	case "clientwrite":
		result, err := c.model.ClientWrite(action.Args.Command)
		if err != nil {
			return err
		}
		c.log.Info("Client write",
			zap.String("command", action.Args.Command),
			zap.Stringer("result", result))
		return nil
	case "partition":
		groupA, groupB, ok := partitionGroups(action.Args)
		if !ok {
			c.log.Warn("Partition action without two groups ignored")
			return nil
		}
		c.model.Partition(groupA, groupB)
		return nil
	case "partition_clear":
		c.model.ClearPartitions()
		return nil
	case "delay":
		rule, err := bus.NewRule(matchFromArgs(action.Args), bus.ActionDelay, action.Args.Steps, 0)
		if err != nil {
			return err
		}
		c.model.Bus().AddRule(rule)
		return nil
	case "drop":
		pct := 1.0
		if action.Args.Pct != nil {
			pct = *action.Args.Pct
		}
		act := bus.ActionDrop
		if pct < 1 {
			act = bus.ActionDropProb
		}
		rule, err := bus.NewRule(matchFromArgs(action.Args), act, 0, pct)
		if err != nil {
			return err
		}
		c.model.Bus().AddRule(rule)
		return nil
	case "run":
		// The only recursive action; the scenario bounds the tick count.
		return c.StepN(action.Args.Ticks)
	default:
		c.log.Warn("Unknown action ignored", zap.String("kind", action.Kind))
		return nil
	}
}

func (c *Controller) maxAssertionAfter() types.Tick {
	after := types.Tick(0)
	for _, a := range c.scenario.Assertions {
		if a.Args.After > after {
			after = a.Args.After
		}
	}
	return after
}

func matchFromArgs(args ActionArgs) bus.Match {
	m := bus.Match{From: args.From, To: args.To, Kind: args.Type}
	if m.From == "" {
		m.From = bus.Wildcard
	}
	if m.To == "" {
		m.To = bus.Wildcard
	}
	if m.Kind == "" {
		m.Kind = bus.Wildcard
	}
	return m
}

func partitionGroups(args ActionArgs) ([]types.NodeID, []types.NodeID, bool) {
	if len(args.Groups) >= 2 {
		return toNodeIDs(args.Groups[0]), toNodeIDs(args.Groups[1]), true
	}
	if len(args.GroupA) > 0 && len(args.GroupB) > 0 {
		return toNodeIDs(args.GroupA), toNodeIDs(args.GroupB), true
	}
	return nil, nil, false
}

func toNodeIDs(ids []string) []types.NodeID {
	out := make([]types.NodeID, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.NodeID(id))
	}
	return out
}
