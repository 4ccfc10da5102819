package bus

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/Hemanth-S/consensus-playground/raft/types"
)

// Wildcard matches any node ID or message kind in a rule.
const Wildcard = "*"

// Action decides what the bus does with a matched message.
type Action int

const (
	// ActionPass delivers the message immediately.
	ActionPass Action = iota
	// ActionDrop discards the message silently.
	ActionDrop
	// ActionDelay defers delivery by DelayTicks.
	ActionDelay
	// ActionDropProb discards the message with probability Pct and otherwise
	// falls through to the remaining rules.
	ActionDropProb
)

// String returns the scenario-format name of the action.
func (a Action) String() string {
	switch a {
	case ActionPass:
		return "pass"
	case ActionDrop:
		return "drop"
	case ActionDelay:
		return "delay"
	case ActionDropProb:
		return "drop_pct"
	default:
		return "unknown"
	}
}

// Match is the predicate part of a rule. Every field accepts the wildcard.
// A bidirectional match treats From and To as an unordered pair.
type Match struct {
	From          string
	To            string
	Kind          string
	Bidirectional bool
}

// Matches reports whether the predicate applies to the message.
func (m Match) Matches(msg Message) bool {
	if m.Kind != Wildcard && m.Kind != string(msg.Kind) {
		return false
	}
	if m.Bidirectional {
		return (matchesID(m.From, msg.From) && matchesID(m.To, msg.To)) ||
			(matchesID(m.From, msg.To) && matchesID(m.To, msg.From))
	}
	return matchesID(m.From, msg.From) && matchesID(m.To, msg.To)
}

func matchesID(pattern string, id types.NodeID) bool {
	return pattern == Wildcard || pattern == string(id)
}

// NewRule creates a validated rule. Delay must be non-negative and Pct must
// stay within [0, 1].
func NewRule(match Match, action Action, delayTicks types.Tick, pct float64) (Rule, error) {
	if delayTicks < 0 {
		return Rule{}, errors.Errorf("invalid delay %d", delayTicks)
	}
	if pct < 0 || pct > 1 {
		return Rule{}, errors.Errorf("invalid drop probability %f", pct)
	}
	return Rule{
		Match:      match,
		Action:     action,
		DelayTicks: delayTicks,
		Pct:        pct,
	}, nil
}

// Drop creates a rule dropping every message from one node to another.
func Drop(from, to types.NodeID) Rule {
	return Rule{
		Match:  Match{From: string(from), To: string(to), Kind: Wildcard},
		Action: ActionDrop,
	}
}

// Rule pairs a predicate with an action. Rules are evaluated in insertion
// order and the first match decides the outcome, except for a DropProb that
// does not fire, which falls through.
type Rule struct {
	Match      Match
	Action     Action
	DelayTicks types.Tick
	Pct        float64
}

// String formats the rule for net dumps.
func (r Rule) String() string {
	s := fmt.Sprintf("%s from=%s to=%s type=%s", r.Action, r.Match.From, r.Match.To, r.Match.Kind)
	if r.Match.Bidirectional {
		s += " bidirectional"
	}
	switch r.Action {
	case ActionDelay:
		s += fmt.Sprintf(" steps=%d", r.DelayTicks)
	case ActionDropProb:
		s += fmt.Sprintf(" pct=%.2f", r.Pct)
	}
	return s
}
