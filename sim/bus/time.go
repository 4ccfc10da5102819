package bus

import "github.com/Hemanth-S/consensus-playground/raft/types"

// TickSource defines an interface to retrieve the current virtual time. The
// cluster driver is the canonical implementation; tests use TestTickSource.
type TickSource interface {
	Now() types.Tick
}

// TestTickSource is an implementation of the TickSource interface that allows
// advancing time by hand, useful in testing scenarios.
type TestTickSource struct {
	now types.Tick
}

// Now returns the tick set on the source.
func (t *TestTickSource) Now() types.Tick {
	return t.now
}

// Add advances the current tick by the given number of ticks.
func (t *TestTickSource) Add(ticks types.Tick) types.Tick {
	t.now += ticks
	return t.now
}
