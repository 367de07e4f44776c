package agents

import (
	"errors"
	"fmt"
	"slices"
)

// ErrStaleStateAccess is returned when a behavior is read at a time that
// neither state slot holds.
var ErrStaleStateAccess = errors.New("stale state access")

// State is a behavior tuple tagged with the time step it became valid.
type State struct {
	Behavior BehaviorList `json:"behavior"`
	Time     uint64       `json:"time"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	return State{Behavior: slices.Clone(s.Behavior), Time: s.Time}
}

// SetInitialBehavior seeds both state slots with b at time 0.
func (a *Agent) SetInitialBehavior(b BehaviorList) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	a.state[0] = State{Behavior: slices.Clone(b), Time: 0}
	a.state[1] = State{Behavior: slices.Clone(b), Time: 0}
}

// BehaviorAt returns one dimension of the behavior valid at time t. The current
// slot is checked first.
func (a *Agent) BehaviorAt(index int, t uint64) (uint32, error) {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()

	for _, s := range a.state {
		if s.Time != t {
			continue
		}
		if index < 0 || index >= len(s.Behavior) {
			return 0, fmt.Errorf("agent %d: behavior dimension %d out of range", a.id, index)
		}
		return s.Behavior[index], nil
	}
	return 0, fmt.Errorf("agent %d at time %d: %w", a.id, t, ErrStaleStateAccess)
}

// Behavior returns a copy of the most recent behavior tuple.
func (a *Agent) Behavior() BehaviorList {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()

	if a.state[0].Time > a.state[1].Time {
		return slices.Clone(a.state[0].Behavior)
	}
	return slices.Clone(a.state[1].Behavior)
}

// States returns copies of the current and previous slots.
func (a *Agent) States() (current, previous State) {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state[0].Clone(), a.state[1].Clone()
}

// UpdateState commits value for one dimension at time t. The current slot is
// copied into the previous slot first, so the previous slot always holds the
// full tuple as of the last commit.
func (a *Agent) UpdateState(index int, value uint32, t uint64) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if index < 0 || index >= len(a.state[0].Behavior) {
		return fmt.Errorf("agent %d: behavior dimension %d out of range", a.id, index)
	}
	a.state[1] = a.state[0].Clone()
	a.state[0].Behavior[index] = value
	a.state[0].Time = t
	return nil
}

// restoreState overwrites both slots. Used when loading snapshots.
func (a *Agent) restoreState(current, previous State) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.state[0] = current.Clone()
	a.state[1] = previous.Clone()
}
