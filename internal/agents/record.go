package agents

import (
	"fmt"
	"slices"
)

// Record is a serializable copy of one agent, used by snapshots, the SQLite
// store, and the HTTP API.
type Record struct {
	ID           AgentID                 `json:"id"`
	FamilySize   uint32                  `json:"family_size"`
	Powerful     bool                    `json:"powerful"`
	Privilege    uint64                  `json:"privilege"`
	Values       ValueList               `json:"values"`
	Current      State                   `json:"current"`
	Previous     State                   `json:"previous"`
	Network      Network                 `json:"network"`
	Interactions map[AgentID]Interaction `json:"interactions,omitempty"`
}

// Export copies the agent's full state.
func (a *Agent) Export() Record {
	cur, prev := a.States()
	return Record{
		ID:           a.id,
		FamilySize:   a.familySize,
		Powerful:     a.powerful,
		Privilege:    a.Privilege(),
		Values:       a.Values(),
		Current:      cur,
		Previous:     prev,
		Network:      a.Network(),
		Interactions: a.Interactions(),
	}
}

// Restore rebuilds a population from records. Records must be dense and
// ordered by ID.
func Restore(records []Record) ([]Agent, error) {
	pop := NewPopulation(uint32(len(records)))
	for i, r := range records {
		if r.ID != AgentID(i) {
			return nil, fmt.Errorf("record %d carries id %d", i, r.ID)
		}
		a := &pop[i]
		a.familySize = r.FamilySize
		a.powerful = r.Powerful
		a.privilege.Store(r.Privilege)
		a.values = slices.Clone(r.Values)
		for _, to := range r.Network {
			if int(to) >= len(records) {
				return nil, fmt.Errorf("agent %d: neighbor %d out of range", i, to)
			}
			a.AddConnection(to)
		}
		a.restoreState(r.Current, r.Previous)
		for id, in := range r.Interactions {
			a.interactions[id] = &in
		}
	}
	return pop, nil
}
