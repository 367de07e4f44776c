// Package agents provides the agent data model, the double-buffered behavior
// state, and the per-step social influence state machine.
package agents

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/talgya/iris/internal/sampling"
)

// AgentID is the dense index of an agent in its population.
type AgentID uint32

// Network is an ascending, duplicate-free list of neighbor IDs.
type Network []AgentID

// BehaviorList holds one category index per behavior dimension. The same
// shape is used for the per-dimension category counts of a run.
type BehaviorList []uint32

// MaxCategories bounds the category count of any dimension. Tuples are
// written one decimal digit per dimension, so larger counts would collide.
const MaxCategories = 10

// ValueList holds one category index per value dimension.
type ValueList []uint32

// Outcome is the result of a behavior-change decision.
type Outcome uint8

const (
	OutcomeKeep Outcome = iota
	OutcomeChange
)

func (o Outcome) String() string {
	if o == OutcomeChange {
		return "change"
	}
	return "keep"
}

// CommType classifies one interaction from the stepping agent's point of view.
type CommType uint8

const (
	CommNeither    CommType = iota
	CommCensored            // neighbor disagreed and the agent changed
	CommReinforced          // neighbor agreed and the agent kept
)

// Sides counts social-group members against and in favor of a behavior.
type Sides struct {
	Against uint32
	InFavor uint32
}

// Interaction is the ledger entry one agent keeps about another.
type Interaction struct {
	Communicated uint64 `json:"communicated"`
	Censored     uint64 `json:"censored"`
	Reinforced   uint64 `json:"reinforced"`
}

// Agent is one simulated individual. Agents live in a contiguous population
// slice and refer to each other only by index; privilege and the interaction
// ledger are written by other agents during their steps.
type Agent struct {
	id         AgentID
	familySize uint32
	network    Network
	values     ValueList
	powerful   bool

	privilege atomic.Uint64

	stateMu sync.RWMutex
	state   [2]State

	ledgerMu     sync.Mutex
	interactions map[AgentID]*Interaction
}

// NewPopulation allocates n agents whose IDs equal their positions.
func NewPopulation(n uint32) []Agent {
	pop := make([]Agent, n)
	for i := range pop {
		pop[i].id = AgentID(i)
		pop[i].interactions = make(map[AgentID]*Interaction)
	}
	return pop
}

// ID returns the agent's identifier.
func (a *Agent) ID() AgentID { return a.id }

// FamilySize returns the number of agents in the agent's family unit,
// including itself.
func (a *Agent) FamilySize() uint32 { return a.familySize }

// SetFamilySize records the family unit size during graph generation.
func (a *Agent) SetFamilySize(n uint32) { a.familySize = n }

// FamilyConnections is the number of family members other than the agent.
func (a *Agent) FamilyConnections() uint32 {
	if a.familySize == 0 {
		return 0
	}
	return a.familySize - 1
}

// Network returns a copy of the agent's neighbor list.
func (a *Agent) Network() Network { return slices.Clone(a.network) }

// Degree returns the number of neighbors.
func (a *Agent) Degree() int { return len(a.network) }

// AddConnection inserts to into the network, keeping it sorted. Self-loops
// and existing neighbors are ignored.
func (a *Agent) AddConnection(to AgentID) {
	if to == a.id {
		return
	}
	a.network = sampling.SortedInsert(a.network, to)
}

// IsConnectedTo reports whether to is a neighbor.
func (a *Agent) IsConnectedTo(to AgentID) bool {
	return sampling.Contains(a.network, to)
}

// IsNetworkFull reports whether the agent may accept no further non-family
// edges. The bound is familyConnections+outConnections capped at total-1.
//
// An empty network with a non-zero bound also counts as full
// (TestIsNetworkFullEmptyNetwork).
func (a *Agent) IsNetworkFull(outConnections, total uint32) bool {
	upper := int64(UpperBound(a.FamilyConnections(), outConnections, total))
	remainder := upper - int64(len(a.network))
	return remainder <= 0 || remainder >= upper
}

// UpperBound returns the degree cap for an agent with the given family
// connections.
func UpperBound(familyConnections, outConnections, total uint32) uint32 {
	if total == 0 {
		return 0
	}
	bound := uint64(familyConnections) + uint64(outConnections)
	if bound > uint64(total-1) {
		return total - 1
	}
	return uint32(bound)
}

// Values returns a copy of the agent's value tuple.
func (a *Agent) Values() ValueList { return slices.Clone(a.values) }

// SetInitialValues assigns the value tuple.
func (a *Agent) SetInitialValues(v ValueList) { a.values = slices.Clone(v) }

// Powerful reports whether the agent is privileged.
func (a *Agent) Powerful() bool { return a.powerful }

// SetPowerful marks the agent during attribute generation.
func (a *Agent) SetPowerful(p bool) { a.powerful = p }

// Privilege returns the accumulated privilege score.
func (a *Agent) Privilege() uint64 { return a.privilege.Load() }

// IncreasePrivilege credits one privilege point. Safe for concurrent use.
func (a *Agent) IncreasePrivilege() { a.privilege.Add(1) }

// Interactions returns a copy of the ledger keyed by neighbor ID.
func (a *Agent) Interactions() map[AgentID]Interaction {
	a.ledgerMu.Lock()
	defer a.ledgerMu.Unlock()

	out := make(map[AgentID]Interaction, len(a.interactions))
	for id, in := range a.interactions {
		out[id] = *in
	}
	return out
}

// interactionWith returns the ledger entry for id, creating it on first
// contact. Caller holds ledgerMu.
func (a *Agent) interactionWith(id AgentID) *Interaction {
	if a.interactions == nil {
		a.interactions = make(map[AgentID]*Interaction)
	}
	in, ok := a.interactions[id]
	if !ok {
		in = &Interaction{}
		a.interactions[id] = in
	}
	return in
}

// UpdateCommunicationWith records one communication with every member of group.
func (a *Agent) UpdateCommunicationWith(group Network) {
	a.ledgerMu.Lock()
	defer a.ledgerMu.Unlock()

	for _, other := range group {
		a.interactionWith(other).Communicated++
	}
}

// UpdateInfluenceOn records that target communicated with this agent and how
// it turned out.
func (a *Agent) UpdateInfluenceOn(target AgentID, ct CommType) {
	a.ledgerMu.Lock()
	defer a.ledgerMu.Unlock()

	in := a.interactionWith(target)
	switch ct {
	case CommCensored:
		in.Censored++
	case CommReinforced:
		in.Reinforced++
	}
	in.Communicated++
}
