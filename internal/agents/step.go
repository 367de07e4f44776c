package agents

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/talgya/iris/internal/params"
	"github.com/talgya/iris/internal/sampling"
)

// StepResult summarizes one agent transition for logging and metrics.
type StepResult struct {
	Dimension      int     `json:"dimension"`
	Outcome        Outcome `json:"outcome"`
	Direct         bool    `json:"direct"`   // decided against the power group
	Isolated       bool    `json:"isolated"` // kept with nobody to talk to
	SocialGroup    int     `json:"social_group"`
	PowerGroup     int     `json:"power_group"`
	Changed        bool    `json:"changed"`
	ExhaustedDraws int     `json:"exhausted_draws"`
}

// Step applies one transition at time t (t >= 1). Behaviors are read at t-1
// and the agent's own state is committed at t. Other agents' privilege and
// ledgers are updated in place.
func (a *Agent) Step(p *params.Parameters, population []Agent, dims BehaviorList, t uint64, rng *rand.Rand) (StepResult, error) {
	var res StepResult
	if t == 0 {
		return res, fmt.Errorf("agent %d: step time must be positive", a.id)
	}
	if len(dims) == 0 {
		return res, fmt.Errorf("agent %d: no behavior dimensions", a.id)
	}
	prev := t - 1

	inGroup := a.InGroup(rng, p.QIn)
	outGroup, exhausted := a.OutGroup(rng, p.QOut, uint32(len(population)))
	res.ExhaustedDraws = exhausted
	if a.powerful {
		outGroup = RemoveNonPowerful(population, outGroup)
	}
	social := append(inGroup, outGroup...)
	power := ExtractPowerful(population, social)
	res.SocialGroup = len(social)
	res.PowerGroup = len(power)

	index := rng.Intn(len(dims))
	res.Dimension = index
	me, err := a.BehaviorAt(index, prev)
	if err != nil {
		return res, err
	}

	outcome := OutcomeKeep
	switch {
	case len(social) == 0 && !a.powerful:
		// Nobody to talk to; nothing pushes the agent either way.
		res.Isolated = true
	case a.powerful || len(power) == 0:
		sides, err := ComputeSides(population, social, me, index, prev)
		if err != nil {
			return res, err
		}
		outcome = ComputeOutcomeSociodynamically(p, sides, rng)
		if err := a.distributePrivilege(population, social, me, outcome, index, prev); err != nil {
			return res, err
		}
	default:
		res.Direct = true
		sides, err := ComputeSides(population, power, me, index, prev)
		if err != nil {
			return res, err
		}
		outcome = ComputeOutcomeDirectly(sides)
		if err := a.distributePrivilegeWithPower(population, social, power, me, outcome, index, prev); err != nil {
			return res, err
		}
	}
	res.Outcome = outcome

	next := me
	if outcome == OutcomeChange {
		next = SelectNewBehavior(rng, me, dims[index])
	}
	if err := a.UpdateState(index, next, t); err != nil {
		return res, err
	}
	res.Changed = next != me

	if outcome == OutcomeKeep && (a.powerful || len(power) > 0) {
		a.IncreasePrivilege()
	}
	a.UpdateCommunicationWith(social)
	return res, nil
}

// InGroup returns up to q distinct neighbors in random order.
func (a *Agent) InGroup(rng *rand.Rand, q uint32) Network {
	group := slices.Clone(a.network)
	rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })
	if uint32(len(group)) > q {
		group = group[:q]
	}
	return group
}

// OutGroup draws up to q distinct agents outside the network and self from a
// population of size total. Draws that find no free slot are skipped and
// counted in the second return value.
func (a *Agent) OutGroup(rng *rand.Rand, q, total uint32) (Network, int) {
	bound := int64(total) - int64(len(a.network)) - 1
	if bound <= 0 || q == 0 {
		return nil, 0
	}
	count := min(int64(q), bound)

	excluded := sampling.SortedInsert(slices.Clone(a.network), a.id)
	group := make(Network, 0, count)
	exhausted := 0
	for range count {
		r := AgentID(rng.Int63n(int64(total)))
		id, err := sampling.EnsureUnique(r, excluded, 0, AgentID(total))
		if errors.Is(err, sampling.ErrExhaustedSampleSpace) {
			exhausted++
			continue
		}
		excluded = sampling.SortedInsert(excluded, id)
		group = append(group, id)
	}
	return group, exhausted
}

// RemoveNonPowerful keeps only powerful members of group.
func RemoveNonPowerful(population []Agent, group Network) Network {
	out := group[:0]
	for _, id := range group {
		if population[id].powerful {
			out = append(out, id)
		}
	}
	return out
}

// ExtractPowerful returns the powerful members of group in a new slice.
func ExtractPowerful(population []Agent, group Network) Network {
	var out Network
	for _, id := range group {
		if population[id].powerful {
			out = append(out, id)
		}
	}
	return out
}

// ComputeSides counts group members whose behavior at (index, t) differs from
// or matches value.
func ComputeSides(population []Agent, group Network, value uint32, index int, t uint64) (Sides, error) {
	var s Sides
	for _, id := range group {
		b, err := population[id].BehaviorAt(index, t)
		if err != nil {
			return s, err
		}
		if b == value {
			s.InFavor++
		} else {
			s.Against++
		}
	}
	return s, nil
}

// CacheBehaviorsAsSet returns the distinct behaviors of group at (index, t),
// sorted ascending.
func CacheBehaviorsAsSet(population []Agent, group Network, index int, t uint64) ([]uint32, error) {
	var set []uint32
	for _, id := range group {
		b, err := population[id].BehaviorAt(index, t)
		if err != nil {
			return nil, err
		}
		set = sampling.SortedInsert(set, b)
	}
	return set, nil
}

// ComputeUtility is 1 - e^(-lambda*x).
func ComputeUtility(lambda, x float64) float64 {
	return 1 - math.Exp(-lambda*x)
}

// ComputeOutcomeDirectly changes only on a strict majority against; ties keep.
func ComputeOutcomeDirectly(s Sides) Outcome {
	if s.Against > s.InFavor {
		return OutcomeChange
	}
	return OutcomeKeep
}

// ChangeProbability is the clamped resistance for the given sides. A uniform
// draw above it means the agent changes.
func ChangeProbability(p *params.Parameters, s Sides) float64 {
	prob := p.Resist + ComputeUtility(p.Lambda, float64(s.InFavor)) - ComputeUtility(p.Lambda, float64(s.Against))
	return min(max(prob, p.ResistMin), p.ResistMax)
}

// ComputeOutcomeSociodynamically draws the outcome against ChangeProbability.
func ComputeOutcomeSociodynamically(p *params.Parameters, s Sides, rng *rand.Rand) Outcome {
	if rng.Float64() > ChangeProbability(p, s) {
		return OutcomeChange
	}
	return OutcomeKeep
}

// DetermineCommType classifies an interaction between the inspected value me
// and a neighbor's value you given the outcome.
func DetermineCommType(me, you uint32, o Outcome) CommType {
	if me == you {
		if o == OutcomeKeep {
			return CommReinforced
		}
		return CommNeither
	}
	if o == OutcomeChange {
		return CommCensored
	}
	return CommNeither
}

// SelectNewBehavior draws a category in [0, categories) other than current.
// With one category or fewer, current is returned.
func SelectNewBehavior(rng *rand.Rand, current, categories uint32) uint32 {
	if categories <= 1 {
		return current
	}
	r := uint32(rng.Int63n(int64(categories)))
	v, err := sampling.EnsureUnique(r, []uint32{current}, 0, categories)
	if err != nil {
		return current
	}
	return v
}

func (a *Agent) distributePrivilege(population []Agent, social Network, me uint32, o Outcome, index int, t uint64) error {
	for _, id := range social {
		other := &population[id]
		you, err := other.BehaviorAt(index, t)
		if err != nil {
			return err
		}
		ct := DetermineCommType(me, you, o)
		other.UpdateInfluenceOn(a.id, ct)
		if a.powerful && ct != CommNeither {
			other.IncreasePrivilege()
		}
	}
	return nil
}

func (a *Agent) distributePrivilegeWithPower(population []Agent, social, power Network, me uint32, o Outcome, index int, t uint64) error {
	cache, err := CacheBehaviorsAsSet(population, power, index, t)
	if err != nil {
		return err
	}
	for _, id := range social {
		other := &population[id]
		you, err := other.BehaviorAt(index, t)
		if err != nil {
			return err
		}
		ct := DetermineCommType(me, you, o)
		other.UpdateInfluenceOn(a.id, ct)
		if ct != CommNeither && sampling.Contains(cache, you) {
			other.IncreasePrivilege()
		}
	}
	return nil
}
