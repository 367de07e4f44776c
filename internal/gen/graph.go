package gen

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"

	"github.com/talgya/iris/internal/agents"
	"github.com/talgya/iris/internal/sampling"
)

// ErrInvalidCensus is returned for an empty family-size distribution or one
// that a probability cannot be mapped onto.
var ErrInvalidCensus = errors.New("invalid census data")

// FamilyUnit is the half-open ID range [Start, End) of one family.
type FamilyUnit struct {
	Start agents.AgentID
	End   agents.AgentID
}

// Size returns the number of members.
func (u FamilyUnit) Size() uint32 { return uint32(u.End - u.Start) }

// GraphStats summarizes one call to WireGraph.
type GraphStats struct {
	Families       int
	Edges          int
	Reciprocated   int
	ExhaustedDraws int
}

// CreateCDF turns family-size percentages into a cumulative distribution whose
// last entry is forced to 1.0.
func CreateCDF(census []float64) ([]float64, error) {
	if len(census) == 0 {
		return nil, fmt.Errorf("%w: no family sizes", ErrInvalidCensus)
	}
	cdf := make([]float64, len(census))
	var sum float64
	for i, p := range census {
		if p < 0 {
			return nil, fmt.Errorf("%w: negative share %g for family size %d", ErrInvalidCensus, p, i+1)
		}
		sum += p
		cdf[i] = sum
	}
	cdf[len(cdf)-1] = 1.0
	return cdf, nil
}

// ChooseFamilySize maps p in [0, 1] to the first bucket whose cumulative
// probability is at least p. Sizes are 1-indexed.
func ChooseFamilySize(p float64, cdf []float64) (uint32, error) {
	for i, c := range cdf {
		if p <= c {
			return uint32(i + 1), nil
		}
	}
	return 0, fmt.Errorf("%w: probability %g is outside the distribution", ErrInvalidCensus, p)
}

// WireGraph partitions the population into contiguous family units, connects
// every family fully, and then gives each agent, in ID order, its chance at
// non-family edges. Family sizes are clipped to the remaining population and
// the clipped size is what each member records.
func WireGraph(population []agents.Agent, census []float64, outConnections uint32, linkProb, recipProb float64, rng *rand.Rand) (GraphStats, error) {
	var stats GraphStats
	cdf, err := CreateCDF(census)
	if err != nil {
		return stats, err
	}

	total := agents.AgentID(len(population))
	for start := agents.AgentID(0); start < total; {
		size, err := ChooseFamilySize(rng.Float64(), cdf)
		if err != nil {
			return stats, err
		}
		unit := FamilyUnit{Start: start, End: min(start+agents.AgentID(size), total)}
		for id := unit.Start; id < unit.End; id++ {
			WireFamilyUnit(&population[id], unit)
			population[id].SetFamilySize(unit.Size())
			stats.Edges += int(unit.Size()) - 1
		}
		stats.Families++
		start = unit.End
	}

	for id := range population {
		edges, recip, exhausted := WireOutGroup(population, agents.AgentID(id), outConnections, linkProb, recipProb, rng)
		stats.Edges += edges + recip
		stats.Reciprocated += recip
		stats.ExhaustedDraws += exhausted
	}
	return stats, nil
}

// WireFamilyUnit connects a to every other member of unit.
func WireFamilyUnit(a *agents.Agent, unit FamilyUnit) {
	for id := unit.Start; id < unit.End; id++ {
		a.AddConnection(id)
	}
}

// WireOutGroup attempts up to min(outConnections, N-1-familyConnections)
// non-family edges from id. Each attempt succeeds with linkProb; a successful
// edge is mirrored with recipProb unless the target is full or already points
// back. Returns edges added from id, mirrored edges, and skipped draws.
func WireOutGroup(population []agents.Agent, id agents.AgentID, outConnections uint32, linkProb, recipProb float64, rng *rand.Rand) (edges, reciprocated, exhausted int) {
	if outConnections == 0 {
		return 0, 0, 0
	}
	a := &population[id]
	total := uint32(len(population))

	upper := agents.UpperBound(a.FamilyConnections(), outConnections, total)
	attempts := int(upper) - a.Degree()
	if attempts <= 0 {
		return 0, 0, 0
	}

	excluded := sampling.SortedInsert(a.Network(), id)
	for range attempts {
		if rng.Float64() > linkProb {
			continue
		}
		r := agents.AgentID(rng.Int63n(int64(total)))
		to, err := sampling.EnsureUnique(r, excluded, 0, agents.AgentID(total))
		if err != nil {
			exhausted++
			continue
		}
		excluded = sampling.SortedInsert(excluded, to)
		a.AddConnection(to)
		edges++

		target := &population[to]
		makeRecip := rng.Float64() <= recipProb
		if makeRecip && !target.IsNetworkFull(outConnections, total) && !target.IsConnectedTo(id) {
			target.AddConnection(id)
			reciprocated++
		}
	}
	return edges, reciprocated, exhausted
}

// CheckForDuplicates reports the first agent whose network repeats a neighbor
// or is out of order.
func CheckForDuplicates(population []agents.Agent) error {
	for i := range population {
		net := population[i].Network()
		if !slices.IsSorted(net) {
			return fmt.Errorf("agent %d: network is not sorted", i)
		}
		if len(slices.Compact(slices.Clone(net))) != len(net) {
			return fmt.Errorf("agent %d: network has duplicate neighbors", i)
		}
	}
	return nil
}

// CheckForLoops reports the first agent connected to itself.
func CheckForLoops(population []agents.Agent) error {
	for i := range population {
		if population[i].IsConnectedTo(agents.AgentID(i)) {
			return fmt.Errorf("agent %d: network contains a self-loop", i)
		}
	}
	return nil
}

// CheckDegreeBound reports the first agent whose degree exceeds its cap.
func CheckDegreeBound(population []agents.Agent, outConnections uint32) error {
	total := uint32(len(population))
	for i := range population {
		a := &population[i]
		upper := agents.UpperBound(a.FamilyConnections(), outConnections, total)
		if uint32(a.Degree()) > upper {
			return fmt.Errorf("agent %d: degree %d exceeds bound %d", i, a.Degree(), upper)
		}
	}
	return nil
}
