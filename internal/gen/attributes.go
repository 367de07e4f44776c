// Package gen builds the initial population: value and behavior attributes,
// the powerful subset, and the family/friendship contact graph.
package gen

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/talgya/iris/internal/agents"
	"github.com/talgya/iris/internal/dispenser"
	"github.com/talgya/iris/internal/sampling"
)

// ErrDimensionMismatch is returned when the behavior dimensions are not a
// prefix of the value dimensions.
var ErrDimensionMismatch = errors.New("behavior dimensions do not match value dimensions")

// GenerateAttributes assigns every agent a value tuple drawn from one
// uniform dispenser per value dimension. The behavior tuple is the prefix of
// the value tuple covering len(behaviors) dimensions.
func GenerateAttributes(population []agents.Agent, values, behaviors agents.BehaviorList, rng *rand.Rand) error {
	if err := checkDimensions(values, behaviors); err != nil {
		return err
	}

	total := uint32(len(population))
	dispensers := make([]*dispenser.Dispenser, len(values))
	for i, categories := range values {
		percentages := make([]float64, categories)
		for j := range percentages {
			percentages[j] = 1.0 / float64(categories)
		}
		d, err := dispenser.New(percentages, total, true)
		if err != nil {
			return fmt.Errorf("value dimension %d: %w", i, err)
		}
		dispensers[i] = d
	}

	tuple := make(agents.ValueList, len(values))
	for i := range population {
		for d, disp := range dispensers {
			g, err := disp.NextGroup(rng)
			if err != nil {
				return fmt.Errorf("agent %d, value dimension %d: %w", i, d, err)
			}
			tuple[d] = g
		}
		population[i].SetInitialValues(tuple)
		population[i].SetInitialBehavior(agents.BehaviorList(tuple[:len(behaviors)]))
	}
	return nil
}

func checkDimensions(values, behaviors agents.BehaviorList) error {
	if len(values) == 0 || len(behaviors) == 0 {
		return fmt.Errorf("%w: need at least one value and one behavior dimension", ErrDimensionMismatch)
	}
	if len(behaviors) > len(values) {
		return fmt.Errorf("%w: %d behaviors for %d values", ErrDimensionMismatch, len(behaviors), len(values))
	}
	for i, b := range behaviors {
		if b != values[i] {
			return fmt.Errorf("%w: dimension %d has %d behaviors but %d values", ErrDimensionMismatch, i, b, values[i])
		}
	}
	for i, v := range values {
		if v == 0 {
			return fmt.Errorf("%w: value dimension %d has no categories", ErrDimensionMismatch, i)
		}
		if v > agents.MaxCategories {
			return fmt.Errorf("%w: value dimension %d has %d categories, at most %d allowed", ErrDimensionMismatch, i, v, agents.MaxCategories)
		}
	}
	return nil
}

// PowerfulCount is floor(n*percent), raised to one when requireAtLeastOne is
// set and percent is positive.
func PowerfulCount(n uint32, percent float64, requireAtLeastOne bool) uint32 {
	if percent <= 0 || n == 0 {
		return 0
	}
	count := uint32(min(math.Floor(float64(n)*percent), float64(n)))
	if count == 0 && requireAtLeastOne {
		count = 1
	}
	return count
}

// GeneratePowerfulAgents marks PowerfulCount distinct agents as powerful and
// returns their IDs in ascending order.
func GeneratePowerfulAgents(population []agents.Agent, percent float64, requireAtLeastOne bool, rng *rand.Rand) []agents.AgentID {
	total := uint32(len(population))
	count := PowerfulCount(total, percent, requireAtLeastOne)

	var selected []agents.AgentID
	for range count {
		r := agents.AgentID(rng.Int63n(int64(total)))
		id, err := sampling.EnsureUnique(r, selected, 0, agents.AgentID(total))
		if err != nil {
			continue
		}
		selected = sampling.SortedInsert(selected, id)
		population[id].SetPowerful(true)
	}
	return selected
}

// ListToString concatenates the decimal digits of each entry, so {1, 0, 2}
// becomes "102".
func ListToString(list []uint32) string {
	var b strings.Builder
	for _, v := range list {
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	}
	return b.String()
}

// ListToInteger reads the list as base-10 digits, most significant first.
func ListToInteger(list []uint32) uint64 {
	var result uint64
	for _, v := range list {
		result = result*10 + uint64(v)
	}
	return result
}

// PermuteList enumerates every behavior tuple allowed by the per-dimension
// category counts, in lexicographic order, as ListToString keys.
func PermuteList(categories []uint32) []string {
	if len(categories) == 0 {
		return nil
	}
	var out []string
	current := make([]uint32, len(categories))
	var walk func(index int)
	walk = func(index int) {
		for i := uint32(0); i < categories[index]; i++ {
			current[index] = i
			if index == len(categories)-1 {
				out = append(out, ListToString(current))
				continue
			}
			walk(index + 1)
		}
	}
	walk(0)
	return out
}
