// Package dispenser turns a percentage split over categories into an exact,
// randomly ordered dispensing sequence for a fixed population.
package dispenser

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	// ErrDispenserExhausted is returned by NextGroup once every quota is drained.
	ErrDispenserExhausted = errors.New("dispenser is empty")

	// ErrOverAllocation is returned when the floor quotas already exceed the
	// requested population.
	ErrOverAllocation = errors.New("computed population is greater than required")
)

// Dispenser hands out category indices until each category's quota is used up.
// The zero value is an empty dispenser.
type Dispenser struct {
	groups      []uint32 // category index, original order
	populations []uint32 // remaining quota per entry in groups
}

// New returns an initialized dispenser.
func New(percentages []float64, total uint32, requireAtLeastOne bool) (*Dispenser, error) {
	d := &Dispenser{}
	if err := d.Initialize(percentages, total, requireAtLeastOne); err != nil {
		return nil, err
	}
	return d, nil
}

// Initialize resets the dispenser and computes per-category quotas as
// floor(percentage * total). Categories whose quota is zero are dropped unless
// requireAtLeastOne forces them to one. The rounding shortfall is then handed
// out one unit at a time, round-robin, in category order.
func (d *Dispenser) Initialize(percentages []float64, total uint32, requireAtLeastOne bool) error {
	d.Clear()

	for i, percent := range percentages {
		quota := uint32(math.Floor(float64(total) * percent))
		switch {
		case quota != 0:
			d.groups = append(d.groups, uint32(i))
			d.populations = append(d.populations, quota)
		case requireAtLeastOne:
			d.groups = append(d.groups, uint32(i))
			d.populations = append(d.populations, 1)
		}
	}

	return d.reconcile(total)
}

func (d *Dispenser) reconcile(total uint32) error {
	var computed uint64
	for _, p := range d.populations {
		computed += uint64(p)
	}
	if computed > uint64(total) {
		return fmt.Errorf("%w: %d > %d", ErrOverAllocation, computed, total)
	}

	remainder := uint64(total) - computed
	if remainder == 0 {
		return nil
	}
	if len(d.populations) == 0 {
		return fmt.Errorf("%w: no categories to absorb %d agents", ErrOverAllocation, remainder)
	}

	idx := 0
	for i := uint64(0); i < remainder; i++ {
		d.populations[idx]++
		idx++
		if idx >= len(d.populations) {
			idx = 0
		}
	}
	return nil
}

// Clear empties the dispenser.
func (d *Dispenser) Clear() {
	d.groups = d.groups[:0]
	d.populations = d.populations[:0]
}

// HasMore reports whether any category still has quota.
func (d *Dispenser) HasMore() bool {
	return len(d.groups) > 0
}

// Remaining returns the outstanding quota keyed by category index.
func (d *Dispenser) Remaining() map[uint32]uint32 {
	out := make(map[uint32]uint32, len(d.groups))
	for i, g := range d.groups {
		out[g] = d.populations[i]
	}
	return out
}

// NextGroup draws a category uniformly among those that still have quota,
// not weighted by the quota itself, and consumes one unit of it.
func (d *Dispenser) NextGroup(rng *rand.Rand) (uint32, error) {
	if len(d.groups) == 0 {
		return 0, ErrDispenserExhausted
	}

	sel := rng.Intn(len(d.groups))
	group := d.groups[sel]

	d.populations[sel]--
	if d.populations[sel] == 0 {
		d.groups = append(d.groups[:sel], d.groups[sel+1:]...)
		d.populations = append(d.populations[:sel], d.populations[sel+1:]...)
	}
	return group, nil
}
