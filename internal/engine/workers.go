package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/iris/internal/agents"
)

// ErrTooManyWorkers is returned when there are fewer agents than workers.
var ErrTooManyWorkers = errors.New("more workers than agents")

// Partition is the contiguous agent range [Start, End) stepped by one worker.
type Partition struct {
	Start agents.AgentID
	End   agents.AgentID
}

// Len returns the number of agents in the partition.
func (p Partition) Len() int { return int(p.End - p.Start) }

// Partitions splits n agents into workers ranges of floor(n/workers); the last
// range absorbs the remainder.
func Partitions(n, workers uint32) ([]Partition, error) {
	if workers == 0 {
		return nil, fmt.Errorf("%w: need at least one worker", ErrTooManyWorkers)
	}
	if n < workers {
		return nil, fmt.Errorf("%w: %d agents, %d workers", ErrTooManyWorkers, n, workers)
	}
	size := n / workers
	parts := make([]Partition, workers)
	for i := range parts {
		start := agents.AgentID(uint32(i) * size)
		parts[i] = Partition{Start: start, End: start + agents.AgentID(size)}
	}
	parts[len(parts)-1].End = agents.AgentID(n)
	return parts, nil
}

// Controller runs one task per partition for each time slot and waits for all
// of them before returning. Each partition owns a random source derived from
// the run seed, so a slot's result does not depend on goroutine scheduling.
type Controller struct {
	parts []Partition
	rngs  []*rand.Rand
}

// NewController prepares workers partitions over n agents.
func NewController(n, workers uint32, seed int64) (*Controller, error) {
	parts, err := Partitions(n, workers)
	if err != nil {
		return nil, err
	}
	rngs := make([]*rand.Rand, len(parts))
	for i := range rngs {
		rngs[i] = rand.New(rand.NewSource(seed + int64(i)))
	}
	return &Controller{parts: parts, rngs: rngs}, nil
}

// Workers returns the number of partitions.
func (c *Controller) Workers() int { return len(c.parts) }

// Partitions returns a copy of the partition layout.
func (c *Controller) Partitions() []Partition { return append([]Partition(nil), c.parts...) }

// Run calls task once per partition concurrently and blocks until every task
// has returned. A cancelled context stops tasks that have not started yet.
func (c *Controller) Run(ctx context.Context, task func(p Partition, rng *rand.Rand) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range c.parts {
		rng := c.rngs[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return task(p, rng)
		})
	}
	return g.Wait()
}
