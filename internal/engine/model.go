package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/iris/internal/agents"
	"github.com/talgya/iris/internal/census"
	"github.com/talgya/iris/internal/gen"
	"github.com/talgya/iris/internal/params"
	"github.com/talgya/iris/internal/report"
)

// Seed offsets for the independent random streams of a run.
const (
	seedGraph      = 100
	seedAttributes = 200
	seedPower      = 300
	seedStep       = 400
	seedWorkers    = 500
)

// Config is everything needed to build a Model.
type Config struct {
	Params     params.Parameters
	Dimensions census.Dimensions
	Census     []float64
	Seed       int64
	Workers    uint32 // 0 or 1 steps serially
	Verify     bool   // run graph consistency checks after wiring
}

// StepSummary aggregates the agent transitions of one time slot.
type StepSummary struct {
	Time           uint64        `json:"time"`
	Changed        int           `json:"changed"`
	Direct         int           `json:"direct"`
	Sociodynamic   int           `json:"sociodynamic"`
	ExhaustedDraws int           `json:"exhausted_draws"`
	Duration       time.Duration `json:"duration"`
}

func (s *StepSummary) add(r agents.StepResult) {
	if r.Changed {
		s.Changed++
	}
	switch {
	case r.Isolated:
	case r.Direct:
		s.Direct++
	default:
		s.Sociodynamic++
	}
	s.ExhaustedDraws += r.ExhaustedDraws
}

func (s *StepSummary) merge(o StepSummary) {
	s.Changed += o.Changed
	s.Direct += o.Direct
	s.Sociodynamic += o.Sociodynamic
	s.ExhaustedDraws += o.ExhaustedDraws
}

// Model owns the population and drives time forward one slot at a time.
type Model struct {
	RunID  uuid.UUID
	Params params.Parameters
	Dims   census.Dimensions
	Seed   int64
	Agents []agents.Agent
	Graph  gen.GraphStats

	// Trace, when set, receives every agent transition. It may be called
	// from several goroutines at once.
	Trace func(t uint64, id agents.AgentID, res agents.StepResult)

	mu      sync.RWMutex
	time    uint64
	last    StepSummary
	rng     *rand.Rand
	indices []agents.AgentID
	workers *Controller
}

// NewModel generates the graph and attributes for a fresh run at time 0.
func NewModel(cfg Config) (*Model, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Dimensions.Validate(); err != nil {
		return nil, err
	}

	m := newModel(cfg, agents.NewPopulation(cfg.Params.N), 0)
	p := &m.Params

	slog.Debug("wiring graph", "agents", p.N, "out_connections", p.OutConnections)
	stats, err := gen.WireGraph(m.Agents, cfg.Census, p.OutConnections, p.LinkProb, p.RecipProb,
		rand.New(rand.NewSource(cfg.Seed+seedGraph)))
	if err != nil {
		return nil, fmt.Errorf("generating graph: %w", err)
	}
	m.Graph = stats
	if cfg.Verify {
		if err := gen.CheckForDuplicates(m.Agents); err != nil {
			return nil, err
		}
		if err := gen.CheckForLoops(m.Agents); err != nil {
			return nil, err
		}
		if err := gen.CheckDegreeBound(m.Agents, p.OutConnections); err != nil {
			return nil, err
		}
	}

	if err := gen.GenerateAttributes(m.Agents, cfg.Dimensions.Values, cfg.Dimensions.Behaviors,
		rand.New(rand.NewSource(cfg.Seed+seedAttributes))); err != nil {
		return nil, fmt.Errorf("generating attributes: %w", err)
	}
	powerful := gen.GeneratePowerfulAgents(m.Agents, p.PowerPercent, true,
		rand.New(rand.NewSource(cfg.Seed+seedPower)))

	if err := m.initWorkers(cfg); err != nil {
		return nil, err
	}

	slog.Info("population ready",
		"run", m.RunID,
		"agents", len(m.Agents),
		"families", stats.Families,
		"edges", stats.Edges,
		"reciprocated", stats.Reciprocated,
		"powerful", len(powerful),
	)
	return m, nil
}

// Resume rebuilds a Model from exported agent records at time t. The step
// random stream is re-derived from the seed and t.
func Resume(cfg Config, runID uuid.UUID, records []agents.Record, t uint64) (*Model, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	pop, err := agents.Restore(records)
	if err != nil {
		return nil, fmt.Errorf("restoring agents: %w", err)
	}
	cfg.Params.N = uint32(len(pop))
	m := newModel(cfg, pop, t)
	m.RunID = runID
	m.rng = rand.New(rand.NewSource(cfg.Seed + seedStep + int64(t)))
	if err := m.initWorkers(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

func newModel(cfg Config, pop []agents.Agent, t uint64) *Model {
	indices := make([]agents.AgentID, len(pop))
	for i := range indices {
		indices[i] = agents.AgentID(i)
	}
	return &Model{
		RunID:   uuid.New(),
		Params:  cfg.Params,
		Dims:    cfg.Dimensions,
		Seed:    cfg.Seed,
		Agents:  pop,
		time:    t,
		rng:     rand.New(rand.NewSource(cfg.Seed + seedStep)),
		indices: indices,
	}
}

func (m *Model) initWorkers(cfg Config) error {
	if cfg.Workers <= 1 {
		return nil
	}
	c, err := NewController(uint32(len(m.Agents)), cfg.Workers, cfg.Seed+seedWorkers+int64(m.time))
	if err != nil {
		return err
	}
	m.workers = c
	return nil
}

// CurrentTime returns the most recently completed time slot.
func (m *Model) CurrentTime() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.time
}

// LastStep returns the summary of the most recent slot.
func (m *Model) LastStep() StepSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Summary counts behaviors and privilege across the population.
func (m *Model) Summary() report.Snapshot {
	return report.Summarize(m.Agents, m.Dims.Behaviors, m.CurrentTime())
}

// Step advances one time slot: every agent is stepped once, in a freshly
// shuffled order. With workers, each partition is shuffled and stepped on
// its own goroutine and the slot ends when all partitions finish.
func (m *Model) Step(ctx context.Context) (StepSummary, error) {
	start := time.Now()
	t := m.CurrentTime() + 1
	sum := StepSummary{Time: t}

	var err error
	if m.workers == nil {
		err = m.stepSerial(t, &sum)
	} else {
		err = m.stepParallel(ctx, t, &sum)
	}
	if err != nil {
		return sum, fmt.Errorf("time %d: %w", t, err)
	}
	sum.Duration = time.Since(start)

	m.mu.Lock()
	m.time = t
	m.last = sum
	m.mu.Unlock()
	return sum, nil
}

func (m *Model) stepSerial(t uint64, sum *StepSummary) error {
	m.rng.Shuffle(len(m.indices), func(i, j int) {
		m.indices[i], m.indices[j] = m.indices[j], m.indices[i]
	})
	for _, id := range m.indices {
		res, err := m.Agents[id].Step(&m.Params, m.Agents, m.Dims.Behaviors, t, m.rng)
		if err != nil {
			return err
		}
		if m.Trace != nil {
			m.Trace(t, id, res)
		}
		sum.add(res)
	}
	return nil
}

func (m *Model) stepParallel(ctx context.Context, t uint64, sum *StepSummary) error {
	var mu sync.Mutex
	return m.workers.Run(ctx, func(p Partition, rng *rand.Rand) error {
		order := m.indices[p.Start:p.End]
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var local StepSummary
		for _, id := range order {
			res, err := m.Agents[id].Step(&m.Params, m.Agents, m.Dims.Behaviors, t, rng)
			if err != nil {
				return err
			}
			if m.Trace != nil {
				m.Trace(t, id, res)
			}
			local.add(res)
		}
		mu.Lock()
		sum.merge(local)
		mu.Unlock()
		return nil
	})
}

// Records exports every agent.
func (m *Model) Records() []agents.Record {
	out := make([]agents.Record, len(m.Agents))
	for i := range m.Agents {
		out[i] = m.Agents[i].Export()
	}
	return out
}
