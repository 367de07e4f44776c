package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/iris/internal/agents"
	"github.com/talgya/iris/internal/census"
	"github.com/talgya/iris/internal/params"
)

func testConfig(n uint32, seed int64) Config {
	p := params.Default()
	p.N = n
	p.Steps = 10
	p.QIn, p.QOut = 3, 2
	p.OutConnections = 4
	p.PowerPercent = 0.1
	return Config{
		Params:     p,
		Dimensions: census.Dimensions{Values: agents.BehaviorList{3, 2}, Behaviors: agents.BehaviorList{3, 2}},
		Census:     []float64{0.3, 0.3, 0.2, 0.2},
		Seed:       seed,
		Verify:     true,
	}
}

func TestPartitions(t *testing.T) {
	parts, err := Partitions(10, 3)
	require.NoError(t, err)
	assert.Equal(t, []Partition{{0, 3}, {3, 6}, {6, 10}}, parts)

	_, err = Partitions(2, 3)
	assert.ErrorIs(t, err, ErrTooManyWorkers)
	_, err = Partitions(2, 0)
	assert.ErrorIs(t, err, ErrTooManyWorkers)
}

func TestControllerRunsEveryPartition(t *testing.T) {
	c, err := NewController(100, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Workers())

	var covered atomic.Int64
	err = c.Run(context.Background(), func(p Partition, rng *rand.Rand) error {
		covered.Add(int64(p.Len()))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), covered.Load())

	boom := errors.New("boom")
	err = c.Run(context.Background(), func(p Partition, rng *rand.Rand) error {
		if p.Start == 0 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestEngineRunsToMaxSteps(t *testing.T) {
	e := NewEngine(7)
	e.ReportEvery = 3
	var steps []uint64
	var reports []uint64
	e.OnStep = func(_ context.Context, t uint64) error {
		steps = append(steps, t)
		return nil
	}
	e.OnReport = func(t uint64) error {
		reports = append(reports, t)
		return nil
	}

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7}, steps)
	assert.Equal(t, []uint64{3, 6, 7}, reports)
	assert.False(t, e.Running())
}

func TestEngineStop(t *testing.T) {
	e := NewEngine(100)
	e.OnStep = func(_ context.Context, t uint64) error {
		if t == 4 {
			e.Stop()
		}
		return nil
	}
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(4), e.Time)
}

func TestEngineStopBeforeRun(t *testing.T) {
	e := NewEngine(10)
	e.ReportEvery = 3
	var calls int
	e.OnStep = func(context.Context, uint64) error {
		calls++
		return nil
	}
	e.OnReport = func(uint64) error {
		calls++
		return nil
	}

	e.Stop()
	require.NoError(t, e.Run(context.Background()))
	assert.Zero(t, calls)
	assert.Zero(t, e.Time)
	assert.False(t, e.Running())
}

func TestEngineCancelAndError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEngine(100)
	e.OnStep = func(_ context.Context, t uint64) error {
		if t == 2 {
			cancel()
		}
		return nil
	}
	assert.ErrorIs(t, e.Run(ctx), context.Canceled)
	assert.Equal(t, uint64(2), e.Time)

	boom := errors.New("boom")
	e = NewEngine(5)
	e.OnStep = func(context.Context, uint64) error { return boom }
	assert.ErrorIs(t, e.Run(context.Background()), boom)
	assert.Zero(t, e.Time)
}

func TestTwoAgentRunNeverChanges(t *testing.T) {
	p := params.Default()
	p.N = 2
	p.PowerPercent = 0
	p.QIn, p.QOut = 0, 0
	p.Steps = 25
	cfg := Config{
		Params:     p,
		Dimensions: census.Dimensions{Values: agents.BehaviorList{2}, Behaviors: agents.BehaviorList{2}},
		Census:     []float64{0.5, 0.5},
		Seed:       42,
	}
	m, err := NewModel(cfg)
	require.NoError(t, err)

	initial := []agents.BehaviorList{m.Agents[0].Behavior(), m.Agents[1].Behavior()}
	for i := uint64(0); i < p.Steps; i++ {
		sum, err := m.Step(context.Background())
		require.NoError(t, err)
		assert.Zero(t, sum.Changed)
	}
	assert.Equal(t, p.Steps, m.CurrentTime())
	for i := range m.Agents {
		assert.Equal(t, initial[i], m.Agents[i].Behavior())
		assert.Zero(t, m.Agents[i].Privilege())
	}
}

func TestModelStepsAreDeterministic(t *testing.T) {
	run := func(workers uint32) []agents.Record {
		cfg := testConfig(60, 7)
		cfg.Workers = workers
		m, err := NewModel(cfg)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			_, err := m.Step(context.Background())
			require.NoError(t, err)
		}
		return m.Records()
	}

	assert.Equal(t, run(1), run(1))
	assert.Equal(t, run(4), run(4))
}

func TestModelPopulationInvariants(t *testing.T) {
	m, err := NewModel(testConfig(200, 3))
	require.NoError(t, err)

	powerful := 0
	for i := range m.Agents {
		a := &m.Agents[i]
		assert.Equal(t, agents.AgentID(i), a.ID())
		assert.Len(t, a.Behavior(), 2)
		assert.NotZero(t, a.FamilySize())
		if a.Powerful() {
			powerful++
		}
	}
	assert.Equal(t, 20, powerful)

	for i := 0; i < 5; i++ {
		_, err := m.Step(context.Background())
		require.NoError(t, err)
	}
	snap := m.Summary()
	var total uint32
	for _, c := range snap.Counts {
		total += c
	}
	assert.Equal(t, uint32(200), total)
	assert.Len(t, snap.Counts, 6)
	assert.Equal(t, uint64(5), snap.Time)
}

func TestModelRejectsBadSetup(t *testing.T) {
	cfg := testConfig(10, 1)
	cfg.Workers = 20
	_, err := NewModel(cfg)
	assert.ErrorIs(t, err, ErrTooManyWorkers)

	cfg = testConfig(10, 1)
	cfg.Params.N = 0
	_, err = NewModel(cfg)
	assert.ErrorIs(t, err, params.ErrInvalidParameters)

	cfg = testConfig(10, 1)
	cfg.Dimensions.Behaviors = agents.BehaviorList{2}
	_, err = NewModel(cfg)
	assert.ErrorIs(t, err, census.ErrBijectivity)
}

func TestResumeContinuesFromRecords(t *testing.T) {
	cfg := testConfig(40, 11)
	m, err := NewModel(cfg)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := m.Step(context.Background())
		require.NoError(t, err)
	}

	r, err := Resume(cfg, m.RunID, m.Records(), m.CurrentTime())
	require.NoError(t, err)
	assert.Equal(t, m.RunID, r.RunID)
	assert.Equal(t, uint64(3), r.CurrentTime())

	sum, err := r.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), sum.Time)
}
