package agents

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/iris/internal/params"
)

func TestStateUpdateAndRead(t *testing.T) {
	pop := NewPopulation(1)
	a := &pop[0]
	a.SetInitialBehavior(BehaviorList{0})

	v, err := a.BehaviorAt(0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v)

	require.NoError(t, a.UpdateState(0, 4, 0))
	require.NoError(t, a.UpdateState(0, 54, 1))

	v, err = a.BehaviorAt(0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), v)
	v, err = a.BehaviorAt(0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(54), v)
	assert.Equal(t, BehaviorList{54}, a.Behavior())
}

func TestStateMultivariate(t *testing.T) {
	pop := NewPopulation(1)
	a := &pop[0]
	a.SetInitialBehavior(BehaviorList{3, 4, 1})

	require.NoError(t, a.UpdateState(0, 4, 0))
	require.NoError(t, a.UpdateState(2, 54, 1))
	require.NoError(t, a.UpdateState(1, 23, 2))

	for i, want := range []uint32{4, 4, 54} {
		v, err := a.BehaviorAt(i, 1)
		require.NoError(t, err)
		assert.Equal(t, want, v, "dimension %d at time 1", i)
	}
	for i, want := range []uint32{4, 23, 54} {
		v, err := a.BehaviorAt(i, 2)
		require.NoError(t, err)
		assert.Equal(t, want, v, "dimension %d at time 2", i)
	}
	assert.Equal(t, BehaviorList{4, 23, 54}, a.Behavior())

	_, err := a.BehaviorAt(0, 0)
	assert.ErrorIs(t, err, ErrStaleStateAccess)
}

func TestInitialBehaviorFillsBothSlots(t *testing.T) {
	pop := NewPopulation(1)
	a := &pop[0]
	a.SetInitialBehavior(BehaviorList{2, 1})

	cur, prev := a.States()
	assert.Equal(t, cur, prev)
	assert.Equal(t, uint64(0), cur.Time)

	// Mutating the returned copy must not leak into the agent.
	cur.Behavior[0] = 9
	assert.Equal(t, BehaviorList{2, 1}, a.Behavior())
}

func TestUpdateStateRejectsBadDimension(t *testing.T) {
	pop := NewPopulation(1)
	pop[0].SetInitialBehavior(BehaviorList{0})
	assert.Error(t, pop[0].UpdateState(3, 1, 1))
}

func TestIsNetworkFull(t *testing.T) {
	pop := NewPopulation(7)
	a := &pop[0]
	a.SetFamilySize(2)
	for _, id := range []AgentID{3, 5, 6} {
		a.AddConnection(id)
	}

	assert.False(t, a.IsNetworkFull(10, 200))
	assert.True(t, a.IsNetworkFull(1, 200))
	assert.False(t, a.IsNetworkFull(100000, 200))
	assert.True(t, a.IsNetworkFull(100000, 4))
}

func TestIsNetworkFullEmptyNetwork(t *testing.T) {
	// An empty network reports full whenever the bound is positive. This
	// boundary is pinned so that any change to it is deliberate.
	pop := NewPopulation(10)
	a := &pop[0]
	a.SetFamilySize(1)
	assert.True(t, a.IsNetworkFull(5, 10))

	a.AddConnection(4)
	assert.False(t, a.IsNetworkFull(5, 10))
}

func TestAddConnectionKeepsNetworkSortedAndUnique(t *testing.T) {
	pop := NewPopulation(10)
	a := &pop[2]
	for _, id := range []AgentID{7, 1, 7, 2, 4, 1} {
		a.AddConnection(id)
	}
	assert.Equal(t, Network{1, 4, 7}, a.Network())
	assert.True(t, a.IsConnectedTo(4))
	assert.False(t, a.IsConnectedTo(2))
}

func TestComputeOutcomeDirectly(t *testing.T) {
	assert.Equal(t, OutcomeKeep, ComputeOutcomeDirectly(Sides{Against: 0, InFavor: 1}))
	assert.Equal(t, OutcomeKeep, ComputeOutcomeDirectly(Sides{Against: 32, InFavor: 32}))
	assert.Equal(t, OutcomeChange, ComputeOutcomeDirectly(Sides{Against: 27, InFavor: 23}))
}

func TestComputeUtility(t *testing.T) {
	assert.InDelta(t, 0.6321206, ComputeUtility(1, 1), 1e-6)
	assert.Equal(t, 0.0, ComputeUtility(1, 0))
}

func TestChangeProbabilityIsClamped(t *testing.T) {
	p := params.Default()
	p.Resist, p.ResistMin, p.ResistMax = 0.5, 0.1, 0.9

	assert.InDelta(t, 0.9, ChangeProbability(&p, Sides{InFavor: 10}), 1e-12)
	assert.InDelta(t, 0.1, ChangeProbability(&p, Sides{Against: 10}), 1e-12)
	assert.InDelta(t, 0.5, ChangeProbability(&p, Sides{Against: 3, InFavor: 3}), 1e-12)
}

func TestDetermineCommType(t *testing.T) {
	assert.Equal(t, CommCensored, DetermineCommType(2, 3, OutcomeChange))
	assert.Equal(t, CommReinforced, DetermineCommType(2, 2, OutcomeKeep))
	assert.Equal(t, CommNeither, DetermineCommType(2, 3, OutcomeKeep))
	assert.Equal(t, CommNeither, DetermineCommType(2, 2, OutcomeChange))
}

func TestSelectNewBehavior(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		v := SelectNewBehavior(rng, 2, 5)
		assert.NotEqual(t, uint32(2), v)
		assert.Less(t, v, uint32(5))
	}
	assert.Equal(t, uint32(0), SelectNewBehavior(rng, 0, 1))
	assert.Equal(t, uint32(0), SelectNewBehavior(rng, 1, 2))
}

func TestInGroup(t *testing.T) {
	pop := NewPopulation(10)
	a := &pop[0]
	for _, id := range []AgentID{1, 2, 3, 4, 5} {
		a.AddConnection(id)
	}
	rng := rand.New(rand.NewSource(11))

	g := a.InGroup(rng, 3)
	assert.Len(t, g, 3)
	for _, id := range g {
		assert.True(t, a.IsConnectedTo(id))
	}
	assert.Len(t, a.InGroup(rng, 50), 5)
	assert.Empty(t, a.InGroup(rng, 0))
	// The network itself stays sorted.
	assert.Equal(t, Network{1, 2, 3, 4, 5}, a.Network())
}

func TestOutGroupExcludesNetworkAndSelf(t *testing.T) {
	pop := NewPopulation(20)
	a := &pop[5]
	for _, id := range []AgentID{4, 6, 7} {
		a.AddConnection(id)
	}
	rng := rand.New(rand.NewSource(5))

	for i := 0; i < 50; i++ {
		g, _ := a.OutGroup(rng, 6, 20)
		seen := make(map[AgentID]bool)
		for _, id := range g {
			assert.NotEqual(t, a.ID(), id)
			assert.False(t, a.IsConnectedTo(id))
			assert.Less(t, uint32(id), uint32(20))
			assert.False(t, seen[id], "duplicate %d", id)
			seen[id] = true
		}
	}

	// Only 16 agents lie outside; asking for more caps the draw count.
	g, exhausted := a.OutGroup(rng, 100, 20)
	assert.Equal(t, 16, len(g)+exhausted)
}

func TestOutGroupWhenEveryoneIsConnected(t *testing.T) {
	pop := NewPopulation(3)
	a := &pop[0]
	a.AddConnection(1)
	a.AddConnection(2)
	g, exhausted := a.OutGroup(rand.New(rand.NewSource(1)), 4, 3)
	assert.Empty(t, g)
	assert.Zero(t, exhausted)
}

func TestInteractionLedger(t *testing.T) {
	pop := NewPopulation(3)
	a := &pop[0]
	a.UpdateCommunicationWith(Network{1, 2})
	a.UpdateInfluenceOn(1, CommCensored)
	a.UpdateInfluenceOn(2, CommReinforced)
	a.UpdateInfluenceOn(2, CommNeither)

	got := a.Interactions()
	assert.Equal(t, Interaction{Communicated: 2, Censored: 1}, got[1])
	assert.Equal(t, Interaction{Communicated: 3, Reinforced: 1}, got[2])
}

func TestConcurrentCounters(t *testing.T) {
	pop := NewPopulation(2)
	target := &pop[1]

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				target.IncreasePrivilege()
				target.UpdateInfluenceOn(0, CommReinforced)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(8000), target.Privilege())
	assert.Equal(t, Interaction{Communicated: 8000, Reinforced: 8000}, target.Interactions()[0])
}

// newTestPopulation builds n agents with one behavior dimension, every agent
// holding behaviors[i] and connected to all others.
func newTestPopulation(behaviors []uint32, powerful ...AgentID) []Agent {
	pop := NewPopulation(uint32(len(behaviors)))
	for i := range pop {
		pop[i].SetInitialBehavior(BehaviorList{behaviors[i]})
		pop[i].SetFamilySize(uint32(len(behaviors)))
		for j := range pop {
			pop[i].AddConnection(AgentID(j))
		}
	}
	for _, id := range powerful {
		pop[id].SetPowerful(true)
	}
	return pop
}

func TestStepWithoutSocialGroupKeeps(t *testing.T) {
	p := params.Default()
	p.QIn, p.QOut = 0, 0
	pop := newTestPopulation([]uint32{0, 1})
	rng := rand.New(rand.NewSource(9))

	for step := uint64(1); step <= 20; step++ {
		for i := range pop {
			res, err := pop[i].Step(&p, pop, BehaviorList{2}, step, rng)
			require.NoError(t, err)
			assert.Equal(t, OutcomeKeep, res.Outcome)
			assert.True(t, res.Isolated)
			assert.Zero(t, res.SocialGroup)
		}
	}
	assert.Equal(t, BehaviorList{0}, pop[0].Behavior())
	assert.Equal(t, BehaviorList{1}, pop[1].Behavior())
	assert.Zero(t, pop[0].Privilege())
	assert.Zero(t, pop[1].Privilege())
}

// newIsolatedPowerful builds three agents with no connections where only
// agent 0 is powerful, so its filtered out-group is always empty.
func newIsolatedPowerful() []Agent {
	pop := NewPopulation(3)
	for i := range pop {
		pop[i].SetInitialBehavior(BehaviorList{0})
		pop[i].SetFamilySize(1)
	}
	pop[0].SetPowerful(true)
	return pop
}

func TestStepPowerfulWithoutSocialGroup(t *testing.T) {
	t.Run("always changes at zero resistance", func(t *testing.T) {
		p := params.Default()
		p.QIn, p.QOut = 4, 2
		p.Resist, p.ResistMin, p.ResistMax = 0, 0, 0
		pop := newIsolatedPowerful()
		rng := rand.New(rand.NewSource(5))

		for step := uint64(1); step <= 20; step++ {
			res, err := pop[0].Step(&p, pop, BehaviorList{2}, step, rng)
			require.NoError(t, err)
			assert.False(t, res.Isolated)
			assert.False(t, res.Direct)
			assert.Zero(t, res.SocialGroup)
			assert.Equal(t, OutcomeChange, res.Outcome)
			assert.True(t, res.Changed)
		}
		assert.Zero(t, pop[0].Privilege())
	})

	t.Run("keeps and gains privilege at full resistance", func(t *testing.T) {
		p := params.Default()
		p.QIn, p.QOut = 4, 2
		p.Resist, p.ResistMin, p.ResistMax = 1, 1, 1
		pop := newIsolatedPowerful()
		rng := rand.New(rand.NewSource(5))

		for step := uint64(1); step <= 20; step++ {
			res, err := pop[0].Step(&p, pop, BehaviorList{2}, step, rng)
			require.NoError(t, err)
			assert.Equal(t, OutcomeKeep, res.Outcome)
		}
		assert.Equal(t, BehaviorList{0}, pop[0].Behavior())
		assert.Equal(t, uint64(20), pop[0].Privilege())
	})

	t.Run("draws against the clamped resistance", func(t *testing.T) {
		p := params.Default()
		p.QIn, p.QOut = 4, 2
		pop := newIsolatedPowerful()
		rng := rand.New(rand.NewSource(11))

		changes := 0
		for step := uint64(1); step <= 200; step++ {
			res, err := pop[0].Step(&p, pop, BehaviorList{2}, step, rng)
			require.NoError(t, err)
			if res.Outcome == OutcomeChange {
				changes++
			}
		}
		assert.Greater(t, changes, 50)
		assert.Less(t, changes, 150)
		assert.Equal(t, uint64(200-changes), pop[0].Privilege())
	})

	t.Run("non-powerful isolate keeps without privilege", func(t *testing.T) {
		p := params.Default()
		p.QIn, p.QOut = 4, 0
		pop := newIsolatedPowerful()
		rng := rand.New(rand.NewSource(5))

		for step := uint64(1); step <= 20; step++ {
			res, err := pop[1].Step(&p, pop, BehaviorList{2}, step, rng)
			require.NoError(t, err)
			assert.True(t, res.Isolated)
			assert.Equal(t, OutcomeKeep, res.Outcome)
		}
		assert.Equal(t, BehaviorList{0}, pop[1].Behavior())
		assert.Zero(t, pop[1].Privilege())
	})
}

func TestStepDirectAgainstPowerGroup(t *testing.T) {
	p := params.Default()
	p.QIn, p.QOut = 3, 0
	pop := newTestPopulation([]uint32{0, 1, 1, 1}, 1, 2, 3)
	rng := rand.New(rand.NewSource(1))

	res, err := pop[0].Step(&p, pop, BehaviorList{2}, 1, rng)
	require.NoError(t, err)
	assert.True(t, res.Direct)
	assert.Equal(t, OutcomeChange, res.Outcome)
	assert.True(t, res.Changed)
	assert.Equal(t, 3, res.PowerGroup)
	assert.Equal(t, BehaviorList{1}, pop[0].Behavior())

	// The previous behavior is still readable at time 0.
	v, err := pop[0].BehaviorAt(0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v)

	assert.Zero(t, pop[0].Privilege())
	for _, id := range []AgentID{1, 2, 3} {
		assert.Equal(t, uint64(1), pop[id].Privilege())
		assert.Equal(t, Interaction{Communicated: 1, Censored: 1}, pop[id].Interactions()[0])
		assert.Equal(t, Interaction{Communicated: 1}, pop[0].Interactions()[id])
	}
}

func TestStepPowerfulAgentReinforced(t *testing.T) {
	p := params.Default()
	p.QIn, p.QOut = 2, 0
	p.ResistMax = 1.0
	pop := newTestPopulation([]uint32{0, 0, 0}, 0)
	rng := rand.New(rand.NewSource(2))

	res, err := pop[0].Step(&p, pop, BehaviorList{3}, 1, rng)
	require.NoError(t, err)
	assert.False(t, res.Direct)
	assert.Equal(t, OutcomeKeep, res.Outcome)
	assert.Equal(t, BehaviorList{0}, pop[0].Behavior())

	assert.Equal(t, uint64(1), pop[0].Privilege())
	for _, id := range []AgentID{1, 2} {
		assert.Equal(t, uint64(1), pop[id].Privilege())
		assert.Equal(t, Interaction{Communicated: 1, Reinforced: 1}, pop[id].Interactions()[0])
	}
}

func TestStepRejectsTimeZero(t *testing.T) {
	p := params.Default()
	pop := newTestPopulation([]uint32{0, 0})
	_, err := pop[0].Step(&p, pop, BehaviorList{1}, 0, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestExportRestore(t *testing.T) {
	p := params.Default()
	p.QIn, p.QOut = 2, 0
	pop := newTestPopulation([]uint32{0, 1, 1}, 2)
	rng := rand.New(rand.NewSource(4))
	for i := range pop {
		_, err := pop[i].Step(&p, pop, BehaviorList{2}, 1, rng)
		require.NoError(t, err)
	}

	records := make([]Record, len(pop))
	for i := range pop {
		records[i] = pop[i].Export()
	}
	restored, err := Restore(records)
	require.NoError(t, err)
	for i := range pop {
		assert.Equal(t, records[i], restored[i].Export())
	}

	records[1].ID = 7
	_, err = Restore(records)
	assert.Error(t, err)
}
