package optimizer

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/utils"
)

// durationModel: 点击量 = 1 + Σ duration，总是为正
type durationModel struct{}

func (durationModel) Predict(plans []domain.Plan) ([]float64, error) {
	clicks := make([]float64, len(plans))
	for i, p := range plans {
		clicks[i] = 1
		for _, s := range p.Slots {
			clicks[i] += s.Duration
		}
	}
	return clicks, nil
}

type constantModel float64

func (c constantModel) Predict(plans []domain.Plan) ([]float64, error) {
	clicks := make([]float64, len(plans))
	for i := range clicks {
		clicks[i] = float64(c)
	}
	return clicks, nil
}

type brokenModel struct{ short bool }

func (m brokenModel) Predict(plans []domain.Plan) ([]float64, error) {
	if m.short {
		return make([]float64, len(plans)-1), nil
	}
	return nil, errors.New("boom")
}

func newTestOptimizer(t *testing.T, model FitnessModel) *Optimizer {
	t.Helper()
	params := DefaultParameters()
	params.PopulationSize = 30
	params.ParentCount = 20
	params.MaxGenerations = 10
	params.Seed = 2024
	o, err := New(params, model)
	require.NoError(t, err)
	return o
}

func makePlan(slots ...domain.Slot) domain.Plan {
	p := domain.Plan{}
	copy(p.Slots[:], slots)
	p.Cost = domain.DefaultCostTable.Cost(&p)
	return p
}

func assertStructurallyValid(t *testing.T, plan domain.Plan) {
	t.Helper()
	assert.NoError(t, utils.ValidatePlanSlots(&plan))
	assert.InDelta(t, domain.DefaultCostTable.Cost(&plan), plan.Cost, 1e-9)
	for _, s := range plan.Slots {
		assert.GreaterOrEqual(t, s.Duration, 0.0)
		assert.LessOrEqual(t, s.StartTime+s.Duration, 24.0+1e-9)
	}
}

func TestRandomPlanInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	activeSeen := 0
	for i := 0; i < 5000; i++ {
		plan := RandomPlan(rng)
		assertStructurallyValid(t, domain.Plan{Slots: plan.Slots, Cost: domain.DefaultCostTable.Cost(&plan)})
		activeSeen += plan.ActiveSlotCount()
	}
	// 每个广告位以 1/2 的概率投放，平均约 2.5 个
	assert.InDelta(t, 2.5, float64(activeSeen)/5000, 0.1)
}

func TestGeneratePopulationRespectsBudget(t *testing.T) {
	o := newTestOptimizer(t, durationModel{})

	pop, err := o.GeneratePopulation(200)
	require.NoError(t, err)
	require.Len(t, pop, 200)

	for _, plan := range pop {
		assertStructurallyValid(t, plan)
		assert.GreaterOrEqual(t, plan.Cost, 100.0)
		assert.LessOrEqual(t, plan.Cost, 300.0)
	}
}

func TestGeneratePopulationImpossibleBudget(t *testing.T) {
	params := DefaultParameters()
	params.Budget = domain.Budget{Min: 5000, Max: 6000}
	params.MaxAttempts = 50
	o, err := New(params, durationModel{})
	require.NoError(t, err)

	_, err = o.GeneratePopulation(3)
	var infeasible *InfeasiblePlanError
	require.ErrorAs(t, err, &infeasible)
	assert.Equal(t, OpGeneratePopulation, infeasible.Op)
	assert.Equal(t, 0, infeasible.Index)
	assert.Equal(t, 50, infeasible.Attempts)
}

func TestEvaluate(t *testing.T) {
	o := newTestOptimizer(t, durationModel{})
	pop := []domain.Plan{makePlan(domain.Slot{}, domain.Slot{Banner: 1, StartTime: 0, Duration: 5})}
	pop[0].Cost = 0

	require.NoError(t, o.Evaluate(pop))
	assert.Equal(t, 6.0, pop[0].PredictedClicks)
	assert.Equal(t, 50.0, pop[0].Cost)

	o.model = brokenModel{}
	assert.Error(t, o.Evaluate(pop))

	o.model = brokenModel{short: true}
	assert.Error(t, o.Evaluate(pop))
}

func TestSelectRejectsDegenerateWeights(t *testing.T) {
	o := newTestOptimizer(t, durationModel{})

	tests := []struct {
		name   string
		clicks []float64
	}{
		{name: "all zero", clicks: []float64{0, 0, 0}},
		{name: "negative", clicks: []float64{5, -1, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pop := make([]domain.Plan, len(tt.clicks))
			for i, c := range tt.clicks {
				pop[i].PredictedClicks = c
			}
			_, err := o.Select(pop, 2)
			assert.ErrorIs(t, err, ErrInvalidFitnessDistribution)
		})
	}

	_, err := o.Select(nil, 1)
	assert.ErrorIs(t, err, ErrEmptyPopulation)
}

func TestNegativeCountsAreRejected(t *testing.T) {
	o := newTestOptimizer(t, durationModel{})

	pop := []domain.Plan{makePlan(domain.Slot{Banner: 1, StartTime: 0, Duration: 10})}
	pop[0].PredictedClicks = 11

	_, err := o.GeneratePopulation(-1)
	assert.ErrorIs(t, err, ErrNegativeCount)

	_, err = o.Select(pop, -3)
	assert.ErrorIs(t, err, ErrNegativeCount)

	_, err = o.Crossover(pop, -2)
	assert.ErrorIs(t, err, ErrNegativeCount)

	// 0 是合法的
	selected, err := o.Select(pop, 0)
	require.NoError(t, err)
	assert.Empty(t, selected)
}

func TestSelectIsFitnessProportionate(t *testing.T) {
	o := newTestOptimizer(t, durationModel{})

	pop := make([]domain.Plan, 10)
	for i := range pop {
		pop[i] = makePlan(domain.Slot{Banner: i%6 + 1, StartTime: float64(i), Duration: 1})
		pop[i].PredictedClicks = 1
	}
	pop[3].PredictedClicks = 100
	pop[7].PredictedClicks = 0

	const draws = 20000
	selected, err := o.Select(pop, draws)
	require.NoError(t, err)
	require.Len(t, selected, draws)

	hits, zeroHits := 0, 0
	for _, plan := range selected {
		if plan.SameSlots(&pop[3]) {
			hits++
		}
		if plan.SameSlots(&pop[7]) {
			zeroHits++
		}
	}

	// 期望概率 100 / 108
	assert.InDelta(t, 100.0/108.0, float64(hits)/draws, 0.02)
	assert.Zero(t, zeroHits)
}

func TestCrossoverIsSlotLocal(t *testing.T) {
	o := newTestOptimizer(t, durationModel{})

	p1 := makePlan(
		domain.Slot{Banner: 1, StartTime: 1, Duration: 2},
		domain.Slot{},
		domain.Slot{Banner: 2, StartTime: 3, Duration: 4},
		domain.Slot{Banner: 3, StartTime: 5, Duration: 6},
		domain.Slot{},
	)
	p2 := makePlan(
		domain.Slot{},
		domain.Slot{Banner: 4, StartTime: 7, Duration: 1.5},
		domain.Slot{Banner: 5, StartTime: 2, Duration: 2.5},
		domain.Slot{},
		domain.Slot{Banner: 6, StartTime: 10, Duration: 3},
	)

	children, err := o.Crossover([]domain.Plan{p1, p2}, 200)
	require.NoError(t, err)
	require.Len(t, children, 200)

	for _, child := range children {
		assertStructurallyValid(t, child)
		assert.LessOrEqual(t, child.Cost, 300.0)
		for s, slot := range child.Slots {
			assert.True(t, slot == p1.Slots[s] || slot == p2.Slots[s], "slot %d = %+v", s, slot)
		}
		// 子代已经被评估过
		assert.Equal(t, durationModel{}.score(child), child.PredictedClicks)
	}
}

func (m durationModel) score(p domain.Plan) float64 {
	clicks, _ := m.Predict([]domain.Plan{p})
	return clicks[0]
}

func TestCrossoverRepairsDuplicatesAndBudget(t *testing.T) {
	o := newTestOptimizer(t, durationModel{})

	// 两个父本的横幅在不同广告位上冲突，slot 0 和 slot 4 组合起来会超出预算
	p1 := makePlan(
		domain.Slot{Banner: 1, StartTime: 0, Duration: 16}, // 240
		domain.Slot{Banner: 2, StartTime: 0, Duration: 1},
	)
	p2 := makePlan(
		domain.Slot{},
		domain.Slot{},
		domain.Slot{Banner: 1, StartTime: 0, Duration: 2},
		domain.Slot{},
		domain.Slot{Banner: 3, StartTime: 0, Duration: 6}, // 72
	)

	children, err := o.Crossover([]domain.Plan{p1, p2}, 300)
	require.NoError(t, err)

	for _, child := range children {
		assert.False(t, child.HasDuplicateBanners())
		assert.LessOrEqual(t, child.Cost, 300.0)
	}
}

func TestCrossoverRejectsOverBudgetChildren(t *testing.T) {
	o := newTestOptimizer(t, durationModel{})
	o.parameters.MaxAttempts = 100

	// 不论怎么组合，slot 0 的成本都是 21 * 15 = 315
	p1 := makePlan(domain.Slot{Banner: 1, StartTime: 0, Duration: 21})
	p2 := makePlan(domain.Slot{Banner: 2, StartTime: 1, Duration: 21})

	_, err := o.Crossover([]domain.Plan{p1, p2}, 5)
	var infeasible *InfeasiblePlanError
	require.ErrorAs(t, err, &infeasible)
	assert.Equal(t, OpCrossover, infeasible.Op)
	assert.Equal(t, 0, infeasible.Index)
}

func sortedSlots(p domain.Plan) []domain.Slot {
	slots := slices.Clone(p.Slots[:])
	slices.SortFunc(slots, func(a, b domain.Slot) int {
		switch {
		case a.Banner != b.Banner:
			return a.Banner - b.Banner
		case a.StartTime != b.StartTime:
			if a.StartTime < b.StartTime {
				return -1
			}
			return 1
		case a.Duration < b.Duration:
			return -1
		case a.Duration > b.Duration:
			return 1
		}
		return 0
	})
	return slots
}

func TestMutateScramblePreservesSlotTriples(t *testing.T) {
	o := newTestOptimizer(t, durationModel{})

	pop, err := o.GeneratePopulation(100)
	require.NoError(t, err)

	mutated, err := o.MutateScramble(pop, 1)
	require.NoError(t, err)
	require.Len(t, mutated, len(pop))

	moved := 0
	for i := range pop {
		assertStructurallyValid(t, mutated[i])
		assert.LessOrEqual(t, mutated[i].Cost, 300.0)
		assert.Equal(t, sortedSlots(pop[i]), sortedSlots(mutated[i]))
		if !pop[i].SameSlots(&mutated[i]) {
			moved++
		}
	}
	assert.Greater(t, moved, 0)
}

func TestMutateScrambleRepairsCost(t *testing.T) {
	o := newTestOptimizer(t, durationModel{})

	// 在 slot 2 (8/小时) 上是 192，移到 slot 0 (15/小时) 上就是 360
	plan := makePlan(domain.Slot{}, domain.Slot{}, domain.Slot{Banner: 4, StartTime: 0, Duration: 24})

	for i := 0; i < 50; i++ {
		mutated, err := o.MutateScramble([]domain.Plan{plan}, 1)
		require.NoError(t, err)
		assert.LessOrEqual(t, mutated[0].Cost, 300.0)
		assert.Zero(t, mutated[0].Slots[0].Duration)
	}
}

func TestMutateScrambleZeroRateKeepsPlans(t *testing.T) {
	o := newTestOptimizer(t, durationModel{})

	pop, err := o.GeneratePopulation(20)
	require.NoError(t, err)

	mutated, err := o.MutateScramble(pop, 0)
	require.NoError(t, err)
	for i := range pop {
		assert.True(t, pop[i].SameSlots(&mutated[i]))
	}

	// 本来就超出预算的方案无法被修复
	o.parameters.MaxAttempts = 20
	over := makePlan(domain.Slot{Banner: 1, StartTime: 0, Duration: 20}, domain.Slot{Banner: 2, StartTime: 0, Duration: 1}) // 310
	_, err = o.MutateScramble([]domain.Plan{over}, 0)
	var infeasible *InfeasiblePlanError
	require.ErrorAs(t, err, &infeasible)
	assert.Equal(t, OpMutateScramble, infeasible.Op)
}

func TestMutateGaussianChangesAtMostOneSlot(t *testing.T) {
	o := newTestOptimizer(t, durationModel{})

	pop, err := o.GeneratePopulation(200)
	require.NoError(t, err)

	mutated, err := o.MutateGaussian(pop, 1)
	require.NoError(t, err)
	require.Len(t, mutated, len(pop))

	for i := range pop {
		assertStructurallyValid(t, mutated[i])
		assert.LessOrEqual(t, mutated[i].Cost, 300.0)

		changed := 0
		for s := range pop[i].Slots {
			if pop[i].Slots[s] != mutated[i].Slots[s] {
				changed++
			}
		}
		assert.LessOrEqual(t, changed, 1)
	}
}

func TestMutateGaussianActivatesWithUnusedBanner(t *testing.T) {
	o := newTestOptimizer(t, durationModel{})

	// slot 0 是唯一不投放的广告位，其他广告位用了 1 ~ 4
	plan := makePlan(
		domain.Slot{},
		domain.Slot{Banner: 1, StartTime: 0, Duration: 1},
		domain.Slot{Banner: 2, StartTime: 0, Duration: 1},
		domain.Slot{Banner: 3, StartTime: 0, Duration: 1},
		domain.Slot{Banner: 4, StartTime: 0, Duration: 1},
	)

	for i := 0; i < 300; i++ {
		mutated, err := o.MutateGaussian([]domain.Plan{plan}, 1)
		require.NoError(t, err)

		got := mutated[0]
		assertStructurallyValid(t, got)
		assert.LessOrEqual(t, got.Cost, 300.0)
		if got.Slots[0].IsActive() {
			assert.Contains(t, []int{5, 6}, got.Slots[0].Banner)
		}
	}
}

func TestMutateGaussianZeroRate(t *testing.T) {
	o := newTestOptimizer(t, durationModel{})

	pop, err := o.GeneratePopulation(20)
	require.NoError(t, err)

	mutated, err := o.MutateGaussian(pop, 0)
	require.NoError(t, err)
	for i := range pop {
		assert.True(t, pop[i].SameSlots(&mutated[i]))
	}
}

func TestMutateGaussianInfeasible(t *testing.T) {
	o := newTestOptimizer(t, durationModel{})
	o.parameters.MaxAttempts = 30

	// 所有广告位都已经超出预算，只改其中一个不可能降到 300 以下
	plan := makePlan(
		domain.Slot{Banner: 1, StartTime: 0, Duration: 24},
		domain.Slot{Banner: 2, StartTime: 0, Duration: 24},
		domain.Slot{Banner: 3, StartTime: 0, Duration: 24},
		domain.Slot{Banner: 4, StartTime: 0, Duration: 24},
		domain.Slot{Banner: 5, StartTime: 0, Duration: 24},
	)

	_, err := o.MutateGaussian([]domain.Plan{plan}, 1)
	var infeasible *InfeasiblePlanError
	require.ErrorAs(t, err, &infeasible)
	assert.Equal(t, OpMutateGaussian, infeasible.Op)
	assert.Equal(t, 30, infeasible.Attempts)
}
