package optimizer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/utils"
)

var allBanners = []int{1, 2, 3, 4, 5, 6}

// RandomPlan 随机生成一个方案（不检查预算）
// 1. 每个广告位以 1/2 的概率投放
// 2. 投放中的广告位从 1 ~ 6 中不放回地抽取横幅，保证不重复
// 3. 为每个投放中的广告位抽取开始时间和时长，时长为 0 的广告位改为不投放
func RandomPlan(rng *rand.Rand) domain.Plan {
	plan := domain.Plan{}

	activeSlots := make([]int, 0, domain.SlotCount)
	for s := 0; s < domain.SlotCount; s++ {
		if rng.Intn(2) == 1 {
			activeSlots = append(activeSlots, s)
		}
	}

	banners := utils.RandomSubset(rng, allBanners, len(activeSlots))
	for i, s := range activeSlots {
		plan.Slots[s].Banner = banners[i]
		start, duration := utils.DrawSchedule(rng)
		plan.Slots[s].Schedule(start, duration)
	}

	return plan
}

// GenerateRandomPlan 随机生成一个方案并计算成本
func (o *Optimizer) GenerateRandomPlan() domain.Plan {
	plan := RandomPlan(o.rng)
	plan.Cost = o.parameters.CostTable.Cost(&plan)
	return plan
}

// GeneratePopulation 不断生成随机方案，只保留成本在预算范围内的，直到种群中有 n 个方案
func (o *Optimizer) GeneratePopulation(n int) ([]domain.Plan, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: n = %d", ErrNegativeCount, n)
	}
	pop := make([]domain.Plan, 0, n)

	for len(pop) < n {
		accepted := false
		for attempt := 0; attempt < o.parameters.MaxAttempts; attempt++ {
			plan := o.GenerateRandomPlan()
			if o.parameters.Budget.Contains(plan.Cost) {
				pop = append(pop, plan)
				accepted = true
				break
			}
		}

		if !accepted {
			return nil, &InfeasiblePlanError{Op: OpGeneratePopulation, Index: len(pop), Attempts: o.parameters.MaxAttempts}
		}
	}

	return pop, nil
}

// Evaluate 重新计算种群中每个方案的成本，并批量预测点击量
func (o *Optimizer) Evaluate(pop []domain.Plan) error {
	if len(pop) == 0 {
		return nil
	}

	clicks, err := o.model.Predict(pop)
	if err != nil {
		return err
	}
	if len(clicks) != len(pop) {
		return fmt.Errorf("模型返回了 %d 个预测值，但种群中有 %d 个方案", len(clicks), len(pop))
	}

	for i := range pop {
		pop[i].Cost = o.parameters.CostTable.Cost(&pop[i])
		pop[i].PredictedClicks = clicks[i]
	}
	return nil
}

// Select 使用轮盘赌有放回地选出 k 个方案
// 每次抽取的权重都是 predictedClicks / Σ predictedClicks
func (o *Optimizer) Select(pop []domain.Plan, k int) ([]domain.Plan, error) {
	if len(pop) == 0 {
		return nil, ErrEmptyPopulation
	}
	if k < 0 {
		return nil, fmt.Errorf("%w: k = %d", ErrNegativeCount, k)
	}

	weights := make([]float64, len(pop))
	sumFit := 0.0
	for i, plan := range pop {
		w := plan.PredictedClicks
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: 第 %d 个方案的预测点击量为 %v", ErrInvalidFitnessDistribution, i, w)
		}
		weights[i] = w
		sumFit += w
	}
	if sumFit <= 0 || math.IsInf(sumFit, 0) {
		return nil, fmt.Errorf("%w: 总和为 %v", ErrInvalidFitnessDistribution, sumFit)
	}

	selected := make([]domain.Plan, k)
	for i := range selected {
		selected[i] = pop[o.spinRoulette(weights, sumFit)]
	}
	return selected, nil
}

func (o *Optimizer) spinRoulette(weights []float64, sumFit float64) int {
	pick := o.rng.Float64() * sumFit
	partial := 0.0

	last := 0
	for i, w := range weights {
		if w == 0 {
			continue
		}
		partial += w
		last = i
		if pick < partial {
			return i
		}
	}

	// 浮点误差导致 partial 略小于 sumFit 时，返回最后一个权重非 0 的方案
	return last
}

// Crossover 生成 n 个子代
// 每个子代随机（有放回）选择两个父本，每个广告位独立地从其中一个父本继承
// 如果子代存在重复横幅或者超出预算，就用同样的两个父本重新抽取
func (o *Optimizer) Crossover(parents []domain.Plan, n int) ([]domain.Plan, error) {
	if len(parents) == 0 {
		return nil, ErrEmptyPopulation
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: n = %d", ErrNegativeCount, n)
	}

	children := make([]domain.Plan, n)
	for c := range children {
		p1 := &parents[o.rng.Intn(len(parents))]
		p2 := &parents[o.rng.Intn(len(parents))]

		child, err := o.crossoverChild(p1, p2, c)
		if err != nil {
			return nil, err
		}
		children[c] = child
	}

	if err := o.Evaluate(children); err != nil {
		return nil, err
	}
	return children, nil
}

func (o *Optimizer) crossoverChild(p1, p2 *domain.Plan, index int) (domain.Plan, error) {
	for attempt := 0; attempt < o.parameters.MaxAttempts; attempt++ {
		child := domain.Plan{}
		for s := 0; s < domain.SlotCount; s++ {
			if o.rng.Intn(2) == 0 {
				child.Slots[s] = p1.Slots[s]
			} else {
				child.Slots[s] = p2.Slots[s]
			}
		}

		child.Cost = o.parameters.CostTable.Cost(&child)
		if !child.HasDuplicateBanners() && o.parameters.Budget.Affords(child.Cost) {
			return child, nil
		}
	}

	return domain.Plan{}, &InfeasiblePlanError{Op: OpCrossover, Index: index, Attempts: o.parameters.MaxAttempts}
}

// MutateScramble 乱序变异
// 以 rate 的概率对方案的 5 个广告位做同一个随机排列（横幅、开始时间、时长一起移动）
// 结果超出预算时重新掷骰子并重新排列
func (o *Optimizer) MutateScramble(pop []domain.Plan, rate float64) ([]domain.Plan, error) {
	result := make([]domain.Plan, len(pop))
	for i := range pop {
		plan, err := o.scramble(pop[i], rate, i)
		if err != nil {
			return nil, err
		}
		result[i] = plan
	}

	if err := o.Evaluate(result); err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Optimizer) scramble(plan domain.Plan, rate float64, index int) (domain.Plan, error) {
	for attempt := 0; attempt < o.parameters.MaxAttempts; attempt++ {
		candidate := plan
		if o.rng.Float64() < rate {
			perm := o.rng.Perm(domain.SlotCount)
			for s, from := range perm {
				candidate.Slots[s] = plan.Slots[from]
			}
		}

		candidate.Cost = o.parameters.CostTable.Cost(&candidate)
		if o.parameters.Budget.Affords(candidate.Cost) {
			return candidate, nil
		}
	}

	return domain.Plan{}, &InfeasiblePlanError{Op: OpMutateScramble, Index: index, Attempts: o.parameters.MaxAttempts}
}

// MutateGaussian 高斯变异
// 以 rate 的概率随机选择一个广告位:
//   - 不投放的广告位: 从其他广告位没有使用的横幅中抽取一个，再抽取投放时间
//   - 投放中的广告位: 横幅不变，重新抽取投放时间
//
// 超出预算时只重新抽取该广告位的投放时间
func (o *Optimizer) MutateGaussian(pop []domain.Plan, rate float64) ([]domain.Plan, error) {
	result := make([]domain.Plan, len(pop))
	for i := range pop {
		plan, err := o.perturb(pop[i], rate, i)
		if err != nil {
			return nil, err
		}
		result[i] = plan
	}

	if err := o.Evaluate(result); err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Optimizer) perturb(plan domain.Plan, rate float64, index int) (domain.Plan, error) {
	if o.rng.Float64() >= rate {
		return plan, nil
	}

	s := o.rng.Intn(domain.SlotCount)
	banner := plan.Slots[s].Banner
	if !plan.Slots[s].IsActive() {
		candidates := make([]int, 0, domain.BannerCount)
		for _, b := range allBanners {
			if !plan.UsesBannerElsewhere(s, b) {
				candidates = append(candidates, b)
			}
		}
		// 其他广告位最多占用 4 个横幅，候选不可能为空
		banner = candidates[o.rng.Intn(len(candidates))]
	}

	for attempt := 0; attempt < o.parameters.MaxAttempts; attempt++ {
		candidate := plan
		candidate.Slots[s].Banner = banner
		start, duration := utils.DrawSchedule(o.rng)
		candidate.Slots[s].Schedule(start, duration)

		candidate.Cost = o.parameters.CostTable.Cost(&candidate)
		if o.parameters.Budget.Affords(candidate.Cost) {
			return candidate, nil
		}
	}

	return domain.Plan{}, &InfeasiblePlanError{Op: OpMutateGaussian, Index: index, Attempts: o.parameters.MaxAttempts}
}
