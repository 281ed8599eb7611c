package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"

	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/utils"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Observer 每一代结束后被调用一次（第 0 代为初始种群）
type Observer func(stats domain.GenerationStats)

type Optimizer struct {
	parameters *Parameters
	model      FitnessModel
	rng        *rand.Rand
}

func New(parameters Parameters, model FitnessModel) (*Optimizer, error) {
	if err := parameters.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.New("点击量模型不能为空")
	}

	return &Optimizer{
		parameters: &parameters,
		model:      model,
		rng:        rand.New(rand.NewSource(parameters.Seed)),
	}, nil
}

// Optimize 运行遗传算法
// 停止条件: 达到最大迭代次数、连续 StallGenerations 代没有改进、ctx 超时或被取消
// ctx 超时视为正常结束，ctx 被取消时会同时返回目前为止的结果和 ctx 的错误
func (o *Optimizer) Optimize(ctx context.Context, observer Observer) (*Result, error) {
	// 生成初始种群
	pop, err := o.GeneratePopulation(o.parameters.PopulationSize)
	if err != nil {
		return nil, err
	}
	if err := o.Evaluate(pop); err != nil {
		return nil, err
	}

	bestEver := pop[bestIndex(pop)]
	history := make([]domain.GenerationStats, 0, o.parameters.MaxGenerations+1)
	record := func(gen int) {
		stats := generationStats(gen, pop, bestEver.PredictedClicks)
		history = append(history, stats)
		if observer != nil {
			observer(stats)
		}
	}
	record(0)

	result := &Result{StopReason: StopMaxGenerations}
	stall := 0

	for gen := 1; gen <= o.parameters.MaxGenerations; gen++ {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				result.StopReason = StopTimeLimit
				break
			}
			result.StopReason = StopCancelled
			result.Best, result.History = bestEver, history
			return result, err
		}

		next, err := o.nextGeneration(pop)
		if err != nil {
			return nil, fmt.Errorf("第 %d 代: %w", gen, err)
		}
		pop = next
		result.Generations = gen

		// 找到本代最佳方案
		genBest := pop[bestIndex(pop)]
		if genBest.PredictedClicks > bestEver.PredictedClicks {
			bestEver = genBest
			stall = 0
		} else {
			stall++
		}
		record(gen)

		slog.Debug("完成一代迭代", "generation", gen, "best", genBest.PredictedClicks, "bestEver", bestEver.PredictedClicks)

		if o.parameters.StallGenerations > 0 && stall >= o.parameters.StallGenerations {
			result.StopReason = StopStalled
			break
		}
	}

	// 最后再检查一下结果是否满足约束条件
	if err := utils.ValidatePlan(&bestEver, o.parameters.CostTable, o.parameters.Budget); err != nil {
		return nil, fmt.Errorf("最优方案不满足约束: %w", err)
	}

	result.Best = bestEver
	result.History = history
	return result, nil
}

// nextGeneration 选择 → 交叉 → 乱序变异 → 高斯变异，并保留精英
func (o *Optimizer) nextGeneration(pop []domain.Plan) ([]domain.Plan, error) {
	parents, err := o.Select(pop, o.parameters.ParentCount)
	if err != nil {
		return nil, err
	}

	children, err := o.Crossover(parents, o.parameters.PopulationSize-o.parameters.EliteCount)
	if err != nil {
		return nil, err
	}

	children, err = o.MutateScramble(children, o.parameters.ScrambleRate)
	if err != nil {
		return nil, err
	}

	children, err = o.MutateGaussian(children, o.parameters.GaussianRate)
	if err != nil {
		return nil, err
	}

	next := make([]domain.Plan, 0, o.parameters.PopulationSize)
	next = append(next, elites(pop, o.parameters.EliteCount)...)
	next = append(next, children...)
	return next, nil
}

// elites 返回预测点击量最高的 n 个方案（副本）
func elites(pop []domain.Plan, n int) []domain.Plan {
	if n == 0 {
		return nil
	}

	sorted := slices.Clone(pop)
	slices.SortStableFunc(sorted, func(a, b domain.Plan) int {
		switch {
		case a.PredictedClicks > b.PredictedClicks:
			return -1
		case a.PredictedClicks < b.PredictedClicks:
			return 1
		default:
			return 0
		}
	})
	return sorted[:n]
}

func bestIndex(pop []domain.Plan) int {
	best := 0
	for i := 1; i < len(pop); i++ {
		if pop[i].PredictedClicks > pop[best].PredictedClicks {
			best = i
		}
	}
	return best
}

func generationStats(gen int, pop []domain.Plan, bestEver float64) domain.GenerationStats {
	clicks := make([]float64, len(pop))
	for i, plan := range pop {
		clicks[i] = plan.PredictedClicks
	}

	return domain.GenerationStats{
		Generation: gen,
		Best:       floats.Max(clicks),
		Mean:       stat.Mean(clicks, nil),
		StdDev:     stat.StdDev(clicks, nil),
		BestEver:   bestEver,
	}
}
