package optimizer

import (
	"errors"
	"fmt"

	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
)

// FitnessModel 点击量预测模型，优化过程中只会调用 Predict
type FitnessModel interface {
	Predict(plans []domain.Plan) ([]float64, error)
}

// 遗传算法参数
type Parameters struct {
	PopulationSize   int     // 种群大小
	MaxGenerations   int     // 最大迭代次数
	ParentCount      int     // 每一代通过轮盘赌选出的父本数量
	EliteCount       int     // 精英数量
	ScrambleRate     float64 // 乱序变异概率
	GaussianRate     float64 // 高斯变异概率
	MaxAttempts      int     // 每个修复循环的最大尝试次数
	StallGenerations int     // 连续多少代没有改进就提前停止，0 表示不启用
	Seed             int64   // 随机数种子
	CostTable        domain.CostTable
	Budget           domain.Budget
}

func DefaultParameters() Parameters {
	return Parameters{
		PopulationSize:   100,
		MaxGenerations:   50,
		ParentCount:      50,
		EliteCount:       2,
		ScrambleRate:     0.1,
		GaussianRate:     0.2,
		MaxAttempts:      1000,
		StallGenerations: 0,
		Seed:             1,
		CostTable:        domain.DefaultCostTable,
		Budget:           domain.DefaultBudget,
	}
}

// NewParameters 把任务中的参数转换为算法参数
func NewParameters(p domain.OptimizationParameters, costs domain.CostTable, budget domain.Budget) Parameters {
	return Parameters{
		PopulationSize:   p.PopulationSize,
		MaxGenerations:   p.MaxGenerations,
		ParentCount:      p.ParentCount,
		EliteCount:       p.EliteCount,
		ScrambleRate:     p.ScrambleRate,
		GaussianRate:     p.GaussianRate,
		MaxAttempts:      p.MaxAttempts,
		StallGenerations: p.StallGenerations,
		Seed:             p.Seed,
		CostTable:        costs,
		Budget:           budget,
	}
}

func (p *Parameters) Validate() error {
	if p.PopulationSize < 2 {
		return fmt.Errorf("种群大小必须至少为 2（当前为 %d）", p.PopulationSize)
	}
	if p.MaxGenerations < 1 {
		return fmt.Errorf("最大迭代次数必须至少为 1（当前为 %d）", p.MaxGenerations)
	}
	if p.ParentCount < 1 {
		return fmt.Errorf("父本数量必须至少为 1（当前为 %d）", p.ParentCount)
	}
	if p.EliteCount < 0 || p.EliteCount >= p.PopulationSize {
		return fmt.Errorf("精英数量必须在 [0, 种群大小) 之间（当前为 %d）", p.EliteCount)
	}
	if p.ScrambleRate < 0 || p.ScrambleRate > 1 {
		return fmt.Errorf("乱序变异概率必须在 [0, 1] 之间（当前为 %f）", p.ScrambleRate)
	}
	if p.GaussianRate < 0 || p.GaussianRate > 1 {
		return fmt.Errorf("高斯变异概率必须在 [0, 1] 之间（当前为 %f）", p.GaussianRate)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("最大尝试次数必须至少为 1（当前为 %d）", p.MaxAttempts)
	}
	if p.StallGenerations < 0 {
		return fmt.Errorf("停滞代数不能为负数（当前为 %d）", p.StallGenerations)
	}
	if p.Budget.Min < 0 || p.Budget.Min > p.Budget.Max {
		return errors.New("预算下界必须非负并且不能大于上界")
	}
	for i, c := range p.CostTable {
		if c < 0 {
			return fmt.Errorf("广告位 %d 的单位成本不能为负数", i)
		}
	}
	return nil
}

type StopReason string

const (
	StopMaxGenerations StopReason = "max_generations"
	StopStalled        StopReason = "stalled"
	StopTimeLimit      StopReason = "time_limit"
	StopCancelled      StopReason = "cancelled"
)

type Result struct {
	Best        domain.Plan
	Generations int
	StopReason  StopReason
	History     []domain.GenerationStats
}
