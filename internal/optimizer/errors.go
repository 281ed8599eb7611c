package optimizer

import (
	"errors"
	"fmt"
)

type Operation string

const (
	OpGeneratePopulation Operation = "generate_population"
	OpCrossover          Operation = "crossover"
	OpMutateScramble     Operation = "mutate_scramble"
	OpMutateGaussian     Operation = "mutate_gaussian"
)

// InfeasiblePlanError 修复循环在限定次数内没有得到满足约束的方案
type InfeasiblePlanError struct {
	Op       Operation
	Index    int // 出错的方案在本次调用中的下标
	Attempts int
}

func (e *InfeasiblePlanError) Error() string {
	return fmt.Sprintf("%s: 第 %d 个方案在 %d 次尝试内无法满足约束", e.Op, e.Index, e.Attempts)
}

var (
	ErrInvalidFitnessDistribution = errors.New("适应度分布不合法，预测点击量必须非负并且总和大于 0")
	ErrEmptyPopulation            = errors.New("种群为空")
	ErrNegativeCount              = errors.New("方案数量不能为负数")
)
