package regression

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrNotEnoughObservations = errors.New("样本数量不足以拟合模型")
	ErrSingularDesign        = errors.New("设计矩阵奇异，无法拟合（是否有某个横幅从未出现过？）")
)

type FitResult struct {
	Model        *Model
	RSquared     float64
	Observations int
}

// Fit 使用普通最小二乘法（带截距）拟合点击量模型
func Fit(observations []domain.Observation, features []string) (*FitResult, error) {
	columns, err := resolveColumns(features)
	if err != nil {
		return nil, err
	}

	n := len(observations)
	k := len(columns) + 1 // 第 0 列为截距
	if n < k {
		return nil, fmt.Errorf("%w: %d 条样本，%d 个参数", ErrNotEnoughObservations, n, k)
	}

	x := mat.NewDense(n, k, nil)
	y := mat.NewVecDense(n, nil)
	values := make([]float64, n)
	for i, o := range observations {
		row := EncodeSlots(o.Slots)
		x.Set(i, 0, 1)
		for j, col := range columns {
			x.Set(i, j+1, row[col])
		}
		y.SetVec(i, o.Clicks)
		values[i] = o.Clicks
	}

	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("最小二乘求解失败: %w", err)
		}
		if math.IsInf(float64(cond), 1) {
			return nil, fmt.Errorf("%w: %v", ErrSingularDesign, err)
		}
		slog.Warn("设计矩阵接近奇异，拟合结果可能不稳定", "condition", float64(cond))
	}

	coefficients := make([]float64, len(columns))
	for j := range coefficients {
		coefficients[j] = beta.AtVec(j + 1)
	}

	model, err := NewModel(features, coefficients, beta.AtVec(0))
	if err != nil {
		return nil, err
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	estimates := make([]float64, n)
	for i := range estimates {
		estimates[i] = fitted.AtVec(i)
	}

	return &FitResult{
		Model:        model,
		RSquared:     stat.RSquaredFrom(estimates, values, nil),
		Observations: n,
	}, nil
}
