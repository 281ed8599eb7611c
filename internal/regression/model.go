package regression

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
)

var ErrSchemaMismatch = errors.New("特征与模型的列定义不匹配")

// Model 已经拟合好的线性点击量模型
// 创建之后不可修改，可以被多个优化任务同时使用
type Model struct {
	features     []string
	columns      []int // features[i] 在编码行中的下标
	coefficients []float64
	intercept    float64
}

func NewModel(features []string, coefficients []float64, intercept float64) (*Model, error) {
	if len(features) != len(coefficients) {
		return nil, fmt.Errorf("%w: %d 个特征，但有 %d 个系数", ErrSchemaMismatch, len(features), len(coefficients))
	}

	columns, err := resolveColumns(features)
	if err != nil {
		return nil, err
	}

	return &Model{
		features:     slices.Clone(features),
		columns:      columns,
		coefficients: slices.Clone(coefficients),
		intercept:    intercept,
	}, nil
}

// FromClickModel 从持久化的模型记录中还原
func FromClickModel(cm *domain.ClickModel) (*Model, error) {
	return NewModel(cm.Features, cm.Coefficients, cm.Intercept)
}

func resolveColumns(features []string) ([]int, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("%w: 模型没有任何特征", ErrSchemaMismatch)
	}

	columns := make([]int, len(features))
	seen := make(map[string]bool, len(features))
	for i, name := range features {
		if seen[name] {
			return nil, fmt.Errorf("%w: 特征 %s 重复", ErrSchemaMismatch, name)
		}
		seen[name] = true

		idx := slices.Index(Schema, name)
		if idx < 0 {
			return nil, fmt.Errorf("%w: 未知特征 %s", ErrSchemaMismatch, name)
		}
		columns[i] = idx
	}
	return columns, nil
}

func (m *Model) Features() []string {
	return slices.Clone(m.features)
}

func (m *Model) Coefficients() []float64 {
	return slices.Clone(m.coefficients)
}

func (m *Model) Intercept() float64 {
	return m.intercept
}

// Predict 预测每个方案的点击量
func (m *Model) Predict(plans []domain.Plan) ([]float64, error) {
	return m.PredictRows(EncodePlans(plans))
}

// PredictRows 对已经编码好的特征行进行预测，每一行的宽度必须是 EncodedWidth
func (m *Model) PredictRows(rows [][]float64) ([]float64, error) {
	predictions := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != EncodedWidth {
			return nil, fmt.Errorf("%w: 第 %d 行有 %d 列，应为 %d 列", ErrSchemaMismatch, i, len(row), EncodedWidth)
		}

		y := m.intercept
		for j, col := range m.columns {
			y += m.coefficients[j] * row[col]
		}
		predictions[i] = y
	}
	return predictions, nil
}

// ToClickModel 转换为可以持久化的模型记录
func (m *Model) ToClickModel(name string) *domain.ClickModel {
	return &domain.ClickModel{
		Name:         name,
		Features:     m.Features(),
		Coefficients: m.Coefficients(),
		Intercept:    m.intercept,
	}
}
