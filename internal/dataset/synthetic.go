package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/regression"
	"github.com/xuri/excelize/v2"
)

// PlanSource 产生随机方案，一般是 optimizer.RandomPlan
type PlanSource func() domain.Plan

type Predictor interface {
	Predict(plans []domain.Plan) ([]float64, error)
}

// Generate 生成 n 条模拟的历史投放数据
// 点击量 = truth 的预测值 + 标准差为 noise 的高斯噪声，取整并且不小于 0
func Generate(n int, source PlanSource, truth Predictor, noise float64, rng *rand.Rand) ([]domain.Observation, error) {
	plans := make([]domain.Plan, n)
	for i := range plans {
		plans[i] = source()
	}

	clicks, err := truth.Predict(plans)
	if err != nil {
		return nil, err
	}

	observations := make([]domain.Observation, n)
	for i, plan := range plans {
		c := clicks[i] + rng.NormFloat64()*noise
		observations[i] = domain.Observation{
			Slots:  plan.Slots,
			Clicks: math.Max(0, math.Round(c)),
		}
	}

	return observations, nil
}

// DemoClickModel 用于生成模拟数据的“真实”点击量模型
func DemoClickModel() *regression.Model {
	bannerEffect := []float64{14, 9, 6, 11, 3} // 横幅 1 ~ 5 相对于横幅 6 的效果
	slotWeight := []float64{1.4, 1.1, 0.9, 0.8, 1.2}

	features := make([]string, 0, len(regression.DefaultFeatures))
	coefficients := make([]float64, 0, len(regression.DefaultFeatures))
	for s := 0; s < domain.SlotCount; s++ {
		for b := 1; b < domain.BannerCount; b++ {
			features = append(features, regression.BannerFeature(s, b))
			coefficients = append(coefficients, bannerEffect[b-1]*slotWeight[s])
		}
	}
	for s := 0; s < domain.SlotCount; s++ {
		features = append(features, regression.StartTimeFeature(s))
		coefficients = append(coefficients, -0.4*slotWeight[s])
	}
	for s := 0; s < domain.SlotCount; s++ {
		features = append(features, regression.TimeSpentFeature(s))
		coefficients = append(coefficients, 2.5*slotWeight[s])
	}

	model, err := regression.NewModel(features, coefficients, 40)
	if err != nil {
		// 特征名都来自 regression 包，不可能出错
		panic(err)
	}
	return model
}

func header() []string {
	h := make([]string, 0, 3*domain.SlotCount+1)
	for s := 0; s < domain.SlotCount; s++ {
		suffix := ""
		if s > 0 {
			suffix = "." + strconv.Itoa(s)
		}
		h = append(h, ColumnAd+suffix, ColumnStartTime+suffix, ColumnEndTime+suffix)
	}
	return append(h, ColumnClicks)
}

func record(o domain.Observation) []string {
	r := make([]string, 0, 3*domain.SlotCount+1)
	for _, slot := range o.Slots {
		start := decimal.NewFromFloat(slot.StartTime)
		end := start.Add(decimal.NewFromFloat(slot.Duration))
		r = append(r, strconv.Itoa(slot.Banner), start.String(), end.String())
	}
	return append(r, strconv.FormatFloat(o.Clicks, 'f', -1, 64))
}

func WriteCSV(w io.Writer, observations []domain.Observation) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header()); err != nil {
		return err
	}
	for _, o := range observations {
		if err := writer.Write(record(o)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func WriteXLSX(path string, observations []domain.Observation) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"

	h := header()
	if err := f.SetSheetRow(sheet, "A1", &h); err != nil {
		return err
	}

	for i, o := range observations {
		cellName, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		r := record(o)
		if err := f.SetSheetRow(sheet, cellName, &r); err != nil {
			return fmt.Errorf("写入第 %d 行失败: %w", i+2, err)
		}
	}

	return f.SaveAs(path)
}
