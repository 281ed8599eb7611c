package domain

// CostTable 每个广告位每小时的投放成本
type CostTable [SlotCount]float64

var DefaultCostTable = CostTable{15, 10, 8, 8, 12}

// Cost 计算方案的总成本: Σ duration[s] * unitCost[s]
func (c CostTable) Cost(p *Plan) float64 {
	cost := 0.0
	for i, slot := range p.Slots {
		cost += slot.Duration * c[i]
	}
	return cost
}

// Budget 方案总成本的上下界
type Budget struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

var DefaultBudget = Budget{Min: 100, Max: 300}

// Contains 判断 cost 是否落在 [Min, Max] 之间，用于新生成的方案
func (b Budget) Contains(cost float64) bool {
	return cost >= b.Min && cost <= b.Max
}

// Affords 只检查上界，交叉和变异之后的方案只需要满足这个条件
func (b Budget) Affords(cost float64) bool {
	return cost <= b.Max
}
