package domain

// Observation: 历史投放数据中的一行
// Slots 中的 Duration 由结束时间减去开始时间得到
type Observation struct {
	Slots  [SlotCount]Slot `json:"slots"`
	Clicks float64         `json:"clicks"`
}
