package domain

import "slices"

const (
	SlotCount   = 5  // 广告位数量 (ad0 ~ ad4)
	BannerCount = 6  // 可选横幅数量，编号 1 ~ 6
	HoursPerDay = 24 // 投放时间不能超过第 24 小时
)

// Slot 表示某个广告位上的投放决策
// Banner 为 0 表示该广告位不投放，此时 StartTime 和 Duration 没有意义
type Slot struct {
	Banner    int     `json:"banner"`
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
}

func (s Slot) IsActive() bool {
	return s.Banner != 0
}

// Plan: 一个完整的营销方案
// Slots 是数组而不是切片，复制方案时不会与其他方案共享底层数据
type Plan struct {
	Slots           [SlotCount]Slot `json:"slots"`
	Cost            float64         `json:"cost"`
	PredictedClicks float64         `json:"predictedClicks"`
}

// ActiveBanners 返回所有投放中的广告位所使用的横幅（按广告位顺序）
func (p *Plan) ActiveBanners() []int {
	banners := make([]int, 0, SlotCount)
	for _, slot := range p.Slots {
		if slot.IsActive() {
			banners = append(banners, slot.Banner)
		}
	}
	return banners
}

// HasDuplicateBanners 检查是否有两个投放中的广告位使用了同一个横幅
func (p *Plan) HasDuplicateBanners() bool {
	seen := make(map[int]bool, SlotCount)
	for _, banner := range p.ActiveBanners() {
		if seen[banner] {
			return true
		}
		seen[banner] = true
	}
	return false
}

// UsesBannerElsewhere 检查除了 slot 之外的广告位是否正在使用 banner
func (p *Plan) UsesBannerElsewhere(slot int, banner int) bool {
	for i, s := range p.Slots {
		if i != slot && s.IsActive() && s.Banner == banner {
			return true
		}
	}
	return false
}

// ActiveSlotCount 返回投放中的广告位数量
func (p *Plan) ActiveSlotCount() int {
	return len(p.ActiveBanners())
}

// SameSlots 比较两个方案的投放决策是否完全一致（不比较成本和预测点击量）
func (p *Plan) SameSlots(other *Plan) bool {
	return slices.Equal(p.Slots[:], other.Slots[:])
}

// Schedule 设置广告位的投放时间
// 时长为 0 的广告位会被强制设为不投放
func (s *Slot) Schedule(start, duration float64) {
	s.StartTime = start
	s.Duration = duration
	if duration == 0 {
		s.Banner = 0
		s.StartTime = 0
	}
}
