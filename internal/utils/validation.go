package utils

import (
	"errors"
	"fmt"

	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
)

// 浮点误差容忍度
const epsilon = 1e-9

var ErrPlanOverBudget = errors.New("方案成本超出预算")

// ValidatePlanSlots 检查方案中每个广告位的取值是否合法，以及横幅是否重复
func ValidatePlanSlots(plan *domain.Plan) error {
	for i, slot := range plan.Slots {
		if slot.Banner < 0 || slot.Banner > domain.BannerCount {
			return fmt.Errorf("广告位 %d 的横幅编号 %d 不在 0 ~ %d 之间", i, slot.Banner, domain.BannerCount)
		}

		if !slot.IsActive() {
			// 不投放的广告位不能产生成本
			if slot.Duration != 0 {
				return fmt.Errorf("广告位 %d 不投放，但投放时长为 %.1f", i, slot.Duration)
			}
			continue
		}

		if slot.StartTime < 0 || slot.StartTime >= domain.HoursPerDay {
			return fmt.Errorf("广告位 %d 的开始时间 %.1f 不在 [0, 24) 之间", i, slot.StartTime)
		}
		if slot.Duration <= 0 {
			return fmt.Errorf("广告位 %d 正在投放，但投放时长为 %.1f", i, slot.Duration)
		}
		if slot.StartTime+slot.Duration > domain.HoursPerDay+epsilon {
			return fmt.Errorf("广告位 %d 的投放超过了第 24 小时", i)
		}
	}

	if plan.HasDuplicateBanners() {
		return errors.New("多个广告位使用了同一个横幅")
	}

	return nil
}

// ValidatePlan 检查交叉或变异之后的方案: 广告位合法并且成本不超过预算上界
func ValidatePlan(plan *domain.Plan, costs domain.CostTable, budget domain.Budget) error {
	if err := ValidatePlanSlots(plan); err != nil {
		return err
	}

	if cost := costs.Cost(plan); !budget.Affords(cost) {
		return fmt.Errorf("%w: %.1f > %.1f", ErrPlanOverBudget, cost, budget.Max)
	}

	return nil
}

// ValidateFreshPlan 检查新生成的方案，成本必须落在 [Min, Max] 之间
func ValidateFreshPlan(plan *domain.Plan, costs domain.CostTable, budget domain.Budget) error {
	if err := ValidatePlan(plan, costs, budget); err != nil {
		return err
	}

	if cost := costs.Cost(plan); cost < budget.Min {
		return fmt.Errorf("方案成本 %.1f 低于预算下界 %.1f", cost, budget.Min)
	}

	return nil
}
