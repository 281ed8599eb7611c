package handler

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/regression"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/utils"
)

type slotRequest struct {
	Banner    int     `json:"banner" validate:"min=0,max=6"`
	StartTime float64 `json:"startTime" validate:"min=0,max=24"`
	Duration  float64 `json:"duration" validate:"min=0,max=24"`
}

func toPlan(slots []slotRequest) *domain.Plan {
	plan := &domain.Plan{}
	for i, s := range slots {
		plan.Slots[i] = domain.Slot{Banner: s.Banner, StartTime: s.StartTime, Duration: s.Duration}
	}
	return plan
}

type planCostResponse struct {
	Cost         float64       `json:"cost"`
	WithinBudget bool          `json:"withinBudget"` // Min <= cost <= Max
	Affordable   bool          `json:"affordable"`   // cost <= Max
	Budget       domain.Budget `json:"budget"`
}

func (h *Handler) CalculatePlanCost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slots []slotRequest `json:"slots" validate:"required,len=5,dive"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	plan := toPlan(req.Slots)
	if err := utils.ValidatePlanSlots(plan); err != nil {
		h.badRequest(w, r, err)
		return
	}

	budget := h.config.Optimizer.Budget()
	cost := h.config.Optimizer.Costs().Cost(plan)
	h.successResponse(w, r, "计算成本成功", planCostResponse{
		Cost:         cost,
		WithinBudget: budget.Contains(cost),
		Affordable:   budget.Affords(cost),
		Budget:       budget,
	})
}

func (h *Handler) PredictPlanClicks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClickModelID int64         `json:"clickModelID" validate:"min=0"` // 为 0 时使用最新的模型
		Slots        []slotRequest `json:"slots" validate:"required,len=5,dive"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	plan := toPlan(req.Slots)
	if err := utils.ValidatePlanSlots(plan); err != nil {
		h.badRequest(w, r, err)
		return
	}

	var (
		record *domain.ClickModel
		err    error
	)
	if req.ClickModelID == 0 {
		record, err = h.repository.GetLatestClickModel()
	} else {
		record, err = h.repository.GetClickModelByID(req.ClickModelID)
	}
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.errorResponse(w, r, "点击量模型不存在")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	model, err := regression.FromClickModel(record)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	clicks, err := model.Predict([]domain.Plan{*plan})
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	plan.Cost = h.config.Optimizer.Costs().Cost(plan)
	plan.PredictedClicks = clicks[0]

	h.successResponse(w, r, "预测点击量成功", map[string]any{
		"clickModelID": record.ID,
		"plan":         plan,
	})
}
