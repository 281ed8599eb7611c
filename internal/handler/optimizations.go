package handler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/optimizer"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/progress"
)

type createOptimizationRequest struct {
	ClickModelID     int64    `json:"clickModelID" validate:"min=0"` // 为 0 时使用最新的模型
	PopulationSize   *int     `json:"populationSize" validate:"omitempty,min=2,max=10000"`
	MaxGenerations   *int     `json:"maxGenerations" validate:"omitempty,min=1,max=10000"`
	ParentCount      *int     `json:"parentCount" validate:"omitempty,min=1,max=10000"`
	EliteCount       *int     `json:"eliteCount" validate:"omitempty,min=0"`
	ScrambleRate     *float64 `json:"scrambleRate" validate:"omitempty,min=0,max=1"`
	GaussianRate     *float64 `json:"gaussianRate" validate:"omitempty,min=0,max=1"`
	StallGenerations *int     `json:"stallGenerations" validate:"omitempty,min=0"`
	TimeLimitSeconds *int     `json:"timeLimitSeconds" validate:"omitempty,min=1,max=3600"`
	Seed             *int64   `json:"seed"`
	NotifyEmail      string   `json:"notifyEmail" validate:"omitempty,email"`
}

// parameters 请求中没有给出的参数使用配置中的默认值
func (req *createOptimizationRequest) parameters(defaults domain.OptimizationParameters) domain.OptimizationParameters {
	p := defaults
	if req.PopulationSize != nil {
		p.PopulationSize = *req.PopulationSize
	}
	if req.MaxGenerations != nil {
		p.MaxGenerations = *req.MaxGenerations
	}
	if req.ParentCount != nil {
		p.ParentCount = *req.ParentCount
	}
	if req.EliteCount != nil {
		p.EliteCount = *req.EliteCount
	}
	if req.ScrambleRate != nil {
		p.ScrambleRate = *req.ScrambleRate
	}
	if req.GaussianRate != nil {
		p.GaussianRate = *req.GaussianRate
	}
	if req.StallGenerations != nil {
		p.StallGenerations = *req.StallGenerations
	}
	if req.TimeLimitSeconds != nil {
		p.TimeLimitSeconds = *req.TimeLimitSeconds
	}
	if req.Seed != nil {
		p.Seed = *req.Seed
	} else {
		p.Seed = time.Now().UnixNano()
	}
	return p
}

func (h *Handler) CreateOptimization(w http.ResponseWriter, r *http.Request) {
	var req createOptimizationRequest

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	parameters := req.parameters(h.config.Optimizer.Defaults())
	algoParameters := optimizer.NewParameters(parameters, h.config.Optimizer.Costs(), h.config.Optimizer.Budget())
	if err := algoParameters.Validate(); err != nil {
		h.badRequest(w, r, err)
		return
	}

	userID, err := h.currentUserID(r)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	// 确认模型存在
	var model *domain.ClickModel
	if req.ClickModelID == 0 {
		model, err = h.repository.GetLatestClickModel()
	} else {
		model, err = h.repository.GetClickModelByID(req.ClickModelID)
	}
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.errorResponse(w, r, "点击量模型不存在，请先上传历史数据拟合模型")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	run := &domain.OptimizationRun{
		ID:           uuid.NewString(),
		ClickModelID: model.ID,
		Status:       domain.RunStatusPending,
		Parameters:   parameters,
		NotifyEmail:  req.NotifyEmail,
		CreatedBy:    userID,
	}
	if err := h.repository.CreateOptimizationRun(run); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(h.config.RabbitMQ.PublishTimeout)*time.Second)
	defer cancel()

	if err := h.jobs.Publish(ctx, domain.OptimizationJob{RunID: run.ID}); err != nil {
		// 任务不会被执行，直接标记为失败
		run.ErrorMessage = "无法提交任务到消息队列"
		if failErr := h.repository.FailOptimizationRun(run); failErr != nil {
			h.logInternalServerError(r, failErr)
		}
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "优化任务已提交", run)
}

// FailUndeliverableJob 处理被队列退回的任务，还没有开始的任务会被标记为失败
func (h *Handler) FailUndeliverableJob(job domain.OptimizationJob) {
	run, err := h.repository.GetOptimizationRunByID(job.RunID)
	if err != nil {
		slog.Error("无法读取被退回的任务", "runID", job.RunID, "error", err)
		return
	}
	if run.Status != domain.RunStatusPending {
		return
	}

	run.ErrorMessage = "任务无法投递到消息队列"
	if err := h.repository.FailOptimizationRun(run); err != nil {
		slog.Error("无法标记被退回的任务", "runID", job.RunID, "error", err)
	}
}

func (h *Handler) GetAllOptimizations(w http.ResponseWriter, r *http.Request) {
	runs, err := h.repository.GetAllOptimizationRuns()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取优化任务成功", runs)
}

func (h *Handler) GetOptimization(w http.ResponseWriter, r *http.Request) {
	run := r.Context().Value(OptimizationRunCtx).(*domain.OptimizationRun)
	h.successResponse(w, r, "获取优化任务成功", run)
}

// GetOptimizationProgress 返回任务最新一代的统计信息
func (h *Handler) GetOptimizationProgress(w http.ResponseWriter, r *http.Request) {
	run := r.Context().Value(OptimizationRunCtx).(*domain.OptimizationRun)

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(h.config.Redis.OperationTimeout)*time.Second)
	defer cancel()

	stats, err := h.progressStore.Get(ctx, run.ID)
	if err != nil {
		switch {
		case errors.Is(err, progress.ErrNotFound):
			// 进度过期之后从任务记录中取
			if len(run.History) > 0 {
				h.successResponse(w, r, "获取任务进度成功", run.History[len(run.History)-1])
				return
			}
			h.successResponse(w, r, "任务尚未开始", nil)
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.successResponse(w, r, "获取任务进度成功", stats)
}
