package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/optimizer"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/regression"
)

// ErrDiscard 消息不应该重新入队
var ErrDiscard = errors.New("丢弃任务")

type Repository interface {
	GetOptimizationRunByID(id string) (*domain.OptimizationRun, error)
	GetClickModelByID(id int64) (*domain.ClickModel, error)
	MarkOptimizationRunRunning(run *domain.OptimizationRun) error
	CompleteOptimizationRun(run *domain.OptimizationRun) error
	FailOptimizationRun(run *domain.OptimizationRun) error
	ReleaseOptimizationRun(run *domain.OptimizationRun) error
}

type ProgressStore interface {
	Set(ctx context.Context, runID string, stats domain.GenerationStats) error
}

type Notifier interface {
	Send(ctx context.Context, msg domain.MailMessage) error
}

type Runner struct {
	repository      Repository
	progress        ProgressStore
	notifier        Notifier // 为 nil 时不发送通知
	costs           domain.CostTable
	budget          domain.Budget
	progressTimeout time.Duration
}

func NewRunner(repo Repository, progress ProgressStore, notifier Notifier, costs domain.CostTable, budget domain.Budget) *Runner {
	return &Runner{
		repository:      repo,
		progress:        progress,
		notifier:        notifier,
		costs:           costs,
		budget:          budget,
		progressTimeout: 2 * time.Second,
	}
}

// Process 执行一个优化任务
// 返回的错误包含 ErrDiscard 时消息不需要重新入队，其他错误（例如数据库暂时不可用）可以重试
// 算法本身的失败会记录到任务中，不会作为错误返回
// ctx 被取消时任务恢复为 pending，返回的错误可以重新入队
func (r *Runner) Process(ctx context.Context, job domain.OptimizationJob) error {
	run, err := r.repository.GetOptimizationRunByID(job.RunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: 任务 %s 不存在", ErrDiscard, job.RunID)
		}
		return err
	}

	// 重复投递的消息
	if run.Status != domain.RunStatusPending {
		slog.Warn("任务已经被处理过", "runID", run.ID, "status", run.Status)
		return nil
	}
	if err := r.repository.MarkOptimizationRunRunning(run); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.Warn("任务已经被其他 worker 领取", "runID", run.ID)
			return nil
		}
		return err
	}

	slog.Info("开始执行优化任务", "runID", run.ID, "clickModelID", run.ClickModelID)
	metrics.RunStarted()
	start := time.Now()

	result, runErr := r.execute(ctx, run)
	elapsed := time.Since(start)

	if errors.Is(runErr, context.Canceled) {
		metrics.RunInterrupted(elapsed)
		slog.Warn("优化任务被中断", "runID", run.ID, "duration", elapsed)

		if err := r.repository.ReleaseOptimizationRun(run); err != nil {
			return fmt.Errorf("无法恢复被中断的任务 %s: %w", run.ID, err)
		}
		return fmt.Errorf("任务 %s 被中断: %w", run.ID, runErr)
	}

	if runErr != nil {
		metrics.RunFailed(runErr, elapsed)
		slog.Error("优化任务失败", "runID", run.ID, "duration", elapsed, "error", runErr)

		run.ErrorMessage = runErr.Error()
		if result != nil {
			run.Generations = result.Generations
		}
		if err := r.repository.FailOptimizationRun(run); err != nil {
			return fmt.Errorf("%w: 无法保存任务状态: %v", ErrDiscard, err)
		}
	} else {
		metrics.RunSucceeded(result, elapsed)
		slog.Info("优化任务完成", "runID", run.ID, "duration", elapsed, "generations", result.Generations,
			"stopReason", result.StopReason, "predictedClicks", result.Best.PredictedClicks)

		best := result.Best
		run.BestPlan = &best
		run.Generations = result.Generations
		run.StopReason = string(result.StopReason)
		run.History = result.History
		if err := r.repository.CompleteOptimizationRun(run); err != nil {
			return fmt.Errorf("%w: 无法保存任务结果: %v", ErrDiscard, err)
		}
	}

	// worker 退出时也要把通知发出去
	r.notify(context.WithoutCancel(ctx), run)
	return nil
}

func (r *Runner) execute(ctx context.Context, run *domain.OptimizationRun) (*optimizer.Result, error) {
	record, err := r.repository.GetClickModelByID(run.ClickModelID)
	if err != nil {
		return nil, fmt.Errorf("无法读取点击量模型 %d: %w", run.ClickModelID, err)
	}

	model, err := regression.FromClickModel(record)
	if err != nil {
		return nil, err
	}

	o, err := optimizer.New(optimizer.NewParameters(run.Parameters, r.costs, r.budget), model)
	if err != nil {
		return nil, err
	}

	if run.Parameters.TimeLimitSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(run.Parameters.TimeLimitSeconds)*time.Second)
		defer cancel()
	}

	return o.Optimize(ctx, func(stats domain.GenerationStats) {
		r.reportProgress(run.ID, stats)
	})
}

func (r *Runner) reportProgress(runID string, stats domain.GenerationStats) {
	if r.progress == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.progressTimeout)
	defer cancel()

	// 进度只是用于展示，写入失败不影响任务
	if err := r.progress.Set(ctx, runID, stats); err != nil {
		slog.Warn("无法保存任务进度", "runID", runID, "generation", stats.Generation, "error", err)
	}
}

func (r *Runner) notify(ctx context.Context, run *domain.OptimizationRun) {
	if r.notifier == nil || run.NotifyEmail == "" {
		return
	}

	data := RunFinishedData(run)
	msg := domain.MailMessage{Type: MailTypeRunFinished, To: run.NotifyEmail, Data: data}
	if err := r.notifier.Send(ctx, msg); err != nil {
		slog.Error("无法发送任务完成通知", "runID", run.ID, "to", run.NotifyEmail, "error", err)
	}
}

func RunFinishedData(run *domain.OptimizationRun) domain.RunFinishedMailData {
	data := domain.RunFinishedMailData{
		RunID:        run.ID,
		Status:       run.Status,
		Generations:  run.Generations,
		StopReason:   run.StopReason,
		ErrorMessage: run.ErrorMessage,
	}
	if run.BestPlan != nil {
		data.PredictedClicks = run.BestPlan.PredictedClicks
		data.Cost = run.BestPlan.Cost
	}
	return data
}
