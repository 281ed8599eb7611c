package repository

import (
	"encoding/json"

	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
)

const optimizationRunColumns = `
	id, click_model_id, status, parameters, notify_email, best_plan, generations,
	stop_reason, history, error_message, created_by, created_at, started_at, finished_at, version
`

func scanOptimizationRun(row rowScanner) (*domain.OptimizationRun, error) {
	run := &domain.OptimizationRun{}
	var parameters, bestPlan, history []byte

	dst := []any{
		&run.ID,
		&run.ClickModelID,
		&run.Status,
		&parameters,
		&run.NotifyEmail,
		&bestPlan,
		&run.Generations,
		&run.StopReason,
		&history,
		&run.ErrorMessage,
		&run.CreatedBy,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Version,
	}
	if err := row.Scan(dst...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(parameters, &run.Parameters); err != nil {
		return nil, err
	}
	// 未完成的任务没有最优方案
	if bestPlan != nil {
		run.BestPlan = &domain.Plan{}
		if err := json.Unmarshal(bestPlan, run.BestPlan); err != nil {
			return nil, err
		}
	}
	if history != nil {
		if err := json.Unmarshal(history, &run.History); err != nil {
			return nil, err
		}
	}

	return run, nil
}

func (r *Repository) CreateOptimizationRun(run *domain.OptimizationRun) error {
	parameters, err := json.Marshal(run.Parameters)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO optimization_runs (id, click_model_id, status, parameters, notify_email, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, version
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	args := []any{run.ID, run.ClickModelID, run.Status, parameters, run.NotifyEmail, run.CreatedBy}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&run.CreatedAt, &run.Version); err != nil {
		return err
	}

	return nil
}

func (r *Repository) GetOptimizationRunByID(id string) (*domain.OptimizationRun, error) {
	query := `SELECT ` + optimizationRunColumns + ` FROM optimization_runs WHERE id = $1`

	ctx, cancel := r.queryContext()
	defer cancel()

	return scanOptimizationRun(r.dbpool.QueryRowContext(ctx, query, id))
}

func (r *Repository) GetAllOptimizationRuns() ([]*domain.OptimizationRun, error) {
	query := `SELECT ` + optimizationRunColumns + ` FROM optimization_runs ORDER BY created_at DESC`

	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []*domain.OptimizationRun{}
	for rows.Next() {
		run, err := scanOptimizationRun(rows)
		if err != nil {
			return nil, err
		}
		// 列表中不返回每一代的统计信息
		run.History = nil
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// MarkOptimizationRunRunning 只有处于 pending 状态的任务才能开始运行
// 任务已经被其他 worker 领取时返回 sql.ErrNoRows
func (r *Repository) MarkOptimizationRunRunning(run *domain.OptimizationRun) error {
	query := `
		UPDATE optimization_runs
		SET
			status = $1,
			started_at = NOW(),
			version = version + 1
		WHERE id = $2 AND status = $3
		RETURNING started_at, version
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	args := []any{domain.RunStatusRunning, run.ID, domain.RunStatusPending}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&run.StartedAt, &run.Version); err != nil {
		return err
	}

	run.Status = domain.RunStatusRunning
	return nil
}

func (r *Repository) CompleteOptimizationRun(run *domain.OptimizationRun) error {
	bestPlan, err := json.Marshal(run.BestPlan)
	if err != nil {
		return err
	}
	history, err := json.Marshal(run.History)
	if err != nil {
		return err
	}

	query := `
		UPDATE optimization_runs
		SET
			status = $1,
			best_plan = $2,
			generations = $3,
			stop_reason = $4,
			history = $5,
			finished_at = NOW(),
			version = version + 1
		WHERE id = $6 AND version = $7
		RETURNING finished_at, version
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	args := []any{domain.RunStatusSucceeded, bestPlan, run.Generations, run.StopReason, history, run.ID, run.Version}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&run.FinishedAt, &run.Version); err != nil {
		return err
	}

	run.Status = domain.RunStatusSucceeded
	return nil
}

func (r *Repository) FailOptimizationRun(run *domain.OptimizationRun) error {
	query := `
		UPDATE optimization_runs
		SET
			status = $1,
			error_message = $2,
			generations = $3,
			finished_at = NOW(),
			version = version + 1
		WHERE id = $4
		RETURNING finished_at, version
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	args := []any{domain.RunStatusFailed, run.ErrorMessage, run.Generations, run.ID}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&run.FinishedAt, &run.Version); err != nil {
		return err
	}

	run.Status = domain.RunStatusFailed
	return nil
}

// ReleaseOptimizationRun 把中断的任务恢复为 pending，重新投递后可以再次领取
// 任务已经不处于 running 状态时返回 sql.ErrNoRows
func (r *Repository) ReleaseOptimizationRun(run *domain.OptimizationRun) error {
	query := `
		UPDATE optimization_runs
		SET
			status = $1,
			started_at = NULL,
			version = version + 1
		WHERE id = $2 AND status = $3
		RETURNING version
	`

	ctx, cancel := r.queryContext()
	defer cancel()

	args := []any{domain.RunStatusPending, run.ID, domain.RunStatusRunning}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&run.Version); err != nil {
		return err
	}

	run.Status = domain.RunStatusPending
	run.StartedAt = nil
	return nil
}
