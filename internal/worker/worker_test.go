package worker

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/regression"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/utils"
)

type fakeRepository struct {
	runs        map[string]*domain.OptimizationRun
	models      map[int64]*domain.ClickModel
	markErr     error
	completeErr error
}

func (f *fakeRepository) GetOptimizationRunByID(id string) (*domain.OptimizationRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *run
	return &clone, nil
}

func (f *fakeRepository) GetClickModelByID(id int64) (*domain.ClickModel, error) {
	model, ok := f.models[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return model, nil
}

func (f *fakeRepository) MarkOptimizationRunRunning(run *domain.OptimizationRun) error {
	if f.markErr != nil {
		return f.markErr
	}
	now := time.Now()
	run.Status = domain.RunStatusRunning
	run.StartedAt = &now
	f.save(run)
	return nil
}

func (f *fakeRepository) CompleteOptimizationRun(run *domain.OptimizationRun) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	run.Status = domain.RunStatusSucceeded
	f.save(run)
	return nil
}

func (f *fakeRepository) FailOptimizationRun(run *domain.OptimizationRun) error {
	run.Status = domain.RunStatusFailed
	f.save(run)
	return nil
}

func (f *fakeRepository) ReleaseOptimizationRun(run *domain.OptimizationRun) error {
	run.Status = domain.RunStatusPending
	run.StartedAt = nil
	f.save(run)
	return nil
}

func (f *fakeRepository) save(run *domain.OptimizationRun) {
	clone := *run
	f.runs[run.ID] = &clone
}

type fakeProgress struct {
	mu    sync.Mutex
	stats []domain.GenerationStats
	err   error
}

func (f *fakeProgress) Set(_ context.Context, _ string, stats domain.GenerationStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, stats)
	return f.err
}

type fakeNotifier struct {
	sent    []domain.MailMessage
	ctxErrs []error
}

func (f *fakeNotifier) Send(ctx context.Context, msg domain.MailMessage) error {
	f.sent = append(f.sent, msg)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return nil
}

func testClickModel(t *testing.T) *domain.ClickModel {
	t.Helper()

	features := make([]string, 0, domain.SlotCount)
	coefficients := make([]float64, 0, domain.SlotCount)
	for s := 0; s < domain.SlotCount; s++ {
		features = append(features, regression.TimeSpentFeature(s))
		coefficients = append(coefficients, float64(s+1))
	}

	model, err := regression.NewModel(features, coefficients, 10)
	require.NoError(t, err)

	record := model.ToClickModel("test")
	record.ID = 1
	return record
}

func testParameters() domain.OptimizationParameters {
	return domain.OptimizationParameters{
		PopulationSize: 20,
		MaxGenerations: 5,
		ParentCount:    10,
		EliteCount:     1,
		ScrambleRate:   0.1,
		GaussianRate:   0.2,
		MaxAttempts:    1000,
		Seed:           3,
	}
}

func newTestRunner(t *testing.T, run *domain.OptimizationRun) (*Runner, *fakeRepository, *fakeProgress, *fakeNotifier) {
	t.Helper()

	repo := &fakeRepository{
		runs:   map[string]*domain.OptimizationRun{},
		models: map[int64]*domain.ClickModel{1: testClickModel(t)},
	}
	if run != nil {
		repo.runs[run.ID] = run
	}
	progress := &fakeProgress{}
	notifier := &fakeNotifier{}

	return NewRunner(repo, progress, notifier, domain.DefaultCostTable, domain.DefaultBudget), repo, progress, notifier
}

func TestProcessSucceeds(t *testing.T) {
	run := &domain.OptimizationRun{
		ID:           "run-1",
		ClickModelID: 1,
		Status:       domain.RunStatusPending,
		Parameters:   testParameters(),
		NotifyEmail:  "analyst@example.com",
	}
	runner, repo, progress, notifier := newTestRunner(t, run)

	require.NoError(t, runner.Process(context.Background(), domain.OptimizationJob{RunID: "run-1"}))

	saved := repo.runs["run-1"]
	assert.Equal(t, domain.RunStatusSucceeded, saved.Status)
	assert.Equal(t, 5, saved.Generations)
	assert.Equal(t, "max_generations", saved.StopReason)
	assert.Len(t, saved.History, 6)
	assert.NotNil(t, saved.StartedAt)
	require.NotNil(t, saved.BestPlan)
	assert.NoError(t, utils.ValidatePlan(saved.BestPlan, domain.DefaultCostTable, domain.DefaultBudget))

	assert.Len(t, progress.stats, 6)
	assert.Equal(t, saved.History, progress.stats)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, MailTypeRunFinished, notifier.sent[0].Type)
	assert.Equal(t, "analyst@example.com", notifier.sent[0].To)
	data := notifier.sent[0].Data.(domain.RunFinishedMailData)
	assert.Equal(t, domain.RunStatusSucceeded, data.Status)
	assert.Equal(t, saved.BestPlan.PredictedClicks, data.PredictedClicks)
}

func TestProcessUnknownRunIsDiscarded(t *testing.T) {
	runner, _, _, _ := newTestRunner(t, nil)

	err := runner.Process(context.Background(), domain.OptimizationJob{RunID: "missing"})
	assert.ErrorIs(t, err, ErrDiscard)
}

func TestProcessSkipsRunsAlreadyHandled(t *testing.T) {
	run := &domain.OptimizationRun{ID: "run-2", ClickModelID: 1, Status: domain.RunStatusSucceeded, Parameters: testParameters()}
	runner, repo, progress, notifier := newTestRunner(t, run)

	require.NoError(t, runner.Process(context.Background(), domain.OptimizationJob{RunID: "run-2"}))
	assert.Equal(t, domain.RunStatusSucceeded, repo.runs["run-2"].Status)
	assert.Empty(t, progress.stats)
	assert.Empty(t, notifier.sent)
}

func TestProcessSkipsRunsClaimedElsewhere(t *testing.T) {
	run := &domain.OptimizationRun{ID: "run-3", ClickModelID: 1, Status: domain.RunStatusPending, Parameters: testParameters()}
	runner, repo, _, _ := newTestRunner(t, run)
	repo.markErr = sql.ErrNoRows

	require.NoError(t, runner.Process(context.Background(), domain.OptimizationJob{RunID: "run-3"}))
	assert.Equal(t, domain.RunStatusPending, repo.runs["run-3"].Status)

	repo.markErr = errors.New("connection refused")
	err := runner.Process(context.Background(), domain.OptimizationJob{RunID: "run-3"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDiscard)
}

func TestProcessRecordsFailures(t *testing.T) {
	tests := []struct {
		name   string
		modify func(run *domain.OptimizationRun)
	}{
		{name: "missing click model", modify: func(run *domain.OptimizationRun) { run.ClickModelID = 99 }},
		{name: "invalid parameters", modify: func(run *domain.OptimizationRun) { run.Parameters.PopulationSize = 0 }},
		{name: "infeasible budget", modify: func(run *domain.OptimizationRun) { run.Parameters.MaxAttempts = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &domain.OptimizationRun{
				ID:           "run-fail",
				ClickModelID: 1,
				Status:       domain.RunStatusPending,
				Parameters:   testParameters(),
				NotifyEmail:  "analyst@example.com",
			}
			tt.modify(run)
			runner, repo, _, notifier := newTestRunner(t, run)

			require.NoError(t, runner.Process(context.Background(), domain.OptimizationJob{RunID: "run-fail"}))

			saved := repo.runs["run-fail"]
			assert.Equal(t, domain.RunStatusFailed, saved.Status)
			assert.NotEmpty(t, saved.ErrorMessage)
			assert.Nil(t, saved.BestPlan)

			require.Len(t, notifier.sent, 1)
			data := notifier.sent[0].Data.(domain.RunFinishedMailData)
			assert.Equal(t, domain.RunStatusFailed, data.Status)
			assert.Equal(t, saved.ErrorMessage, data.ErrorMessage)
		})
	}
}

func TestProcessPersistFailureIsDiscarded(t *testing.T) {
	run := &domain.OptimizationRun{ID: "run-4", ClickModelID: 1, Status: domain.RunStatusPending, Parameters: testParameters()}
	runner, repo, _, _ := newTestRunner(t, run)
	repo.completeErr = errors.New("connection reset")

	err := runner.Process(context.Background(), domain.OptimizationJob{RunID: "run-4"})
	assert.ErrorIs(t, err, ErrDiscard)
}

func TestProcessIgnoresProgressErrors(t *testing.T) {
	run := &domain.OptimizationRun{ID: "run-5", ClickModelID: 1, Status: domain.RunStatusPending, Parameters: testParameters()}
	runner, repo, progress, _ := newTestRunner(t, run)
	progress.err = errors.New("redis down")

	require.NoError(t, runner.Process(context.Background(), domain.OptimizationJob{RunID: "run-5"}))
	assert.Equal(t, domain.RunStatusSucceeded, repo.runs["run-5"].Status)
}

func TestRunFinishedTemplate(t *testing.T) {
	buf := &bytes.Buffer{}
	data := domain.RunFinishedMailData{
		RunID:           "run-6",
		Status:          domain.RunStatusSucceeded,
		Generations:     12,
		StopReason:      "stalled",
		PredictedClicks: 123.456,
		Cost:            280,
	}
	require.NoError(t, runFinishedTemplate.Execute(buf, data))

	body := buf.String()
	assert.Contains(t, body, "run-6")
	assert.Contains(t, body, "停止原因: stalled")
	assert.Contains(t, body, "123.46")
	assert.Contains(t, body, "280.0")

	buf.Reset()
	data.ErrorMessage = "boom"
	require.NoError(t, runFinishedTemplate.Execute(buf, data))
	assert.Contains(t, buf.String(), "错误信息: boom")
	assert.NotContains(t, buf.String(), "最优方案")
}

func TestProcessCancelledRunIsRequeued(t *testing.T) {
	run := &domain.OptimizationRun{
		ID:           "run-6",
		ClickModelID: 1,
		Status:       domain.RunStatusPending,
		Parameters:   testParameters(),
		NotifyEmail:  "analyst@example.com",
	}
	runner, repo, _, notifier := newTestRunner(t, run)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runner.Process(ctx, domain.OptimizationJob{RunID: "run-6"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrDiscard)

	saved := repo.runs["run-6"]
	assert.Equal(t, domain.RunStatusPending, saved.Status)
	assert.Nil(t, saved.StartedAt)
	assert.Empty(t, saved.ErrorMessage)
	assert.Empty(t, notifier.sent)

	// 重新投递后可以正常完成
	require.NoError(t, runner.Process(context.Background(), domain.OptimizationJob{RunID: "run-6"}))
	assert.Equal(t, domain.RunStatusSucceeded, repo.runs["run-6"].Status)
}

func TestProcessNotifiesAfterShutdown(t *testing.T) {
	run := &domain.OptimizationRun{
		ID:           "run-7",
		ClickModelID: 99,
		Status:       domain.RunStatusPending,
		Parameters:   testParameters(),
		NotifyEmail:  "analyst@example.com",
	}
	runner, repo, _, notifier := newTestRunner(t, run)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 模型不存在的失败与 ctx 无关，照常记录并通知
	require.NoError(t, runner.Process(ctx, domain.OptimizationJob{RunID: "run-7"}))
	assert.Equal(t, domain.RunStatusFailed, repo.runs["run-7"].Status)

	require.Len(t, notifier.sent, 1)
	assert.NoError(t, notifier.ctxErrs[0])
}
