package handler

import (
	"context"
	"database/sql"
	"sync"

	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/progress"
)

type fakeRepository struct {
	mu     sync.Mutex
	users  map[int64]*domain.User
	models []*domain.ClickModel
	runs   map[string]*domain.OptimizationRun
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		users: map[int64]*domain.User{},
		runs:  map[string]*domain.OptimizationRun{},
	}
}

func (f *fakeRepository) Ping() error { return nil }

func (f *fakeRepository) GetUserByID(id int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeRepository) GetUserByUsername(username string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, user := range f.users {
		if user.Username == username {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeRepository) InsertClickModel(model *domain.ClickModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	model.ID = int64(len(f.models) + 1)
	f.models = append(f.models, model)
	return nil
}

func (f *fakeRepository) GetClickModelByID(id int64) (*domain.ClickModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, model := range f.models {
		if model.ID == id {
			return model, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeRepository) GetLatestClickModel() (*domain.ClickModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.models) == 0 {
		return nil, sql.ErrNoRows
	}
	return f.models[len(f.models)-1], nil
}

func (f *fakeRepository) GetAllClickModels() ([]*domain.ClickModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*domain.ClickModel{}, f.models...), nil
}

func (f *fakeRepository) CreateOptimizationRun(run *domain.OptimizationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := *run
	f.runs[run.ID] = &clone
	return nil
}

func (f *fakeRepository) GetOptimizationRunByID(id string) (*domain.OptimizationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	run, ok := f.runs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *run
	return &clone, nil
}

func (f *fakeRepository) GetAllOptimizationRuns() ([]*domain.OptimizationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	runs := make([]*domain.OptimizationRun, 0, len(f.runs))
	for _, run := range f.runs {
		clone := *run
		runs = append(runs, &clone)
	}
	return runs, nil
}

func (f *fakeRepository) FailOptimizationRun(run *domain.OptimizationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	run.Status = domain.RunStatusFailed
	clone := *run
	f.runs[run.ID] = &clone
	return nil
}

type fakeProgress struct {
	stats map[string]domain.GenerationStats
}

func (f *fakeProgress) Get(_ context.Context, runID string) (*domain.GenerationStats, error) {
	stats, ok := f.stats[runID]
	if !ok {
		return nil, progress.ErrNotFound
	}
	return &stats, nil
}

type fakePublisher struct {
	jobs []domain.OptimizationJob
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, job domain.OptimizationJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}
