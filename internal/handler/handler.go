package handler

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/config"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
)

type Repository interface {
	Ping() error

	GetUserByID(id int64) (*domain.User, error)
	GetUserByUsername(username string) (*domain.User, error)

	InsertClickModel(model *domain.ClickModel) error
	GetClickModelByID(id int64) (*domain.ClickModel, error)
	GetLatestClickModel() (*domain.ClickModel, error)
	GetAllClickModels() ([]*domain.ClickModel, error)

	CreateOptimizationRun(run *domain.OptimizationRun) error
	GetOptimizationRunByID(id string) (*domain.OptimizationRun, error)
	GetAllOptimizationRuns() ([]*domain.OptimizationRun, error)
	FailOptimizationRun(run *domain.OptimizationRun) error
}

type ProgressStore interface {
	Get(ctx context.Context, runID string) (*domain.GenerationStats, error)
}

type JobPublisher interface {
	Publish(ctx context.Context, job domain.OptimizationJob) error
}

type Handler struct {
	validate      *validator.Validate
	config        *config.Config
	repository    Repository
	translator    ut.Translator
	jobs          JobPublisher
	progressStore ProgressStore

	Mux *chi.Mux
}

func NewHandler(cfg *config.Config, repo Repository, jobs JobPublisher, progressStore ProgressStore) (*Handler, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	zh := zh.New()
	uni := ut.New(zh, zh)
	trans, _ := uni.GetTranslator("zh")
	if err := zh_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	return &Handler{
		validate:      validate,
		config:        cfg,
		repository:    repo,
		translator:    trans,
		jobs:          jobs,
		progressStore: progressStore,

		Mux: chi.NewRouter(),
	}, nil
}

func (h *Handler) RegisterRoutes() {
	h.Mux.Use(h.logger)
	h.Mux.Use(h.recoverer)

	h.Mux.Get("/healthz", h.Healthz)
	h.Mux.Handle("/metrics", promhttp.Handler())

	// 认证相关
	h.Mux.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
	})

	// 以下 API 必须要在登录后才允许调用
	h.Mux.Group(func(r chi.Router) {
		r.Use(h.auth)
		r.With(h.myInfo).Get("/my-info", h.GetMyInfo)

		r.Route("/plans", func(r chi.Router) {
			r.Post("/cost", h.CalculatePlanCost)
			r.Post("/predict", h.PredictPlanClicks)
		})

		r.Route("/click-models", func(r chi.Router) {
			r.Get("/", h.GetAllClickModels)
			r.Get("/latest", h.GetLatestClickModel)
			r.With(h.RequiredRole(domain.RoleAdmin)).Post("/", h.FitClickModel)
		})

		r.Route("/optimizations", func(r chi.Router) {
			r.Post("/", h.CreateOptimization)
			r.Get("/", h.GetAllOptimizations)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.optimizationRun)
				r.Get("/", h.GetOptimization)
				r.Get("/progress", h.GetOptimizationProgress)
			})
		})
	})
}
