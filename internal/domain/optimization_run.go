package domain

import "time"

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// OptimizationParameters 一次优化任务的遗传算法参数
type OptimizationParameters struct {
	PopulationSize   int     `json:"populationSize"`
	MaxGenerations   int     `json:"maxGenerations"`
	ParentCount      int     `json:"parentCount"`
	EliteCount       int     `json:"eliteCount"`
	ScrambleRate     float64 `json:"scrambleRate"`
	GaussianRate     float64 `json:"gaussianRate"`
	MaxAttempts      int     `json:"maxAttempts"`
	StallGenerations int     `json:"stallGenerations"`
	TimeLimitSeconds int     `json:"timeLimitSeconds"`
	Seed             int64   `json:"seed"`
}

// GenerationStats 某一代种群的统计信息
type GenerationStats struct {
	Generation int     `json:"generation"`
	Best       float64 `json:"best"`
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"stdDev"`
	BestEver   float64 `json:"bestEver"`
}

type OptimizationRun struct {
	ID           string                 `json:"id"`
	ClickModelID int64                  `json:"clickModelID"`
	Status       RunStatus              `json:"status"`
	Parameters   OptimizationParameters `json:"parameters"`
	NotifyEmail  string                 `json:"notifyEmail,omitempty"`
	BestPlan     *Plan                  `json:"bestPlan"`
	Generations  int                    `json:"generations"`
	StopReason   string                 `json:"stopReason,omitempty"`
	History      []GenerationStats      `json:"history,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	CreatedBy    int64                  `json:"createdBy"`
	CreatedAt    time.Time              `json:"createdAt"`
	StartedAt    *time.Time             `json:"startedAt"`
	FinishedAt   *time.Time             `json:"finishedAt"`
	Version      int32                  `json:"-"`
}

// OptimizationJob: 通过消息队列发给 worker 的任务
type OptimizationJob struct {
	RunID string `json:"runID"`
}
