package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/optimizer"
)

var (
	// runsTotal 按结果统计优化任务
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ad_planner_optimization_runs_total",
		Help: "Total optimization runs by status and stop reason",
	}, []string{"status", "stop_reason"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ad_planner_optimization_run_duration_seconds",
		Help:    "Wall-clock duration of optimization runs",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s ~ 17min
	})

	runGenerations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ad_planner_optimization_run_generations",
		Help:    "Number of generations completed per run",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	bestClicks = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ad_planner_best_plan_predicted_clicks",
		Help:    "Predicted clicks of the best plan per successful run",
		Buckets: prometheus.LinearBuckets(0, 50, 20),
	})

	// infeasibleTotal 修复循环超过最大尝试次数的次数，按操作区分
	infeasibleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ad_planner_infeasible_plan_errors_total",
		Help: "Repair loops that exhausted their attempt budget, by operation",
	}, []string{"operation"})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ad_planner_active_runs",
		Help: "Optimization runs currently executing",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ad_planner_http_request_duration_seconds",
		Help:    "HTTP request latency by method, route pattern and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// ObserveRequest 记录一次 HTTP 请求，route 应该是路由模板
func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func RunStarted() {
	activeRuns.Inc()
}

func RunSucceeded(result *optimizer.Result, elapsed time.Duration) {
	activeRuns.Dec()
	runsTotal.WithLabelValues("succeeded", string(result.StopReason)).Inc()
	runDuration.Observe(elapsed.Seconds())
	runGenerations.Observe(float64(result.Generations))
	bestClicks.Observe(result.Best.PredictedClicks)
}

func RunFailed(err error, elapsed time.Duration) {
	activeRuns.Dec()
	runsTotal.WithLabelValues("failed", "").Inc()
	runDuration.Observe(elapsed.Seconds())

	var infeasible *optimizer.InfeasiblePlanError
	if errors.As(err, &infeasible) {
		infeasibleTotal.WithLabelValues(string(infeasible.Op)).Inc()
	}
}

// RunInterrupted 任务因为 worker 退出而中断，会重新入队
func RunInterrupted(elapsed time.Duration) {
	activeRuns.Dec()
	runsTotal.WithLabelValues("interrupted", string(optimizer.StopCancelled)).Inc()
	runDuration.Observe(elapsed.Seconds())
}
