package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/config"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/dataset"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/optimizer"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/regression"
)

var (
	optimizeData     string
	optimizeSheet    string
	optimizeJSON     bool
	optimizeOverride domain.OptimizationParameters
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "运行遗传算法寻找最优投放方案",
	Long:  "参数默认从 OPTIMIZER_ 开头的环境变量读取，命令行参数优先。没有指定 --data 时使用内置的演示模型。",
	RunE:  runOptimize,
}

func init() {
	f := optimizeCmd.Flags()
	f.StringVarP(&optimizeData, "data", "d", "", "用于拟合模型的历史数据文件 (.csv 或 .xlsx)")
	f.StringVar(&optimizeSheet, "sheet", "", "XLSX 工作表名称，默认第一个")
	f.BoolVar(&optimizeJSON, "json", false, "以 JSON 格式输出结果")

	f.IntVar(&optimizeOverride.PopulationSize, "population", 0, "种群大小")
	f.IntVar(&optimizeOverride.MaxGenerations, "generations", 0, "最大迭代次数")
	f.IntVar(&optimizeOverride.ParentCount, "parents", 0, "每一代选出的父本数量")
	f.IntVar(&optimizeOverride.EliteCount, "elites", 0, "精英数量")
	f.Float64Var(&optimizeOverride.ScrambleRate, "scramble-rate", 0, "乱序变异概率")
	f.Float64Var(&optimizeOverride.GaussianRate, "gaussian-rate", 0, "高斯变异概率")
	f.IntVar(&optimizeOverride.MaxAttempts, "max-attempts", 0, "每个修复循环的最大尝试次数")
	f.IntVar(&optimizeOverride.StallGenerations, "stall", 0, "连续多少代没有改进就提前停止")
	f.IntVar(&optimizeOverride.TimeLimitSeconds, "time-limit", 0, "最长运行时间（秒）")
	f.Int64Var(&optimizeOverride.Seed, "seed", 0, "随机数种子，默认使用当前时间")
}

// applyOverrides 只覆盖命令行中显式给出的参数
func applyOverrides(cmd *cobra.Command, p domain.OptimizationParameters) domain.OptimizationParameters {
	changed := cmd.Flags().Changed
	if changed("population") {
		p.PopulationSize = optimizeOverride.PopulationSize
	}
	if changed("generations") {
		p.MaxGenerations = optimizeOverride.MaxGenerations
	}
	if changed("parents") {
		p.ParentCount = optimizeOverride.ParentCount
	}
	if changed("elites") {
		p.EliteCount = optimizeOverride.EliteCount
	}
	if changed("scramble-rate") {
		p.ScrambleRate = optimizeOverride.ScrambleRate
	}
	if changed("gaussian-rate") {
		p.GaussianRate = optimizeOverride.GaussianRate
	}
	if changed("max-attempts") {
		p.MaxAttempts = optimizeOverride.MaxAttempts
	}
	if changed("stall") {
		p.StallGenerations = optimizeOverride.StallGenerations
	}
	if changed("time-limit") {
		p.TimeLimitSeconds = optimizeOverride.TimeLimitSeconds
	}
	if changed("seed") {
		p.Seed = optimizeOverride.Seed
	} else {
		p.Seed = time.Now().UnixNano()
	}
	return p
}

func loadModel() (optimizer.FitnessModel, error) {
	if optimizeData == "" {
		slog.Info("没有指定历史数据，使用演示模型")
		return dataset.DemoClickModel(), nil
	}

	observations, err := dataset.Load(optimizeData, optimizeSheet)
	if err != nil {
		return nil, err
	}
	result, err := regression.Fit(observations, regression.DefaultFeatures)
	if err != nil {
		return nil, err
	}

	slog.Info("点击量模型拟合完成", "observations", result.Observations, "rSquared", result.RSquared)
	return result.Model, nil
}

func runOptimize(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOptimizerConfig()
	if err != nil {
		return fmt.Errorf("无法读取配置: %w", err)
	}

	parameters := applyOverrides(cmd, cfg.Defaults())
	algoParameters := optimizer.NewParameters(parameters, cfg.Costs(), cfg.Budget())
	if err := algoParameters.Validate(); err != nil {
		return err
	}

	model, err := loadModel()
	if err != nil {
		return err
	}

	o, err := optimizer.New(algoParameters, model)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if parameters.TimeLimitSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(parameters.TimeLimitSeconds)*time.Second)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	observer := func(stats domain.GenerationStats) {
		if optimizeJSON {
			return
		}
		fmt.Fprintf(out, "第 %3d 代  最佳 %10.2f  平均 %10.2f  标准差 %8.2f  历史最佳 %10.2f\n",
			stats.Generation, stats.Best, stats.Mean, stats.StdDev, stats.BestEver)
	}

	result, err := o.Optimize(ctx, observer)
	if err != nil && !(errors.Is(err, context.Canceled) && result != nil) {
		return err
	}
	if err != nil {
		slog.Warn("优化被中断，输出目前为止的最优方案", "generations", result.Generations)
	}

	if optimizeJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"seed":        parameters.Seed,
			"generations": result.Generations,
			"stopReason":  result.StopReason,
			"best":        result.Best,
		})
	}

	fmt.Fprintf(out, "\n停止原因: %s，共 %d 代，随机数种子 %d\n", result.StopReason, result.Generations, parameters.Seed)
	printPlan(cmd, &result.Best)
	return nil
}

func printPlan(cmd *cobra.Command, plan *domain.Plan) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "广告位  横幅  开始时间  时长")
	for i, slot := range plan.Slots {
		if !slot.IsActive() {
			fmt.Fprintf(out, "ad%-5d %4s\n", i, "-")
			continue
		}
		fmt.Fprintf(out, "ad%-5d %4d  %8.1f  %4.1f\n", i, slot.Banner, slot.StartTime, slot.Duration)
	}
	fmt.Fprintf(out, "成本: %.1f  预测点击量: %.2f\n", plan.Cost, plan.PredictedClicks)
}
