package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/config"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/dataset"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/regression"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/repository"
)

var (
	fitData  string
	fitSheet string
	fitSave  bool
	fitName  string
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "用历史数据拟合点击量模型",
	RunE:  runFit,
}

func init() {
	fitCmd.Flags().StringVarP(&fitData, "data", "d", "", "历史数据文件 (.csv 或 .xlsx)")
	fitCmd.Flags().StringVar(&fitSheet, "sheet", "", "XLSX 工作表名称，默认第一个")
	fitCmd.Flags().BoolVar(&fitSave, "save", false, "把模型保存到数据库")
	fitCmd.Flags().StringVar(&fitName, "name", "", "保存时使用的模型名称，默认为文件名")
	_ = fitCmd.MarkFlagRequired("data")
}

func runFit(cmd *cobra.Command, args []string) error {
	observations, err := dataset.Load(fitData, fitSheet)
	if err != nil {
		return err
	}

	result, err := regression.Fit(observations, regression.DefaultFeatures)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "样本数量: %d\n", result.Observations)
	fmt.Fprintf(out, "R²: %.4f\n", result.RSquared)
	fmt.Fprintf(out, "截距: %.4f\n", result.Model.Intercept())
	for i, feature := range result.Model.Features() {
		fmt.Fprintf(out, "%-16s %10.4f\n", feature, result.Model.Coefficients()[i])
	}

	if !fitSave {
		return nil
	}

	name := fitName
	if name == "" {
		name = filepath.Base(fitData)
	}
	return saveClickModel(result, name)
}

func saveClickModel(result *regression.FitResult, name string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("无法读取配置文件: %w", err)
	}

	dbpool, err := repository.Open(cfg)
	if err != nil {
		return err
	}
	defer dbpool.Close()

	repo := repository.NewRepository(cfg, dbpool)

	record := result.Model.ToClickModel(name)
	record.RSquared = result.RSquared
	record.Observations = result.Observations
	if err := repo.InsertClickModel(record); err != nil {
		return err
	}

	slog.Info("点击量模型已保存", "id", record.ID, "name", record.Name)
	return nil
}
