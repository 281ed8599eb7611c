package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/dataset"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/optimizer"
)

var (
	seedCount int
	seedNoise float64
	seedValue int64
	seedOut   string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "生成模拟的历史投放数据",
	Long:  "使用内置的演示模型生成随机投放方案及其点击量，输出为 CSV 或 XLSX（按文件扩展名决定）。",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().IntVarP(&seedCount, "count", "n", 500, "生成的记录数量")
	seedCmd.Flags().Float64Var(&seedNoise, "noise", 5, "点击量噪声的标准差")
	seedCmd.Flags().Int64Var(&seedValue, "seed", 1, "随机数种子")
	seedCmd.Flags().StringVarP(&seedOut, "out", "o", "observations.csv", "输出文件 (.csv 或 .xlsx)")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if seedCount <= 0 {
		return fmt.Errorf("记录数量必须大于 0: %d", seedCount)
	}
	if seedNoise < 0 {
		return fmt.Errorf("噪声标准差不能为负数: %v", seedNoise)
	}

	rng := rand.New(rand.NewSource(seedValue))
	source := func() domain.Plan { return optimizer.RandomPlan(rng) }

	observations, err := dataset.Generate(seedCount, source, dataset.DemoClickModel(), seedNoise, rng)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(seedOut)) {
	case ".xlsx":
		if err := dataset.WriteXLSX(seedOut, observations); err != nil {
			return err
		}
	default:
		f, err := os.Create(seedOut)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := dataset.WriteCSV(f, observations); err != nil {
			return err
		}
	}

	slog.Info("模拟数据生成成功", "count", len(observations), "out", seedOut)
	return nil
}
