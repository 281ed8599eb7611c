package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/xuri/excelize/v2"
)

const (
	ColumnAd        = "Ad"
	ColumnStartTime = "Start time"
	ColumnEndTime   = "End time"
	ColumnClicks    = "User Clicks"
)

var ErrHeaderNotFound = errors.New("找不到表头，表头中必须包含 User Clicks 列")

// layout 记录每个字段在行中的下标
type layout struct {
	banner [domain.SlotCount]int
	start  [domain.SlotCount]int
	end    [domain.SlotCount]int
	clicks int
}

// Load 根据文件扩展名选择读取方式
func Load(path string, sheet string) ([]domain.Observation, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return LoadXLSX(path, sheet)
	default:
		return LoadCSV(path)
	}
}

func LoadCSV(path string) ([]domain.Observation, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadCSV(file)
}

func ReadCSV(r io.Reader) ([]domain.Observation, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // 标题行和数据行的列数可能不一样

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("读取 CSV 失败: %w", err)
	}

	return ParseRows(rows)
}

func LoadXLSX(path string, sheet string) ([]domain.Observation, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readWorkbook(file, sheet)
}

// ReadXLSX sheet 为空时读取第一个工作表
func ReadXLSX(r io.Reader, sheet string) ([]domain.Observation, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("无法打开 Excel 文件: %w", err)
	}
	defer file.Close()

	return readWorkbook(file, sheet)
}

func readWorkbook(file *excelize.File, sheet string) ([]domain.Observation, error) {
	if sheet == "" {
		sheets := file.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("Excel 文件中没有工作表")
		}
		sheet = sheets[0]
	}

	rows, err := file.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("读取工作表 %s 失败: %w", sheet, err)
	}

	return ParseRows(rows)
}

// ParseRows 解析历史投放数据
// 表头之前的行（例如标题行）会被忽略，表头之后的空行也会被忽略
func ParseRows(rows [][]string) ([]domain.Observation, error) {
	headerIdx := -1
	for i, row := range rows {
		for _, cell := range row {
			if normalizeHeader(cell) == ColumnClicks {
				headerIdx = i
				break
			}
		}
		if headerIdx >= 0 {
			break
		}
	}
	if headerIdx < 0 {
		return nil, ErrHeaderNotFound
	}

	l, err := parseHeader(rows[headerIdx])
	if err != nil {
		return nil, err
	}

	observations := make([]domain.Observation, 0, len(rows)-headerIdx-1)
	for i := headerIdx + 1; i < len(rows); i++ {
		if isBlank(rows[i]) {
			continue
		}

		o, err := parseRow(rows[i], l)
		if err != nil {
			// 行号从 1 开始，方便对照表格
			return nil, fmt.Errorf("第 %d 行: %w", i+1, err)
		}
		observations = append(observations, o)
	}

	return observations, nil
}

// normalizeHeader 去掉空白以及 pandas 给重复列名加上的 .1 ~ .4 后缀
func normalizeHeader(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.LastIndex(name, "."); idx > 0 {
		if _, err := strconv.Atoi(name[idx+1:]); err == nil {
			name = name[:idx]
		}
	}
	return name
}

func parseHeader(header []string) (layout, error) {
	l := layout{clicks: -1}
	var adCnt, startCnt, endCnt int

	for i, cell := range header {
		switch normalizeHeader(cell) {
		case ColumnAd:
			if adCnt < domain.SlotCount {
				l.banner[adCnt] = i
			}
			adCnt++
		case ColumnStartTime:
			if startCnt < domain.SlotCount {
				l.start[startCnt] = i
			}
			startCnt++
		case ColumnEndTime:
			if endCnt < domain.SlotCount {
				l.end[endCnt] = i
			}
			endCnt++
		case ColumnClicks:
			l.clicks = i
		}
	}

	if adCnt != domain.SlotCount || startCnt != domain.SlotCount || endCnt != domain.SlotCount {
		return l, fmt.Errorf("表头中 %s / %s / %s 列应各有 %d 个，实际为 %d / %d / %d",
			ColumnAd, ColumnStartTime, ColumnEndTime, domain.SlotCount, adCnt, startCnt, endCnt)
	}

	return l, nil
}

func parseRow(row []string, l layout) (domain.Observation, error) {
	o := domain.Observation{}

	for s := 0; s < domain.SlotCount; s++ {
		banner, err := parseNumber(cell(row, l.banner[s]))
		if err != nil {
			return o, fmt.Errorf("广告位 %d 的横幅: %w", s, err)
		}
		if !banner.IsInteger() || banner.IsNegative() || banner.GreaterThan(decimal.NewFromInt(domain.BannerCount)) {
			return o, fmt.Errorf("广告位 %d 的横幅编号 %s 不合法", s, banner)
		}

		start, err := parseNumber(cell(row, l.start[s]))
		if err != nil {
			return o, fmt.Errorf("广告位 %d 的开始时间: %w", s, err)
		}
		end, err := parseNumber(cell(row, l.end[s]))
		if err != nil {
			return o, fmt.Errorf("广告位 %d 的结束时间: %w", s, err)
		}
		if end.LessThan(start) {
			return o, fmt.Errorf("广告位 %d 的结束时间早于开始时间", s)
		}

		o.Slots[s] = domain.Slot{
			Banner:    int(banner.IntPart()),
			StartTime: start.InexactFloat64(),
			Duration:  end.Sub(start).InexactFloat64(),
		}
	}

	clicks, err := parseNumber(cell(row, l.clicks))
	if err != nil {
		return o, fmt.Errorf("点击量: %w", err)
	}
	o.Clicks = clicks.InexactFloat64()

	return o, nil
}

// cell 取出单元格内容，excelize 会省略行尾的空单元格
func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// parseNumber 空单元格视为 0
func parseNumber(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
