package regression

import (
	"fmt"

	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
)

// EncodedWidth 编码后的特征行宽度:
// 每个广告位 6 列 one-hot，加上 5 列开始时间和 5 列投放时长
const EncodedWidth = domain.SlotCount*domain.BannerCount + 2*domain.SlotCount

const (
	startTimeOffset = domain.SlotCount * domain.BannerCount
	timeSpentOffset = startTimeOffset + domain.SlotCount
)

// Schema 编码后每一列的名称，顺序固定:
// ad0_1 ... ad0_6, ad1_1 ... ad4_6, ad0_start_time ... ad4_start_time, ad0_time_spent ... ad4_time_spent
var Schema = buildSchema()

// DefaultFeatures 拟合时默认使用的特征，横幅 6 作为基准类别不进入模型
var DefaultFeatures = buildDefaultFeatures()

func BannerFeature(slot, banner int) string {
	return fmt.Sprintf("ad%d_%d", slot, banner)
}

func StartTimeFeature(slot int) string {
	return fmt.Sprintf("ad%d_start_time", slot)
}

func TimeSpentFeature(slot int) string {
	return fmt.Sprintf("ad%d_time_spent", slot)
}

func buildSchema() []string {
	schema := make([]string, 0, EncodedWidth)
	for s := 0; s < domain.SlotCount; s++ {
		for b := 1; b <= domain.BannerCount; b++ {
			schema = append(schema, BannerFeature(s, b))
		}
	}
	for s := 0; s < domain.SlotCount; s++ {
		schema = append(schema, StartTimeFeature(s))
	}
	for s := 0; s < domain.SlotCount; s++ {
		schema = append(schema, TimeSpentFeature(s))
	}
	return schema
}

func buildDefaultFeatures() []string {
	features := make([]string, 0, EncodedWidth-domain.SlotCount)
	for s := 0; s < domain.SlotCount; s++ {
		for b := 1; b < domain.BannerCount; b++ {
			features = append(features, BannerFeature(s, b))
		}
	}
	for s := 0; s < domain.SlotCount; s++ {
		features = append(features, StartTimeFeature(s))
	}
	for s := 0; s < domain.SlotCount; s++ {
		features = append(features, TimeSpentFeature(s))
	}
	return features
}

// EncodeSlots 把一个方案的广告位编码为一行特征
// 横幅为 0 或者不在 1 ~ 6 之间时，该广告位的 one-hot 全为 0
func EncodeSlots(slots [domain.SlotCount]domain.Slot) []float64 {
	row := make([]float64, EncodedWidth)
	for s, slot := range slots {
		if slot.Banner >= 1 && slot.Banner <= domain.BannerCount {
			row[s*domain.BannerCount+slot.Banner-1] = 1
		}
		row[startTimeOffset+s] = slot.StartTime
		row[timeSpentOffset+s] = slot.Duration
	}
	return row
}

// EncodePlans 批量编码
func EncodePlans(plans []domain.Plan) [][]float64 {
	rows := make([][]float64, len(plans))
	for i := range plans {
		rows[i] = EncodeSlots(plans[i].Slots)
	}
	return rows
}
