package utils

import (
	"math/rand"

	"github.com/shopspring/decimal"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
)

// 时间网格的步长为 0.1 小时，一共 241 个取值 (0.0 ~ 24.0)
const hourGridSteps = domain.HoursPerDay * 10

var dayEnd = decimal.NewFromInt(domain.HoursPerDay)

// RandomHour 在 0.1 小时的网格上均匀抽取 [0, 24] 中的一个值
func RandomHour(rng *rand.Rand) decimal.Decimal {
	return decimal.New(int64(rng.Intn(hourGridSteps+1)), -1)
}

// ClipDuration 截断时长，使得 start + duration 不超过 24
// 用 decimal 计算是为了让 24 - start 仍然落在网格上
func ClipDuration(start, duration decimal.Decimal) decimal.Decimal {
	limit := dayEnd.Sub(start)
	if duration.GreaterThan(limit) {
		return limit
	}
	return duration
}

// DrawSchedule 为一个广告位随机抽取开始时间和（截断后的）投放时长
func DrawSchedule(rng *rand.Rand) (float64, float64) {
	start := RandomHour(rng)
	duration := ClipDuration(start, RandomHour(rng))
	return start.InexactFloat64(), duration.InexactFloat64()
}

// RandomSubset 使用 Fisher-Yates 洗牌算法从 arr 中随机取出 n 个不重复的元素
func RandomSubset(rng *rand.Rand, arr []int, n int) []int {
	arrCopy := append([]int{}, arr...) // 复制数组，避免修改原数组

	for i := 0; i < n && i < len(arrCopy)-1; i++ {
		j := rng.Intn(len(arrCopy)-i) + i
		arrCopy[i], arrCopy[j] = arrCopy[j], arrCopy[i]
	}

	return arrCopy[:min(n, len(arrCopy))]
}
