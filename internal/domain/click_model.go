package domain

import "time"

// ClickModel 持久化的点击量回归模型
// Features 和 Coefficients 一一对应，顺序就是拟合时的列顺序
type ClickModel struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Features     []string  `json:"features"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	RSquared     float64   `json:"rSquared"`
	Observations int       `json:"observations"`
	CreatedAt    time.Time `json:"createdAt"`
	Version      int32     `json:"-"`
}
