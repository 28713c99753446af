package matcher

import "github.com/shopspring/decimal"

// Policy 撮合打分的策略参数
// 这些是策略不是机制：全部可配置，默认值见 DefaultPolicy
type Policy struct {
	// AmountToleranceBps 金额容差 (基点)。申报金额与链上金额的相对偏差
	// 超过这个带宽的候选不参与打分 (容差覆盖滑点/gas 损耗)
	AmountToleranceBps int64

	// AmountWeight / TimeWeight 置信度加权 (默认等权)
	AmountWeight decimal.Decimal
	TimeWeight   decimal.Decimal

	// AmbiguityDelta 多个候选分差在此之内视为平局
	AmbiguityDelta decimal.Decimal

	// AmbiguityCap 平局时置信度的上限，低于高置信阈值
	// 用来向下游标示歧义
	AmbiguityCap decimal.Decimal

	// MaxInferredConfidence 推断归因的置信度封顶
	// 1.0 只留给 explicit，保持分类不变式
	MaxInferredConfidence decimal.Decimal
}

// DefaultPolicy 文档化的默认值
func DefaultPolicy() Policy {
	return Policy{
		AmountToleranceBps:    50, // ±50bp
		AmountWeight:          decimal.NewFromInt(1),
		TimeWeight:            decimal.NewFromInt(1),
		AmbiguityDelta:        decimal.NewFromFloat(0.05),
		AmbiguityCap:          decimal.NewFromFloat(0.80),
		MaxInferredConfidence: decimal.NewFromFloat(0.999),
	}
}

// tolerance 基点转小数，例如 50bp -> 0.005
func (p Policy) tolerance() decimal.Decimal {
	return decimal.NewFromInt(p.AmountToleranceBps).Div(decimal.NewFromInt(10000))
}
