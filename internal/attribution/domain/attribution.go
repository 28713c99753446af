package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type AttributionSource string

const (
	SourceExplicit AttributionSource = "explicit" // 链上事件直接携带合作方标识
	SourceInferred AttributionSource = "inferred" // 通过意向匹配推断
)

// Attribution 交易归因的最终记录，每笔交易恰好一条，创建后不再变更
// (意向被外部清理后 IntentID 可被置空，历史记录本身保留)
type Attribution struct {
	TxHash       string            // 主键
	IntentID     *string           // 反向引用，仅作查询键，不构成所有权
	PartnerID    string            // 合作方 (孤儿终态记录为空)
	Source       AttributionSource // explicit / inferred
	Confidence   decimal.Decimal   // [0,1]；1.0 只允许 explicit
	Amount       decimal.Decimal   // 归因的资产金额
	SharesAmount decimal.Decimal   // 归因的份额
	CreatedAt    time.Time
}

// Decision 撮合器产出的归因决定，由 Writer 负责落库
// IntentID 非空时，落库需与意向认领在同一个原子单元内完成
type Decision struct {
	TxHash       string
	IntentID     *string
	PartnerID    string
	Source       AttributionSource
	Confidence   decimal.Decimal
	Amount       decimal.Decimal
	SharesAmount decimal.Decimal
}

// AttributionStore 归因存储，独占归因记录
type AttributionStore interface {
	// Create 插入一条归因，tx_hash 冲突 -> ErrDuplicateAttribution
	Create(ctx context.Context, att *Attribution) error

	// GetByTxHash 1:1 查询；不存在返回 nil, nil
	GetByTxHash(ctx context.Context, txHash string) (*Attribution, error)

	// GetByIntentID 按意向反查 (每个意向至多一条)；不存在返回 nil, nil
	GetByIntentID(ctx context.Context, intentID string) (*Attribution, error)

	// ListByPartner 1:many 查询，按创建时间倒序
	ListByPartner(ctx context.Context, partnerID string, limit, offset int) ([]*Attribution, error)

	// SummarizeByPartner 合作方维度的聚合，供报表读取
	SummarizeByPartner(ctx context.Context, partnerID string) (*PartnerSummary, error)

	// DetachIntent 意向被外部清理时置空反向引用
	// 归因记录本身保留 ("曾经对着一个已不存在的意向归因过")
	DetachIntent(ctx context.Context, intentID string) error
}

// PartnerSummary 合作方归因聚合
type PartnerSummary struct {
	PartnerID   string
	Count       int64
	TotalAmount decimal.Decimal
	TotalShares decimal.Decimal
}

// TxRunner 原子执行 fn；实现方把事务句柄注入 ctx，内部的存储调用自动复用
type TxRunner interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
