package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ConfirmedDeposit 链上已确认的充值交易，由 indexer 喂入，本核心只读
// indexer 的投递是 at-least-once，重复投递按 TxHash 幂等吸收
type ConfirmedDeposit struct {
	TxHash       string          // 交易hash (唯一)
	VaultID      string          // 金库
	ChainID      int64           // 链
	Receiver     string          // 接收地址
	Amount       decimal.Decimal // 资产金额
	SharesAmount decimal.Decimal // 份额
	ConfirmedAt  time.Time       // 确认时间
	PartnerTag   string          // 显式合作方标识 (仅代理合约路由的充值携带，否则为空)
}

// DepositLedger 记录观察到的链上充值，供 Sweeper 做孤儿扫描
// (超过宽限期仍无归因的交易要被打上零置信度终态记录)
type DepositLedger interface {
	// RecordObserved 记录首次观察时间 (按 tx_hash 幂等 upsert)
	RecordObserved(ctx context.Context, dep *ConfirmedDeposit) error

	// FindUnattributedBefore 找出 cutoff 之前观察到、至今没有归因记录的交易
	FindUnattributedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*ConfirmedDeposit, error)
}
