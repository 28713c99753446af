package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type IntentStatus uint8

// 意向状态枚举 (单向流转，三个终态)
const (
	IntentStatusPending IntentStatus = iota // 待匹配
	IntentStatusMatched                     // 已被链上交易认领
	IntentStatusExpired                     // TTL 过期 (Sweeper)
	IntentStatusOrphan                      // 运营手动作废
)

func (s IntentStatus) String() string {
	switch s {
	case IntentStatusPending:
		return "pending"
	case IntentStatusMatched:
		return "matched"
	case IntentStatusExpired:
		return "expired"
	case IntentStatusOrphan:
		return "orphan"
	default:
		return "unknown"
	}
}

// DepositIntent 合作方的充值意向申报
// 唯一标识: 调用方提供的 ID (din_xxx)
type DepositIntent struct {
	ID        string            // 意向ID (唯一)
	PartnerID string            // 合作方
	VaultID   string            // 金库
	ChainID   int64             // 链
	Receiver  string            // 接收地址
	Amount    decimal.Decimal   // 申报金额
	CreatedAt time.Time         // 申报时间
	ExpiresAt time.Time         // 过期时间 (必须 > CreatedAt)
	Metadata  map[string]string // 透传的提示信息，撮合时不解释
	Status    IntentStatus
}

// Window 意向的有效时长
func (i *DepositIntent) Window() time.Duration {
	return i.ExpiresAt.Sub(i.CreatedAt)
}

// ActiveAt 是否在 asOf 时间点仍可被认领
func (i *DepositIntent) ActiveAt(asOf time.Time) bool {
	return i.Status == IntentStatusPending && i.ExpiresAt.After(asOf)
}

// CandidateQuery 候选意向的查询条件
// vault/chain/receiver 精确匹配；Amount 传给存储层做粗筛 (容差判断属于撮合策略)
type CandidateQuery struct {
	VaultID  string
	ChainID  int64
	Receiver string
	Amount   decimal.Decimal
	AsOf     time.Time
}

// IntentRegistry 意向登记簿，独占意向记录 (append-only，从不删除)
type IntentRegistry interface {
	// Declare 新建 pending 意向
	// 重复ID -> ErrDuplicateIntent；过期时间 <= 创建时间 -> ErrInvalidWindow
	Declare(ctx context.Context, intent *DepositIntent) error

	// FindCandidates 查询可认领的 pending 意向
	// 按 created_at 升序 (先到先得，平局时最早申报者胜出)
	FindCandidates(ctx context.Context, q CandidateQuery) ([]*DepositIntent, error)

	// TryClaim 原子性认领: pending -> matched，仅当仍是 pending 时成功
	// 这是防止两笔并发交易消费同一意向的唯一互斥点
	TryClaim(ctx context.Context, intentID string) (bool, error)

	// Expire / MarkOrphan 仅供 Sweeper 和运营通道使用
	// 意向已不是 pending 时静默 no-op
	Expire(ctx context.Context, intentID string) error
	MarkOrphan(ctx context.Context, intentID string) error

	// ExpireDue 批量过期 expires_at <= now 的 pending 意向，返回条数
	// 幂等：对已终态的行是 no-op，可按任意调度重跑
	ExpireDue(ctx context.Context, now time.Time) (int64, error)

	// Get 按ID查询
	Get(ctx context.Context, intentID string) (*DepositIntent, error)
}
