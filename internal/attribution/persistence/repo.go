package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"vaultmesh.com/internal/attribution/domain"
	"vaultmesh.com/pkg/xerr"
)

// txKey 事务句柄在 ctx 中的 key
const txKey = "tx_db"

// Repo MySQL 版存储，线上实现
type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// 确保 Repo 实现了所有接口
var (
	_ domain.IntentRegistry   = (*Repo)(nil)
	_ domain.AttributionStore = (*Repo)(nil)
	_ domain.DepositLedger    = (*Repo)(nil)
	_ domain.TxRunner         = (*Repo)(nil)
)

// AutoMigrate 建表 (部署脚本/本地联调用)
func (r *Repo) AutoMigrate() error {
	return r.db.AutoMigrate(&IntentModel{}, &AttributionModel{}, &ObservedDepositModel{})
}

// Transaction 实现事务：把 tx 注入 ctx，内部的存储调用自动复用
func (r *Repo) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey, tx)
		return fn(txCtx)
	})
}

// conn 优先取 ctx 里的事务句柄
func (r *Repo) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx
	}
	return r.db
}

// ---------------------------------------------------------
// IntentRegistry
// ---------------------------------------------------------

func (r *Repo) Declare(ctx context.Context, intent *domain.DepositIntent) error {
	if !intent.ExpiresAt.After(intent.CreatedAt) {
		return domain.ErrInvalidWindow
	}

	m, err := intentToModel(intent)
	if err != nil {
		return xerr.New(xerr.RequestParamsError, fmt.Sprintf("marshal intent metadata failed: %v", err))
	}
	m.Status = uint8(domain.IntentStatusPending)

	if err := r.conn(ctx).WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateIntent
		}
		return xerr.New(xerr.DbError, fmt.Sprintf("declare intent failed: %v", err))
	}
	return nil
}

func (r *Repo) FindCandidates(ctx context.Context, q domain.CandidateQuery) ([]*domain.DepositIntent, error) {
	var models []*IntentModel
	err := r.conn(ctx).WithContext(ctx).Model(&IntentModel{}).
		Where("vault_id = ? AND chain_id = ? AND receiver = ? AND status = ? AND expires_at > ?",
			q.VaultID, q.ChainID, q.Receiver, uint8(domain.IntentStatusPending), q.AsOf).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("query candidates failed: %v", err))
	}

	out := make([]*domain.DepositIntent, 0, len(models))
	for _, m := range models {
		out = append(out, intentFromModel(m))
	}
	return out, nil
}

// TryClaim 原子条件更新 (CAS)，不是读-改-写
// SQL: UPDATE deposit_intents SET status = matched WHERE id = ? AND status = pending
// RowsAffected = 0 说明别的交易抢先认领了，或者意向已是终态
func (r *Repo) TryClaim(ctx context.Context, intentID string) (bool, error) {
	res := r.conn(ctx).WithContext(ctx).Model(&IntentModel{}).
		Where("id = ? AND status = ?", intentID, uint8(domain.IntentStatusPending)).
		Update("status", uint8(domain.IntentStatusMatched))
	if res.Error != nil {
		return false, xerr.New(xerr.DbError, fmt.Sprintf("claim intent failed: %v", res.Error))
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) Expire(ctx context.Context, intentID string) error {
	return r.transition(ctx, intentID, domain.IntentStatusExpired)
}

func (r *Repo) MarkOrphan(ctx context.Context, intentID string) error {
	return r.transition(ctx, intentID, domain.IntentStatusOrphan)
}

// transition 非 pending 时 RowsAffected = 0，静默 no-op
func (r *Repo) transition(ctx context.Context, intentID string, to domain.IntentStatus) error {
	res := r.conn(ctx).WithContext(ctx).Model(&IntentModel{}).
		Where("id = ? AND status = ?", intentID, uint8(domain.IntentStatusPending)).
		Update("status", uint8(to))
	if res.Error != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("transition intent failed: %v", res.Error))
	}
	return nil
}

// ExpireDue 批量过期，幂等：终态行不会再被命中
func (r *Repo) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res := r.conn(ctx).WithContext(ctx).Model(&IntentModel{}).
		Where("status = ? AND expires_at <= ?", uint8(domain.IntentStatusPending), now).
		Update("status", uint8(domain.IntentStatusExpired))
	if res.Error != nil {
		return 0, xerr.New(xerr.DbError, fmt.Sprintf("expire intents failed: %v", res.Error))
	}
	return res.RowsAffected, nil
}

func (r *Repo) Get(ctx context.Context, intentID string) (*domain.DepositIntent, error) {
	var m IntentModel
	err := r.conn(ctx).WithContext(ctx).First(&m, "id = ?", intentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrIntentNotFound
		}
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("get intent failed: %v", err))
	}
	return intentFromModel(&m), nil
}

// ---------------------------------------------------------
// AttributionStore
// ---------------------------------------------------------

func (r *Repo) Create(ctx context.Context, att *domain.Attribution) error {
	m := attributionToModel(att)
	if err := r.conn(ctx).WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateAttribution
		}
		return xerr.New(xerr.DbError, fmt.Sprintf("create attribution failed: %v", err))
	}
	return nil
}

func (r *Repo) GetByTxHash(ctx context.Context, txHash string) (*domain.Attribution, error) {
	var m AttributionModel
	err := r.conn(ctx).WithContext(ctx).First(&m, "tx_hash = ?", txHash).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("get attribution failed: %v", err))
	}
	return attributionFromModel(&m), nil
}

func (r *Repo) GetByIntentID(ctx context.Context, intentID string) (*domain.Attribution, error) {
	var m AttributionModel
	err := r.conn(ctx).WithContext(ctx).First(&m, "intent_id = ?", intentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("get attribution by intent failed: %v", err))
	}
	return attributionFromModel(&m), nil
}

func (r *Repo) ListByPartner(ctx context.Context, partnerID string, limit, offset int) ([]*domain.Attribution, error) {
	var models []*AttributionModel
	q := r.conn(ctx).WithContext(ctx).Model(&AttributionModel{}).
		Where("partner_id = ?", partnerID).
		Order("created_at DESC").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("list attributions failed: %v", err))
	}

	out := make([]*domain.Attribution, 0, len(models))
	for _, m := range models {
		out = append(out, attributionFromModel(m))
	}
	return out, nil
}

func (r *Repo) SummarizeByPartner(ctx context.Context, partnerID string) (*domain.PartnerSummary, error) {
	type row struct {
		Count       int64
		TotalAmount string
		TotalShares string
	}
	var res row
	err := r.conn(ctx).WithContext(ctx).Model(&AttributionModel{}).
		Select("COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total_amount, COALESCE(SUM(shares_amount), 0) AS total_shares").
		Where("partner_id = ?", partnerID).
		Scan(&res).Error
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("summarize partner failed: %v", err))
	}

	sum := &domain.PartnerSummary{PartnerID: partnerID, Count: res.Count}
	if sum.TotalAmount, err = decimalFromSQL(res.TotalAmount); err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("parse summary amount failed: %v", err))
	}
	if sum.TotalShares, err = decimalFromSQL(res.TotalShares); err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("parse summary shares failed: %v", err))
	}
	return sum, nil
}

// DetachIntent 置空反向引用，归因行本身不动
func (r *Repo) DetachIntent(ctx context.Context, intentID string) error {
	err := r.conn(ctx).WithContext(ctx).Model(&AttributionModel{}).
		Where("intent_id = ?", intentID).
		Update("intent_id", nil).Error
	if err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("detach intent failed: %v", err))
	}
	return nil
}

// ---------------------------------------------------------
// DepositLedger
// ---------------------------------------------------------

// RecordObserved 幂等 upsert：重复投递不覆盖首次观察时间
func (r *Repo) RecordObserved(ctx context.Context, dep *domain.ConfirmedDeposit) error {
	m := &ObservedDepositModel{
		TxHash:       dep.TxHash,
		VaultID:      dep.VaultID,
		ChainID:      dep.ChainID,
		Receiver:     dep.Receiver,
		Amount:       dep.Amount,
		SharesAmount: dep.SharesAmount,
		ConfirmedAt:  dep.ConfirmedAt,
		FirstSeenAt:  time.Now(),
	}
	err := r.conn(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(m).Error
	if err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("record observed deposit failed: %v", err))
	}
	return nil
}

func (r *Repo) FindUnattributedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.ConfirmedDeposit, error) {
	var models []*ObservedDepositModel
	q := r.conn(ctx).WithContext(ctx).Model(&ObservedDepositModel{}).
		Joins("LEFT JOIN attributions a ON a.tx_hash = observed_deposits.tx_hash").
		Where("a.tx_hash IS NULL AND observed_deposits.first_seen_at <= ?", cutoff).
		Order("observed_deposits.first_seen_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("query unattributed deposits failed: %v", err))
	}

	out := make([]*domain.ConfirmedDeposit, 0, len(models))
	for _, m := range models {
		out = append(out, observedFromModel(m))
	}
	return out, nil
}
