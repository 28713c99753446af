package persistence

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"vaultmesh.com/internal/attribution/domain"
)

// IntentModel 对应表 deposit_intents
// (vault_id, chain_id, receiver) 组合索引服务候选查询
type IntentModel struct {
	ID        string          `gorm:"primaryKey;size:64"`
	PartnerID string          `gorm:"size:64;index"`
	VaultID   string          `gorm:"size:64;index:idx_candidate"`
	ChainID   int64           `gorm:"index:idx_candidate"`
	Receiver  string          `gorm:"size:128;index:idx_candidate"`
	Amount    decimal.Decimal `gorm:"type:decimal(36,18)"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
	MetaJSON  []byte    `gorm:"type:json"`
	Status    uint8     `gorm:"index"`
}

func (IntentModel) TableName() string { return "deposit_intents" }

// AttributionModel 对应表 attributions
// tx_hash 主键保证每笔交易恰好一条；intent_id 唯一索引保证每个意向至多被消费一次
type AttributionModel struct {
	TxHash       string          `gorm:"primaryKey;size:80"`
	IntentID     *string         `gorm:"size:64;uniqueIndex"`
	PartnerID    string          `gorm:"size:64;index"`
	Source       string          `gorm:"size:16"`
	Confidence   decimal.Decimal `gorm:"type:decimal(6,5)"`
	Amount       decimal.Decimal `gorm:"type:decimal(36,18)"`
	SharesAmount decimal.Decimal `gorm:"type:decimal(36,18)"`
	CreatedAt    time.Time
}

func (AttributionModel) TableName() string { return "attributions" }

// ObservedDepositModel 对应表 observed_deposits
// indexer 喂入的每笔充值都留痕，供孤儿扫描找出超期未归因的交易
type ObservedDepositModel struct {
	TxHash       string `gorm:"primaryKey;size:80"`
	VaultID      string `gorm:"size:64"`
	ChainID      int64
	Receiver     string          `gorm:"size:128"`
	Amount       decimal.Decimal `gorm:"type:decimal(36,18)"`
	SharesAmount decimal.Decimal `gorm:"type:decimal(36,18)"`
	ConfirmedAt  time.Time
	FirstSeenAt  time.Time `gorm:"index"`
}

func (ObservedDepositModel) TableName() string { return "observed_deposits" }

// decimalFromSQL SUM 聚合结果转 decimal，空串兜底为 0
func decimalFromSQL(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// ---------------------------------------------------------
// domain <-> model 转换
// ---------------------------------------------------------

func intentToModel(i *domain.DepositIntent) (*IntentModel, error) {
	var meta []byte
	if len(i.Metadata) > 0 {
		b, err := json.Marshal(i.Metadata)
		if err != nil {
			return nil, err
		}
		meta = b
	}
	return &IntentModel{
		ID:        i.ID,
		PartnerID: i.PartnerID,
		VaultID:   i.VaultID,
		ChainID:   i.ChainID,
		Receiver:  i.Receiver,
		Amount:    i.Amount,
		CreatedAt: i.CreatedAt,
		ExpiresAt: i.ExpiresAt,
		MetaJSON:  meta,
		Status:    uint8(i.Status),
	}, nil
}

func intentFromModel(m *IntentModel) *domain.DepositIntent {
	var meta map[string]string
	if len(m.MetaJSON) > 0 {
		_ = json.Unmarshal(m.MetaJSON, &meta)
	}
	return &domain.DepositIntent{
		ID:        m.ID,
		PartnerID: m.PartnerID,
		VaultID:   m.VaultID,
		ChainID:   m.ChainID,
		Receiver:  m.Receiver,
		Amount:    m.Amount,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
		Metadata:  meta,
		Status:    domain.IntentStatus(m.Status),
	}
}

func attributionToModel(a *domain.Attribution) *AttributionModel {
	return &AttributionModel{
		TxHash:       a.TxHash,
		IntentID:     a.IntentID,
		PartnerID:    a.PartnerID,
		Source:       string(a.Source),
		Confidence:   a.Confidence,
		Amount:       a.Amount,
		SharesAmount: a.SharesAmount,
		CreatedAt:    a.CreatedAt,
	}
}

func attributionFromModel(m *AttributionModel) *domain.Attribution {
	return &domain.Attribution{
		TxHash:       m.TxHash,
		IntentID:     m.IntentID,
		PartnerID:    m.PartnerID,
		Source:       domain.AttributionSource(m.Source),
		Confidence:   m.Confidence,
		Amount:       m.Amount,
		SharesAmount: m.SharesAmount,
		CreatedAt:    m.CreatedAt,
	}
}

func observedFromModel(m *ObservedDepositModel) *domain.ConfirmedDeposit {
	return &domain.ConfirmedDeposit{
		TxHash:       m.TxHash,
		VaultID:      m.VaultID,
		ChainID:      m.ChainID,
		Receiver:     m.Receiver,
		Amount:       m.Amount,
		SharesAmount: m.SharesAmount,
		ConfirmedAt:  m.ConfirmedAt,
	}
}
