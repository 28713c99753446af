package writer

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"vaultmesh.com/internal/attribution/domain"
	"vaultmesh.com/pkg/logger"
	"vaultmesh.com/pkg/metrics"
)

// Writer 归因落库的唯一入口
// 保证：意向状态翻转和归因行写入要么都发生，要么都不发生，
// 不存在 "已认领但没记录" 的中间态。
type Writer struct {
	tx       domain.TxRunner
	registry domain.IntentRegistry
	store    domain.AttributionStore
	now      func() time.Time
}

func New(tx domain.TxRunner, registry domain.IntentRegistry, store domain.AttributionStore) *Writer {
	return &Writer{
		tx:       tx,
		registry: registry,
		store:    store,
		now:      time.Now,
	}
}

// WithClock 测试用：替换时钟
func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

// Commit 提交一个归因决定
// - 带意向的决定：TryClaim 和归因插入在同一事务内
// - tx_hash 已有归因：吸收 (indexer 重复投递)，返回 (nil, nil)
// - 认领输掉竞争：返回 ErrClaimConflict，由调用方决定是否换候选重试
func (w *Writer) Commit(ctx context.Context, d domain.Decision) (*domain.Attribution, error) {
	att := &domain.Attribution{
		TxHash:       d.TxHash,
		IntentID:     d.IntentID,
		PartnerID:    d.PartnerID,
		Source:       d.Source,
		Confidence:   normalizeConfidence(d),
		Amount:       d.Amount,
		SharesAmount: d.SharesAmount,
		CreatedAt:    w.now(),
	}

	err := w.tx.Transaction(ctx, func(txCtx context.Context) error {
		if d.IntentID != nil {
			claimed, err := w.registry.TryClaim(txCtx, *d.IntentID)
			if err != nil {
				return err
			}
			if !claimed {
				return domain.ErrClaimConflict
			}
		}
		return w.store.Create(txCtx, att)
	})

	if errors.Is(err, domain.ErrDuplicateAttribution) {
		// 重复投递按幂等成功处理，不向 indexer 暴露失败
		logger.Debug(ctx, "attribution already exists, skip",
			zap.String("tx_hash", d.TxHash))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	metrics.AttributionsWrittenTotal.WithLabelValues(string(att.Source)).Inc()
	return att, nil
}

// normalizeConfidence 落库前强制分类不变式：
// explicit 恒为 1.0；inferred 截断到 [0, 0.999]
func normalizeConfidence(d domain.Decision) decimal.Decimal {
	if d.Source == domain.SourceExplicit {
		return decimal.NewFromInt(1)
	}
	c := d.Confidence
	ceiling := decimal.NewFromFloat(0.999)
	if c.GreaterThan(ceiling) {
		c = ceiling
	}
	if c.Sign() < 0 {
		c = decimal.Zero
	}
	return c
}
