package matcher

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"vaultmesh.com/internal/attribution/classifier"
	"vaultmesh.com/internal/attribution/domain"
	"vaultmesh.com/internal/attribution/writer"
	"vaultmesh.com/pkg/logger"
	"vaultmesh.com/pkg/metrics"
)

// Matcher 对单笔已确认充值产出归因决定
// 打分是纯计算 (score.go)，落库全部交给 Writer
type Matcher struct {
	registry domain.IntentRegistry
	writer   *writer.Writer
	policy   Policy
}

func New(registry domain.IntentRegistry, w *writer.Writer, policy Policy) *Matcher {
	return &Matcher{registry: registry, writer: w, policy: policy}
}

// Match 处理一笔充值，返回写入的归因记录
// 返回 (nil, nil) 表示 "暂不归因"：没有候选，或重复投递被吸收。
// 这不是错误——未归因的交易后续由 Sweeper 的孤儿扫描收口。
func (m *Matcher) Match(ctx context.Context, dep *domain.ConfirmedDeposit) (*domain.Attribution, error) {
	cls := classifier.Classify(dep)
	if cls.Tagged {
		return m.matchExplicit(ctx, dep, cls.PartnerID)
	}
	return m.matchInferred(ctx, dep)
}

// matchExplicit 显式路径：链上事件直接带了合作方标识，置信度 1.0
// 顺带尝试关闭一条同参数的 pending 意向，避免它挂到过期
func (m *Matcher) matchExplicit(ctx context.Context, dep *domain.ConfirmedDeposit, partnerID string) (*domain.Attribution, error) {
	d := domain.Decision{
		TxHash:       dep.TxHash,
		PartnerID:    partnerID,
		Source:       domain.SourceExplicit,
		Amount:       dep.Amount,
		SharesAmount: dep.SharesAmount,
	}

	// 精确匹配：同 partner/vault/chain/receiver/amount 且在窗口内
	if intent := m.findExactIntent(ctx, dep, partnerID); intent != nil {
		d.IntentID = &intent.ID
	}

	att, err := m.writer.Commit(ctx, d)
	if errors.Is(err, domain.ErrClaimConflict) {
		// 意向被并发交易抢走了，显式归因不依赖意向，去掉链接重提
		metrics.ClaimConflictTotal.Inc()
		d.IntentID = nil
		return m.writer.Commit(ctx, d)
	}
	return att, err
}

// findExactIntent 查找可被显式归因顺带关闭的意向；查询失败只记日志不阻断
func (m *Matcher) findExactIntent(ctx context.Context, dep *domain.ConfirmedDeposit, partnerID string) *domain.DepositIntent {
	candidates, err := m.registry.FindCandidates(ctx, domain.CandidateQuery{
		VaultID:  dep.VaultID,
		ChainID:  dep.ChainID,
		Receiver: dep.Receiver,
		Amount:   dep.Amount,
		AsOf:     dep.ConfirmedAt,
	})
	if err != nil {
		logger.Warn(ctx, "candidate lookup failed on explicit path",
			zap.String("tx_hash", dep.TxHash), zap.Error(err))
		return nil
	}
	for _, c := range candidates {
		if c.PartnerID == partnerID && c.Amount.Equal(dep.Amount) {
			return c // created_at 升序，取最早的
		}
	}
	return nil
}

// matchInferred 推断路径：在登记簿里找候选、打分、认领
// 输掉认领竞争时重查一次换次优候选，再失败就放弃 ("暂不归因")
func (m *Matcher) matchInferred(ctx context.Context, dep *domain.ConfirmedDeposit) (*domain.Attribution, error) {
	const maxAttempts = 2 // 一次正常尝试 + 一次输掉竞争后的重试

	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidates, err := m.registry.FindCandidates(ctx, domain.CandidateQuery{
			VaultID:  dep.VaultID,
			ChainID:  dep.ChainID,
			Receiver: dep.Receiver,
			Amount:   dep.Amount,
			AsOf:     dep.ConfirmedAt,
		})
		if err != nil {
			return nil, err
		}

		sel, ok := m.policy.Select(candidates, dep.Amount, dep.ConfirmedAt)
		if !ok {
			// 没有候选：不写投机性的低置信记录，等 Sweeper 收口
			return nil, nil
		}

		if sel.Ambiguous {
			logger.Info(ctx, "ambiguous match, confidence capped",
				zap.String("tx_hash", dep.TxHash),
				zap.String("intent_id", sel.Winner.Intent.ID),
				zap.Int("eligible", sel.Eligible),
				zap.String("confidence", sel.Confidence.String()))
		}

		d := domain.Decision{
			TxHash:       dep.TxHash,
			IntentID:     &sel.Winner.Intent.ID,
			PartnerID:    sel.Winner.Intent.PartnerID,
			Source:       domain.SourceInferred,
			Confidence:   sel.Confidence,
			Amount:       dep.Amount,
			SharesAmount: dep.SharesAmount,
		}

		att, err := m.writer.Commit(ctx, d)
		if errors.Is(err, domain.ErrClaimConflict) {
			metrics.ClaimConflictTotal.Inc()
			logger.Warn(ctx, "lost intent claim race, re-querying",
				zap.String("tx_hash", dep.TxHash),
				zap.String("intent_id", sel.Winner.Intent.ID))
			continue
		}
		return att, err
	}

	// 两次都输掉：保持未归因，等下一次投递或 Sweeper
	return nil, nil
}
