package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"vaultmesh.com/internal/attribution/domain"
	"vaultmesh.com/internal/attribution/events"
	"vaultmesh.com/internal/attribution/matcher"
	"vaultmesh.com/pkg/logger"
	"vaultmesh.com/pkg/metrics"
	"vaultmesh.com/pkg/xerr"
)

// DefaultIntentTTL 调用方不指定过期时间时的默认窗口
const DefaultIntentTTL = 15 * time.Minute

// Service 归因子系统的对外门面：
// 申报通道 (合作方) 和摄入通道 (indexer) 都从这里进来，
// 查询面 (聚合API、合作方报表) 也从这里读。
type Service struct {
	registry  domain.IntentRegistry
	store     domain.AttributionStore
	ledger    domain.DepositLedger
	matcher   *matcher.Matcher
	broker    events.Publisher
	intentTTL time.Duration
	now       func() time.Time

	// 防止同一个合作方的聚合查询并发打爆 DB
	sf singleflight.Group
}

func New(registry domain.IntentRegistry, store domain.AttributionStore, ledger domain.DepositLedger,
	m *matcher.Matcher, broker events.Publisher) *Service {
	return &Service{
		registry:  registry,
		store:     store,
		ledger:    ledger,
		matcher:   m,
		broker:    broker,
		intentTTL: DefaultIntentTTL,
		now:       time.Now,
	}
}

// WithIntentTTL 覆盖默认申报窗口
func (s *Service) WithIntentTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.intentTTL = ttl
	}
	return s
}

// WithClock 测试用：替换时钟
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ---------------------------------------------------------
// 申报通道
// ---------------------------------------------------------

// DeclareRequest 合作方的充值意向申报
type DeclareRequest struct {
	ID        string // 可空，空则生成 din_xxx
	PartnerID string
	VaultID   string
	ChainID   int64
	Receiver  string
	Amount    decimal.Decimal
	ExpiresAt time.Time // 零值 = now + DefaultIntentTTL
	Metadata  map[string]string
}

// DeclareIntent 登记一条 pending 意向
func (s *Service) DeclareIntent(ctx context.Context, req DeclareRequest) (*domain.DepositIntent, error) {
	if req.PartnerID == "" || req.VaultID == "" {
		return nil, xerr.New(xerr.RequestParamsError, "partner_id and vault_id are required")
	}
	if strings.TrimSpace(req.Receiver) == "" {
		return nil, xerr.New(xerr.RequestParamsError, "receiver is required")
	}
	if req.Amount.Sign() <= 0 {
		return nil, xerr.New(xerr.RequestParamsError, "amount must be strictly positive")
	}

	now := s.now()
	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.intentTTL)
	}

	id := req.ID
	if id == "" {
		id = "din_" + uuid.NewString()
	}

	intent := &domain.DepositIntent{
		ID:        id,
		PartnerID: req.PartnerID,
		VaultID:   req.VaultID,
		ChainID:   req.ChainID,
		Receiver:  normalizeAddress(req.Receiver),
		Amount:    req.Amount,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Metadata:  req.Metadata,
		Status:    domain.IntentStatusPending,
	}

	if err := s.registry.Declare(ctx, intent); err != nil {
		return nil, err
	}

	metrics.IntentsCreatedTotal.WithLabelValues(
		intent.VaultID, strconv.FormatInt(intent.ChainID, 10), intent.PartnerID).Inc()
	logger.Info(ctx, "deposit intent created",
		zap.String("intent_id", intent.ID),
		zap.String("vault_id", intent.VaultID),
		zap.String("partner_id", intent.PartnerID),
		zap.Int64("chain_id", intent.ChainID),
		zap.String("receiver", intent.Receiver))
	return intent, nil
}

// ---------------------------------------------------------
// 摄入通道 (indexer feed)
// ---------------------------------------------------------

// IngestDeposit 处理一笔链上已确认充值
// at-least-once 投递：重复的 tx_hash 幂等吸收，不报错
func (s *Service) IngestDeposit(ctx context.Context, dep *domain.ConfirmedDeposit) error {
	if dep.TxHash == "" {
		return xerr.New(xerr.RequestParamsError, "tx_hash is required")
	}
	if strings.TrimSpace(dep.Receiver) == "" {
		return xerr.New(xerr.RequestParamsError, "receiver is required")
	}
	if dep.Amount.Sign() <= 0 {
		return xerr.New(xerr.RequestParamsError, "amount must be strictly positive")
	}
	dep.Receiver = normalizeAddress(dep.Receiver)

	// 快速幂等检查：已有归因直接跳过，连台账都不用写
	if existing, err := s.store.GetByTxHash(ctx, dep.TxHash); err != nil {
		return err
	} else if existing != nil {
		logger.Debug(ctx, "deposit already attributed, skip",
			zap.String("tx_hash", dep.TxHash))
		return nil
	}

	// 留痕：没归因的交易要能被孤儿扫描找到
	if err := s.ledger.RecordObserved(ctx, dep); err != nil {
		return err
	}

	att, err := s.matcher.Match(ctx, dep)
	if err != nil {
		return err
	}
	if att == nil {
		// NoCandidate：合法的 "暂不归因"，等意向到来或 Sweeper 收口
		logger.Debug(ctx, "deposit unattributed for now",
			zap.String("tx_hash", dep.TxHash))
		return nil
	}

	if att.IntentID != nil {
		metrics.IntentsMatchedTotal.WithLabelValues(
			dep.VaultID, strconv.FormatInt(dep.ChainID, 10), att.PartnerID).Inc()
	}
	logger.Info(ctx, "deposit attributed",
		zap.String("tx_hash", att.TxHash),
		zap.String("source", string(att.Source)),
		zap.String("partner_id", att.PartnerID),
		zap.String("confidence", att.Confidence.String()))

	s.publish(ctx, att)
	return nil
}

// publish 事件失败只记日志，不影响主流程 (归因已落库)
func (s *Service) publish(ctx context.Context, att *domain.Attribution) {
	if s.broker == nil {
		return
	}
	if err := events.PublishAttribution(ctx, s.broker, att); err != nil {
		logger.Warn(ctx, "publish attribution event failed",
			zap.String("tx_hash", att.TxHash), zap.Error(err))
	}
}

// ---------------------------------------------------------
// 查询面
// ---------------------------------------------------------

// IntentView 意向及其归因结果 (如果已匹配)
type IntentView struct {
	Intent        *domain.DepositIntent
	MatchedTxHash string
	Confidence    *decimal.Decimal
}

// GetIntent 意向状态查询，已匹配时带上交易hash和置信度
func (s *Service) GetIntent(ctx context.Context, intentID string) (*IntentView, error) {
	intent, err := s.registry.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}

	view := &IntentView{Intent: intent}
	att, err := s.store.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if att != nil {
		view.MatchedTxHash = att.TxHash
		c := att.Confidence
		view.Confidence = &c
	}
	return view, nil
}

// GetAttribution 按交易hash查归因 (1:1)；不存在返回 nil, nil
func (s *Service) GetAttribution(ctx context.Context, txHash string) (*domain.Attribution, error) {
	return s.store.GetByTxHash(ctx, txHash)
}

// ListPartnerAttributions 合作方维度查询 (1:many)
func (s *Service) ListPartnerAttributions(ctx context.Context, partnerID string, limit, offset int) ([]*domain.Attribution, error) {
	return s.store.ListByPartner(ctx, partnerID, limit, offset)
}

// PartnerSummary 合作方聚合，singleflight 合并并发请求
func (s *Service) PartnerSummary(ctx context.Context, partnerID string) (*domain.PartnerSummary, error) {
	v, err, _ := s.sf.Do("summary:"+partnerID, func() (any, error) {
		return s.store.SummarizeByPartner(ctx, partnerID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.PartnerSummary), nil
}

// ---------------------------------------------------------
// 运营通道
// ---------------------------------------------------------

// MarkIntentOrphan 运营手动作废一条还没到期的意向
// 不走自动扫描——orphan 只能由人触发
func (s *Service) MarkIntentOrphan(ctx context.Context, intentID string) error {
	if err := s.registry.MarkOrphan(ctx, intentID); err != nil {
		return err
	}
	logger.Warn(ctx, "intent marked orphan by operator",
		zap.String("intent_id", intentID))
	return nil
}

// normalizeAddress 地址统一小写，避免大小写混用导致匹配不上
func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
