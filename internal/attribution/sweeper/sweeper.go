package sweeper

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"vaultmesh.com/internal/attribution/domain"
	"vaultmesh.com/internal/attribution/writer"
	"vaultmesh.com/pkg/logger"
	"vaultmesh.com/pkg/metrics"
	"vaultmesh.com/pkg/xredis"
)

type Config struct {
	Interval  time.Duration // 扫描间隔
	Grace     time.Duration // 观察到交易后多久没归因算孤儿
	BatchSize int           // 单次孤儿扫描的上限
	LockKey   string        // 多实例部署时的主节点锁，空串 = 不抢锁
	LockTTL   time.Duration
}

// Sweeper 后台收口进程：
// 1) 过期 TTL 到点的 pending 意向
// 2) 给超过宽限期仍未归因的交易写零置信度终态记录，
//    保证每笔已确认交易最终恰好落在一个归因终态上
// 每轮都是有限批次、幂等，可按任意调度重跑。
type Sweeper struct {
	cfg      Config
	registry domain.IntentRegistry
	ledger   domain.DepositLedger
	writer   *writer.Writer
	lock     *xredis.LeaderLock // 可选
	now      func() time.Time
}

func New(cfg Config, registry domain.IntentRegistry, ledger domain.DepositLedger, w *writer.Writer) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	// 零宽限期会把刚观察到的交易立刻打成孤儿终态，必须兜底
	if cfg.Grace <= 0 {
		cfg.Grace = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	return &Sweeper{
		cfg:      cfg,
		registry: registry,
		ledger:   ledger,
		writer:   w,
		now:      time.Now,
	}
}

// WithLock 多实例部署时启用主节点锁
func (s *Sweeper) WithLock(lock *xredis.LeaderLock) *Sweeper {
	s.lock = lock
	return s
}

// WithClock 测试用：替换时钟
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Start 定时循环，ctx 取消后退出
func (s *Sweeper) Start(ctx context.Context) {
	logger.Info(ctx, "sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("grace", s.cfg.Grace))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "sweeper stopped")
			return
		case <-ticker.C:
			if s.lock != nil && s.cfg.LockKey != "" {
				if !s.lock.TryAcquire(ctx, s.cfg.LockKey, s.cfg.LockTTL) {
					continue // 别的实例在扫
				}
			}
			if _, _, err := s.SweepOnce(ctx); err != nil {
				logger.Error(ctx, "sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce 跑一轮，返回 (过期意向数, 收口交易数)
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, int, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	now := s.now()

	// 1. 过期到点的 pending 意向
	expired, err := s.registry.ExpireDue(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	if expired > 0 {
		metrics.IntentsExpiredTotal.Add(float64(expired))
		logger.Info(ctx, "intents expired", zap.Int64("count", expired))
	}

	// 2. 孤儿交易收口
	closed, err := s.sweepOrphans(ctx, now)
	if err != nil {
		return expired, closed, err
	}

	return expired, closed, nil
}

// sweepOrphans 给超期未归因的交易写零置信度终态记录
func (s *Sweeper) sweepOrphans(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.Grace)
	deposits, err := s.ledger.FindUnattributedBefore(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, dep := range deposits {
		att, err := s.writer.Commit(ctx, domain.Decision{
			TxHash:       dep.TxHash,
			Source:       domain.SourceInferred,
			Confidence:   decimal.Zero,
			Amount:       dep.Amount,
			SharesAmount: dep.SharesAmount,
		})
		if err != nil {
			// 单条失败不阻断整轮，下轮会再扫到
			logger.Error(ctx, "close orphan deposit failed",
				zap.String("tx_hash", dep.TxHash), zap.Error(err))
			continue
		}
		if att != nil {
			closed++
			metrics.DepositsUnattributedTotal.Inc()
		}
	}

	if closed > 0 {
		logger.Info(ctx, "orphan deposits closed", zap.Int("count", closed))
	}
	return closed, nil
}
