package service

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"vaultmesh.com/internal/attribution/domain"
	"vaultmesh.com/internal/attribution/events"
	"vaultmesh.com/pkg/logger"
)

// Consumer 入站事件消费循环：
// 申报事件 -> DeclareIntent，充值确认事件 -> IngestDeposit
// 单条解析/处理失败只记日志，不中断循环 (at-least-once，下次投递还会来)
type Consumer struct {
	broker events.Broker
	svc    *Service
}

func NewConsumer(broker events.Broker, svc *Service) *Consumer {
	return &Consumer{broker: broker, svc: svc}
}

// Start 阻塞消费直到 ctx 取消
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.broker.Subscribe(ctx, []string{
		events.TopicIntentDeclared,
		events.TopicDepositConfirmed,
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "ingest consumer started")
	for msg := range ch {
		switch msg.Topic {
		case events.TopicIntentDeclared:
			c.handleDeclare(ctx, msg.Payload)
		case events.TopicDepositConfirmed:
			c.handleDeposit(ctx, msg.Payload)
		}
	}
	logger.Info(ctx, "ingest consumer stopped")
	return nil
}

func (c *Consumer) handleDeclare(ctx context.Context, payload []byte) {
	var ev events.IntentDeclaredEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Error(ctx, "decode intent event failed", zap.Error(err))
		return
	}

	amount, err := decimal.NewFromString(ev.Amount)
	if err != nil {
		logger.Error(ctx, "invalid intent amount",
			zap.String("amount", ev.Amount), zap.Error(err))
		return
	}

	if _, err := c.svc.DeclareIntent(ctx, DeclareRequest{
		ID:        ev.ID,
		PartnerID: ev.PartnerID,
		VaultID:   ev.VaultID,
		ChainID:   ev.ChainID,
		Receiver:  ev.Receiver,
		Amount:    amount,
		ExpiresAt: ev.ExpiresAt,
		Metadata:  ev.Metadata,
	}); err != nil {
		logger.Error(ctx, "declare intent failed",
			zap.String("intent_id", ev.ID), zap.Error(err))
	}
}

func (c *Consumer) handleDeposit(ctx context.Context, payload []byte) {
	var ev events.DepositConfirmedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Error(ctx, "decode deposit event failed", zap.Error(err))
		return
	}

	amount, err := decimal.NewFromString(ev.Amount)
	if err != nil {
		logger.Error(ctx, "invalid deposit amount",
			zap.String("tx_hash", ev.TxHash), zap.Error(err))
		return
	}
	shares := decimal.Zero
	if ev.Shares != "" {
		if shares, err = decimal.NewFromString(ev.Shares); err != nil {
			logger.Error(ctx, "invalid deposit shares",
				zap.String("tx_hash", ev.TxHash), zap.Error(err))
			return
		}
	}

	if err := c.svc.IngestDeposit(ctx, &domain.ConfirmedDeposit{
		TxHash:       ev.TxHash,
		VaultID:      ev.VaultID,
		ChainID:      ev.ChainID,
		Receiver:     ev.Receiver,
		Amount:       amount,
		SharesAmount: shares,
		ConfirmedAt:  ev.ConfirmedAt,
		PartnerTag:   ev.PartnerTag,
	}); err != nil {
		logger.Error(ctx, "ingest deposit failed",
			zap.String("tx_hash", ev.TxHash), zap.Error(err))
	}
}
