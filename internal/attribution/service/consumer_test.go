package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vaultmesh.com/internal/attribution/domain"
	"vaultmesh.com/internal/attribution/events"
	"vaultmesh.com/internal/attribution/service"
)

func TestConsumerEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, _ := newService(t)
	broker := events.NewMemBroker()
	consumer := service.NewConsumer(broker, svc)
	go func() { _ = consumer.Start(ctx) }()

	// 等订阅建立 (MemBroker 注册是同步的，但 goroutine 要先跑起来)
	time.Sleep(50 * time.Millisecond)

	declared, err := json.Marshal(events.IntentDeclaredEvent{
		ID:        "din_consumer",
		PartnerID: "p1",
		VaultID:   "v1",
		ChainID:   1,
		Receiver:  "0xrecv",
		Amount:    "100",
	})
	require.NoError(t, err)
	require.NoError(t, broker.Publish(ctx, events.TopicIntentDeclared, declared))

	require.Eventually(t, func() bool {
		view, err := svc.GetIntent(ctx, "din_consumer")
		return err == nil && view.Intent.Status == domain.IntentStatusPending
	}, 2*time.Second, 10*time.Millisecond, "declared intent not registered")

	confirmed, err := json.Marshal(events.DepositConfirmedEvent{
		TxHash:      "0xconsumer",
		VaultID:     "v1",
		ChainID:     1,
		Receiver:    "0xrecv",
		Amount:      "100",
		Shares:      "95",
		ConfirmedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, broker.Publish(ctx, events.TopicDepositConfirmed, confirmed))

	require.Eventually(t, func() bool {
		att, err := svc.GetAttribution(ctx, "0xconsumer")
		return err == nil && att != nil
	}, 2*time.Second, 10*time.Millisecond, "deposit not attributed")

	att, err := svc.GetAttribution(ctx, "0xconsumer")
	require.NoError(t, err)
	require.NotNil(t, att.IntentID)
	assert.Equal(t, "din_consumer", *att.IntentID)

	// 坏消息只记日志，消费循环不退出
	require.NoError(t, broker.Publish(ctx, events.TopicDepositConfirmed, []byte("not json")))
	time.Sleep(50 * time.Millisecond)
	att, err = svc.GetAttribution(ctx, "0xconsumer")
	require.NoError(t, err)
	assert.NotNil(t, att)
}
