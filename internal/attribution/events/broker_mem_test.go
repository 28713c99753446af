package events_test

import (
	"context"
	"testing"
	"time"

	"vaultmesh.com/internal/attribution/events"
)

func TestMemBrokerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := events.NewMemBroker()
	ch, err := b.Subscribe(ctx, []string{events.TopicDepositConfirmed})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish(ctx, events.TopicDepositConfirmed, []byte(`{"tx_hash":"0x1"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// 没订阅的主题直接丢，不报错
	if err := b.Publish(ctx, events.TopicIntentDeclared, []byte(`{}`)); err != nil {
		t.Fatalf("publish unsubscribed: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Topic != events.TopicDepositConfirmed {
			t.Fatalf("topic = %s", msg.Topic)
		}
		if string(msg.Payload) != `{"tx_hash":"0x1"}` {
			t.Fatalf("payload = %s", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	// ctx 取消后订阅通道关闭
	cancel()
	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestMemBrokerPublishAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := events.NewMemBroker()
	ch, err := b.Subscribe(ctx, []string{events.TopicAttributionCreated})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cancel()
	// 等订阅通道关闭，确认清理已经跑完
	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// 关停窗口内的发布只能丢消息，不能写已关闭的通道
	if err := b.Publish(ctx, events.TopicAttributionCreated, []byte(`{}`)); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
}

func TestMemBrokerConcurrentCancel(t *testing.T) {
	b := events.NewMemBroker()
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		if _, err := b.Subscribe(ctx, []string{events.TopicDepositConfirmed}); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 100; j++ {
				_ = b.Publish(ctx, events.TopicDepositConfirmed, []byte(`{}`))
			}
		}()
		cancel()
		<-done
	}
}
