package events

import (
	"context"
	"strings"

	"github.com/nats-io/nats.go"
)

// NatsBroker 跨服务事件分发，线上实现
type NatsBroker struct {
	nc *nats.Conn
}

func NewNatsBroker(url string, opts ...nats.Option) (*NatsBroker, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBroker{nc: nc}, nil
}

func (b *NatsBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.nc.Publish(topicToSubject(topic), payload)
}

func (b *NatsBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	// 回调在 NATS 的分发协程里跑，出口复用带 closed 保护的 subscriber：
	// Unsubscribe 后在途的回调不会写已关闭的通道
	out := &subscriber{ch: make(chan Message, 8192)}

	nsubs := make([]*nats.Subscription, 0, len(topics))
	for _, t := range topics {
		ns, err := b.nc.Subscribe(topicToSubject(t), func(m *nats.Msg) {
			out.send(Message{Topic: subjectToTopic(m.Subject), Payload: m.Data})
		})
		if err != nil {
			for _, ss := range nsubs {
				_ = ss.Unsubscribe()
			}
			return nil, err
		}
		nsubs = append(nsubs, ns)
	}

	// 监听 ctx.Done 清理
	go func() {
		<-ctx.Done()
		for _, ns := range nsubs {
			_ = ns.Unsubscribe()
		}
		out.close()
	}()

	return out.ch, nil
}

func (b *NatsBroker) Close() error {
	if b.nc != nil {
		b.nc.Close()
	}
	return nil
}

func topicToSubject(topic string) string { return strings.ReplaceAll(topic, ":", ".") }
func subjectToTopic(subj string) string  { return strings.ReplaceAll(subj, ".", ":") }
