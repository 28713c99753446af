package events

import (
	"context"
	"sync"
)

// subscriber 一个订阅者的出口通道
// send/close 互斥：关停窗口内的 Publish 只丢消息，不会写已关闭的通道
type subscriber struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

func (s *subscriber) send(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// at-most-once：慢订阅者直接丢
	select {
	case s.ch <- msg:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// MemBroker 进程内广播，测试和单机联调用
type MemBroker struct {
	mu   sync.RWMutex
	subs map[string][]*subscriber
}

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string][]*subscriber)}
}

func (b *MemBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	list := b.subs[topic]
	b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, s := range list {
		s.send(msg)
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	// 申报 + 充值确认两条流共用一个通道，缓冲按主题数放大
	sub := &subscriber{ch: make(chan Message, 1024*(len(topics)+1))}

	b.mu.Lock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], sub)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(topics, sub)
		sub.close()
	}()

	return sub.ch, nil
}

// remove 从注册表摘掉订阅者；之后的 Publish 拿不到它，在途的被 closed 标记挡住
func (b *MemBroker) remove(topics []string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		list := b.subs[t]
		for i, s := range list {
			if s == sub {
				b.subs[t] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(b.subs[t]) == 0 {
			delete(b.subs, t)
		}
	}
}

func (b *MemBroker) Close() error { return nil }
