package events

import (
	"context"
	"encoding/json"
	"time"

	"vaultmesh.com/internal/attribution/domain"
)

// 事件主题
const (
	// TopicIntentDeclared 合作方申报通道的入站事件
	TopicIntentDeclared = "deposit:intent:declared"
	// TopicDepositConfirmed indexer 喂入的已确认充值
	TopicDepositConfirmed = "deposit:confirmed"
	// TopicAttributionCreated 归因落库后的出站事件
	TopicAttributionCreated = "attribution:created"
)

type Message struct {
	Topic   string
	Payload []byte
}

// Publisher 只需要发布能力的一侧 (service 只依赖这个)
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type Broker interface {
	Publisher
	// 订阅
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	// 关闭
	Close() error
}

// IntentDeclaredEvent 申报通道的线格式
// 金额用十进制字符串，避免浮点精度问题
type IntentDeclaredEvent struct {
	ID        string            `json:"id,omitempty"`
	PartnerID string            `json:"partner_id"`
	VaultID   string            `json:"vault_id"`
	ChainID   int64             `json:"chain_id"`
	Receiver  string            `json:"receiver"`
	Amount    string            `json:"amount"`
	ExpiresAt time.Time         `json:"expires_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// DepositConfirmedEvent indexer 投递的线格式 (at-least-once)
type DepositConfirmedEvent struct {
	TxHash      string    `json:"tx_hash"`
	VaultID     string    `json:"vault_id"`
	ChainID     int64     `json:"chain_id"`
	Receiver    string    `json:"receiver"`
	Amount      string    `json:"amount"`
	Shares      string    `json:"shares"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	PartnerTag  string    `json:"partner_tag,omitempty"`
}

// AttributionEvent 下游 (聚合API、合作方报表) 消费的归因事件
type AttributionEvent struct {
	TxHash     string    `json:"tx_hash"`
	IntentID   string    `json:"intent_id,omitempty"`
	PartnerID  string    `json:"partner_id,omitempty"`
	Source     string    `json:"source"`
	Confidence string    `json:"confidence"`
	Amount     string    `json:"amount"`
	Shares     string    `json:"shares"`
	CreatedAt  time.Time `json:"created_at"`
}

// PublishAttribution 把归因记录转成事件发出去
func PublishAttribution(ctx context.Context, b Publisher, att *domain.Attribution) error {
	ev := AttributionEvent{
		TxHash:     att.TxHash,
		PartnerID:  att.PartnerID,
		Source:     string(att.Source),
		Confidence: att.Confidence.String(),
		Amount:     att.Amount.String(),
		Shares:     att.SharesAmount.String(),
		CreatedAt:  att.CreatedAt,
	}
	if att.IntentID != nil {
		ev.IntentID = *att.IntentID
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.Publish(ctx, TopicAttributionCreated, payload)
}
