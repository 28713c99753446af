package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"vaultmesh.com/internal/attribution/domain"
)

// memTxKey 标记 ctx 已在事务内，嵌套调用跳过加锁
type memTxKey struct{}

type observedDeposit struct {
	dep       domain.ConfirmedDeposit
	firstSeen time.Time
}

// Memory 内存版登记簿，同时实现意向/归因/台账/事务四个接口
// 单进程内用一把互斥锁保证 TryClaim 的原子性；事务用快照回滚。
// 线上跑 MySQL (persistence 包)，这个实现用于测试和本地联调。
type Memory struct {
	mu sync.Mutex

	intents     map[string]domain.DepositIntent
	intentSeq   map[string]int64 // 申报顺序，created_at 相同时稳定排序
	seq         int64
	atts        map[string]domain.Attribution // by tx_hash
	attByIntent map[string]string             // intent_id -> tx_hash
	observed    map[string]observedDeposit    // by tx_hash
}

var (
	_ domain.IntentRegistry   = (*Memory)(nil)
	_ domain.AttributionStore = (*Memory)(nil)
	_ domain.DepositLedger    = (*Memory)(nil)
	_ domain.TxRunner         = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		intents:     make(map[string]domain.DepositIntent),
		intentSeq:   make(map[string]int64),
		atts:        make(map[string]domain.Attribution),
		attByIntent: make(map[string]string),
		observed:    make(map[string]observedDeposit),
	}
}

// lock 加锁；已在事务内则跳过 (事务持有锁)
func (m *Memory) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// ---------------------------------------------------------
// TxRunner
// ---------------------------------------------------------

// Transaction 快照-回滚式事务：fn 报错时恢复全部状态
func (m *Memory) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapIntents := make(map[string]domain.DepositIntent, len(m.intents))
	for k, v := range m.intents {
		snapIntents[k] = v
	}
	snapAtts := make(map[string]domain.Attribution, len(m.atts))
	for k, v := range m.atts {
		snapAtts[k] = v
	}
	snapByIntent := make(map[string]string, len(m.attByIntent))
	for k, v := range m.attByIntent {
		snapByIntent[k] = v
	}

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.intents = snapIntents
		m.atts = snapAtts
		m.attByIntent = snapByIntent
		return err
	}
	return nil
}

// ---------------------------------------------------------
// IntentRegistry
// ---------------------------------------------------------

func (m *Memory) Declare(ctx context.Context, intent *domain.DepositIntent) error {
	defer m.lock(ctx)()

	if !intent.ExpiresAt.After(intent.CreatedAt) {
		return domain.ErrInvalidWindow
	}
	if _, exists := m.intents[intent.ID]; exists {
		return domain.ErrDuplicateIntent
	}

	stored := *intent
	stored.Status = domain.IntentStatusPending
	m.intents[intent.ID] = stored
	m.seq++
	m.intentSeq[intent.ID] = m.seq
	return nil
}

func (m *Memory) FindCandidates(ctx context.Context, q domain.CandidateQuery) ([]*domain.DepositIntent, error) {
	defer m.lock(ctx)()

	var out []*domain.DepositIntent
	for id := range m.intents {
		it := m.intents[id]
		if it.Status != domain.IntentStatusPending {
			continue
		}
		if it.VaultID != q.VaultID || it.ChainID != q.ChainID || it.Receiver != q.Receiver {
			continue
		}
		if !it.ExpiresAt.After(q.AsOf) {
			continue
		}
		c := it
		out = append(out, &c)
	}

	// created_at 升序，先到先得；同一时刻按申报顺序
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return m.intentSeq[out[i].ID] < m.intentSeq[out[j].ID]
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) TryClaim(ctx context.Context, intentID string) (bool, error) {
	defer m.lock(ctx)()

	it, exists := m.intents[intentID]
	if !exists || it.Status != domain.IntentStatusPending {
		return false, nil
	}
	it.Status = domain.IntentStatusMatched
	m.intents[intentID] = it
	return true, nil
}

func (m *Memory) Expire(ctx context.Context, intentID string) error {
	return m.transition(ctx, intentID, domain.IntentStatusExpired)
}

func (m *Memory) MarkOrphan(ctx context.Context, intentID string) error {
	return m.transition(ctx, intentID, domain.IntentStatusOrphan)
}

// transition 非 pending 时静默 no-op
func (m *Memory) transition(ctx context.Context, intentID string, to domain.IntentStatus) error {
	defer m.lock(ctx)()

	it, exists := m.intents[intentID]
	if !exists || it.Status != domain.IntentStatusPending {
		return nil
	}
	it.Status = to
	m.intents[intentID] = it
	return nil
}

func (m *Memory) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	defer m.lock(ctx)()

	var n int64
	for id := range m.intents {
		it := m.intents[id]
		if it.Status == domain.IntentStatusPending && !it.ExpiresAt.After(now) {
			it.Status = domain.IntentStatusExpired
			m.intents[id] = it
			n++
		}
	}
	return n, nil
}

func (m *Memory) Get(ctx context.Context, intentID string) (*domain.DepositIntent, error) {
	defer m.lock(ctx)()

	it, exists := m.intents[intentID]
	if !exists {
		return nil, domain.ErrIntentNotFound
	}
	c := it
	return &c, nil
}

// ---------------------------------------------------------
// AttributionStore
// ---------------------------------------------------------

func (m *Memory) Create(ctx context.Context, att *domain.Attribution) error {
	defer m.lock(ctx)()

	if _, exists := m.atts[att.TxHash]; exists {
		return domain.ErrDuplicateAttribution
	}
	m.atts[att.TxHash] = *att
	if att.IntentID != nil {
		m.attByIntent[*att.IntentID] = att.TxHash
	}
	return nil
}

func (m *Memory) GetByTxHash(ctx context.Context, txHash string) (*domain.Attribution, error) {
	defer m.lock(ctx)()

	att, exists := m.atts[txHash]
	if !exists {
		return nil, nil
	}
	c := att
	return &c, nil
}

func (m *Memory) GetByIntentID(ctx context.Context, intentID string) (*domain.Attribution, error) {
	defer m.lock(ctx)()

	txHash, exists := m.attByIntent[intentID]
	if !exists {
		return nil, nil
	}
	att := m.atts[txHash]
	c := att
	return &c, nil
}

func (m *Memory) ListByPartner(ctx context.Context, partnerID string, limit, offset int) ([]*domain.Attribution, error) {
	defer m.lock(ctx)()

	var all []*domain.Attribution
	for k := range m.atts {
		att := m.atts[k]
		if att.PartnerID != partnerID {
			continue
		}
		c := att
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *Memory) SummarizeByPartner(ctx context.Context, partnerID string) (*domain.PartnerSummary, error) {
	defer m.lock(ctx)()

	sum := &domain.PartnerSummary{PartnerID: partnerID}
	for k := range m.atts {
		att := m.atts[k]
		if att.PartnerID != partnerID {
			continue
		}
		sum.Count++
		sum.TotalAmount = sum.TotalAmount.Add(att.Amount)
		sum.TotalShares = sum.TotalShares.Add(att.SharesAmount)
	}
	return sum, nil
}

func (m *Memory) DetachIntent(ctx context.Context, intentID string) error {
	defer m.lock(ctx)()

	txHash, exists := m.attByIntent[intentID]
	if !exists {
		return nil
	}
	att := m.atts[txHash]
	att.IntentID = nil
	m.atts[txHash] = att
	delete(m.attByIntent, intentID)
	return nil
}

// ---------------------------------------------------------
// DepositLedger
// ---------------------------------------------------------

func (m *Memory) RecordObserved(ctx context.Context, dep *domain.ConfirmedDeposit) error {
	defer m.lock(ctx)()

	if _, exists := m.observed[dep.TxHash]; exists {
		return nil // 保留最早的观察时间
	}
	m.observed[dep.TxHash] = observedDeposit{dep: *dep, firstSeen: time.Now()}
	return nil
}

func (m *Memory) FindUnattributedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.ConfirmedDeposit, error) {
	defer m.lock(ctx)()

	var out []*domain.ConfirmedDeposit
	for hash := range m.observed {
		ob := m.observed[hash]
		if ob.firstSeen.After(cutoff) {
			continue
		}
		if _, attributed := m.atts[hash]; attributed {
			continue
		}
		c := ob.dep
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return m.observed[out[i].TxHash].firstSeen.Before(m.observed[out[j].TxHash].firstSeen)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
