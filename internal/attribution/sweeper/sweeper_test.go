package sweeper_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"vaultmesh.com/internal/attribution/domain"
	"vaultmesh.com/internal/attribution/registry"
	"vaultmesh.com/internal/attribution/sweeper"
	"vaultmesh.com/internal/attribution/writer"
	"vaultmesh.com/pkg/logger"
)

func setup(t *testing.T, grace time.Duration) (*sweeper.Sweeper, *registry.Memory) {
	t.Helper()
	logger.Init("test", "info")
	mem := registry.NewMemory()
	w := writer.New(mem, mem, mem)
	return sweeper.New(sweeper.Config{Grace: grace}, mem, mem, w), mem
}

func TestSweepExpiresDueIntents(t *testing.T) {
	ctx := context.Background()
	s, mem := setup(t, time.Hour)
	now := time.Now()

	declare := func(id string, expiresAt time.Time) {
		err := mem.Declare(ctx, &domain.DepositIntent{
			ID:        id,
			PartnerID: "p1",
			VaultID:   "v1",
			ChainID:   1,
			Receiver:  "0xrecv",
			Amount:    decimal.NewFromInt(100),
			CreatedAt: now.Add(-30 * time.Minute),
			ExpiresAt: expiresAt,
		})
		if err != nil {
			t.Fatalf("declare %s: %v", id, err)
		}
	}
	declare("din_due", now.Add(-time.Minute))
	declare("din_live", now.Add(time.Hour))

	expired, closed, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 || closed != 0 {
		t.Fatalf("expired=%d closed=%d, want 1/0", expired, closed)
	}

	it, _ := mem.Get(ctx, "din_due")
	if it.Status != domain.IntentStatusExpired {
		t.Fatalf("status = %s, want expired", it.Status)
	}
	it, _ = mem.Get(ctx, "din_live")
	if it.Status != domain.IntentStatusPending {
		t.Fatalf("status = %s, want pending", it.Status)
	}

	// 重跑幂等
	expired, _, _ = s.SweepOnce(ctx)
	if expired != 0 {
		t.Fatalf("second run expired = %d, want 0", expired)
	}
}

func TestZeroGraceDefaulted(t *testing.T) {
	ctx := context.Background()
	// 配置漏填 grace 时不能变成 "立刻收口"
	s, mem := setup(t, 0)

	dep := &domain.ConfirmedDeposit{
		TxHash:      "0xfresh",
		VaultID:     "v1",
		ChainID:     1,
		Receiver:    "0xrecv",
		Amount:      decimal.NewFromInt(100),
		ConfirmedAt: time.Now(),
	}
	if err := mem.RecordObserved(ctx, dep); err != nil {
		t.Fatalf("record: %v", err)
	}

	_, closed, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if closed != 0 {
		t.Fatalf("closed = %d, fresh deposit must survive a sweep with default grace", closed)
	}
	if att, _ := mem.GetByTxHash(ctx, "0xfresh"); att != nil {
		t.Fatalf("terminal record written for a fresh deposit: %+v", att)
	}

	// 兜底的宽限期过了还是要能收口
	s.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	_, closed, err = s.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1 after the default grace elapsed", closed)
	}
}

func TestSweepClosesOrphanDeposits(t *testing.T) {
	ctx := context.Background()
	grace := time.Hour
	s, mem := setup(t, grace)

	dep := &domain.ConfirmedDeposit{
		TxHash:       "0xorphan",
		VaultID:      "v1",
		ChainID:      1,
		Receiver:     "0xrecv",
		Amount:       decimal.NewFromInt(100),
		SharesAmount: decimal.NewFromInt(95),
		ConfirmedAt:  time.Now(),
	}
	if err := mem.RecordObserved(ctx, dep); err != nil {
		t.Fatalf("record: %v", err)
	}

	// 宽限期内不收口
	_, closed, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if closed != 0 {
		t.Fatalf("closed = %d inside grace period, want 0", closed)
	}

	// 把时钟拨过宽限期
	s.WithClock(func() time.Time { return time.Now().Add(grace + time.Minute) })
	_, closed, err = s.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}

	att, _ := mem.GetByTxHash(ctx, "0xorphan")
	if att == nil {
		t.Fatal("expected a terminal attribution record")
	}
	if att.Source != domain.SourceInferred || !att.Confidence.Equal(decimal.Zero) {
		t.Fatalf("terminal record must be inferred/zero-confidence, got %s/%s", att.Source, att.Confidence)
	}
	if att.PartnerID != "" {
		t.Fatalf("orphan record must carry no partner, got %s", att.PartnerID)
	}
	if att.IntentID != nil {
		t.Fatalf("orphan record must carry no intent link, got %s", *att.IntentID)
	}
	if !att.Amount.Equal(dep.Amount) || !att.SharesAmount.Equal(dep.SharesAmount) {
		t.Fatalf("amounts must carry over: %s/%s", att.Amount, att.SharesAmount)
	}

	// 已收口的交易不会被再次计数
	_, closed, _ = s.SweepOnce(ctx)
	if closed != 0 {
		t.Fatalf("second run closed = %d, want 0", closed)
	}
}
