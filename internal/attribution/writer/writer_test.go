package writer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"vaultmesh.com/internal/attribution/domain"
	"vaultmesh.com/internal/attribution/registry"
	"vaultmesh.com/internal/attribution/writer"
	"vaultmesh.com/pkg/logger"
)

func newWriter(t *testing.T) (*writer.Writer, *registry.Memory) {
	t.Helper()
	logger.Init("test", "info")
	mem := registry.NewMemory()
	return writer.New(mem, mem, mem), mem
}

func declare(t *testing.T, mem *registry.Memory, id string) {
	t.Helper()
	now := time.Now()
	err := mem.Declare(context.Background(), &domain.DepositIntent{
		ID:        id,
		PartnerID: "p1",
		VaultID:   "v1",
		ChainID:   1,
		Receiver:  "0xrecv",
		Amount:    decimal.NewFromInt(100),
		CreatedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
	})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
}

func TestCommitClaimsIntent(t *testing.T) {
	ctx := context.Background()
	w, mem := newWriter(t)
	declare(t, mem, "din_1")

	intentID := "din_1"
	att, err := w.Commit(ctx, domain.Decision{
		TxHash:     "0xaaa",
		IntentID:   &intentID,
		PartnerID:  "p1",
		Source:     domain.SourceInferred,
		Confidence: decimal.NewFromFloat(0.9),
		Amount:     decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if att == nil || att.TxHash != "0xaaa" {
		t.Fatalf("unexpected attribution: %+v", att)
	}

	it, _ := mem.Get(ctx, "din_1")
	if it.Status != domain.IntentStatusMatched {
		t.Fatalf("status = %s, claim and insert must land together", it.Status)
	}
}

func TestCommitClaimConflict(t *testing.T) {
	ctx := context.Background()
	w, mem := newWriter(t)
	declare(t, mem, "din_1")
	if ok, _ := mem.TryClaim(ctx, "din_1"); !ok {
		t.Fatal("setup claim should succeed")
	}

	intentID := "din_1"
	_, err := w.Commit(ctx, domain.Decision{
		TxHash:   "0xbbb",
		IntentID: &intentID,
		Source:   domain.SourceInferred,
	})
	if !errors.Is(err, domain.ErrClaimConflict) {
		t.Fatalf("expected ErrClaimConflict, got %v", err)
	}
	// 输掉认领时不能留下归因行
	if got, _ := mem.GetByTxHash(ctx, "0xbbb"); got != nil {
		t.Fatalf("no attribution must be written on conflict: %+v", got)
	}
}

func TestCommitDuplicateAbsorbed(t *testing.T) {
	ctx := context.Background()
	w, _ := newWriter(t)

	d := domain.Decision{
		TxHash:     "0xccc",
		PartnerID:  "p1",
		Source:     domain.SourceInferred,
		Confidence: decimal.NewFromFloat(0.5),
		Amount:     decimal.NewFromInt(100),
	}
	if _, err := w.Commit(ctx, d); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// 重复投递：幂等吸收，(nil, nil)
	att, err := w.Commit(ctx, d)
	if err != nil {
		t.Fatalf("duplicate commit: %v", err)
	}
	if att != nil {
		t.Fatalf("duplicate must be absorbed, got %+v", att)
	}
}

func TestCommitDuplicateRollsBackClaim(t *testing.T) {
	ctx := context.Background()
	w, mem := newWriter(t)
	declare(t, mem, "din_1")

	// 交易已有归因
	if _, err := w.Commit(ctx, domain.Decision{
		TxHash: "0xddd", PartnerID: "p1", Source: domain.SourceExplicit,
	}); err != nil {
		t.Fatalf("setup commit: %v", err)
	}

	// 同 tx 带意向重提：插入撞重复，意向认领必须回滚
	intentID := "din_1"
	att, err := w.Commit(ctx, domain.Decision{
		TxHash:   "0xddd",
		IntentID: &intentID,
		Source:   domain.SourceInferred,
	})
	if err != nil || att != nil {
		t.Fatalf("duplicate must be absorbed: att=%+v err=%v", att, err)
	}

	it, _ := mem.Get(ctx, "din_1")
	if it.Status != domain.IntentStatusPending {
		t.Fatalf("status = %s, claim must be rolled back with the insert", it.Status)
	}
}

func TestConfidenceInvariant(t *testing.T) {
	ctx := context.Background()
	w, _ := newWriter(t)

	// explicit 恒为 1.0，不看决定里带的值
	att, err := w.Commit(ctx, domain.Decision{
		TxHash:     "0xeee",
		PartnerID:  "p1",
		Source:     domain.SourceExplicit,
		Confidence: decimal.NewFromFloat(0.3),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !att.Confidence.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("explicit confidence = %s, want 1", att.Confidence)
	}

	// inferred 截断到 0.999
	att, err = w.Commit(ctx, domain.Decision{
		TxHash:     "0xfff",
		PartnerID:  "p1",
		Source:     domain.SourceInferred,
		Confidence: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !att.Confidence.Equal(decimal.NewFromFloat(0.999)) {
		t.Fatalf("inferred confidence = %s, want 0.999", att.Confidence)
	}

	// 负值截断到 0
	att, err = w.Commit(ctx, domain.Decision{
		TxHash:     "0x111",
		Source:     domain.SourceInferred,
		Confidence: decimal.NewFromInt(-1),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !att.Confidence.Equal(decimal.Zero) {
		t.Fatalf("confidence = %s, want 0", att.Confidence)
	}
}
