package matcher_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"vaultmesh.com/internal/attribution/domain"
	"vaultmesh.com/internal/attribution/matcher"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func intent(id string, amount float64, createdAt time.Time, window time.Duration) *domain.DepositIntent {
	return &domain.DepositIntent{
		ID:        id,
		PartnerID: "p1",
		VaultID:   "v1",
		ChainID:   1,
		Receiver:  "0xrecv",
		Amount:    decimal.NewFromFloat(amount),
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(window),
		Status:    domain.IntentStatusPending,
	}
}

func TestSelectNoEligible(t *testing.T) {
	p := matcher.DefaultPolicy()

	// 偏差 1% 远超 50bp 容差带
	cands := []*domain.DepositIntent{intent("a", 100, t0, 15*time.Minute)}
	_, ok := p.Select(cands, decimal.NewFromFloat(101), t0)
	if ok {
		t.Fatal("candidate outside tolerance band must be filtered out")
	}

	_, ok = p.Select(nil, decimal.NewFromInt(100), t0)
	if ok {
		t.Fatal("empty candidate set must return not-ok")
	}
}

func TestSelectToleranceBoundary(t *testing.T) {
	p := matcher.DefaultPolicy()
	cands := []*domain.DepositIntent{intent("a", 10000, t0, 15*time.Minute)}

	// 恰好 50bp：10000 申报，9950 到账
	sel, ok := p.Select(cands, decimal.NewFromInt(9950), t0)
	if !ok {
		t.Fatal("deviation exactly at tolerance must be eligible")
	}
	if sel.Eligible != 1 {
		t.Fatalf("eligible = %d, want 1", sel.Eligible)
	}

	// 超出一点点就出局
	if _, ok := p.Select(cands, decimal.NewFromFloat(9949.99), t0); ok {
		t.Fatal("deviation past tolerance must be filtered out")
	}
}

func TestSelectExactMatchNearOne(t *testing.T) {
	p := matcher.DefaultPolicy()
	cands := []*domain.DepositIntent{intent("a", 100, t0, 15*time.Minute)}

	// 金额精确 + 确认在申报时刻：两个分量都是满分，置信度封顶 0.999
	sel, ok := p.Select(cands, decimal.NewFromInt(100), t0)
	if !ok {
		t.Fatal("exact candidate must be selected")
	}
	if sel.Ambiguous {
		t.Fatal("single candidate must not be ambiguous")
	}
	if !sel.Confidence.Equal(decimal.NewFromFloat(0.999)) {
		t.Fatalf("confidence = %s, want 0.999", sel.Confidence)
	}
}

func TestSelectTimeDecay(t *testing.T) {
	p := matcher.DefaultPolicy()
	cands := []*domain.DepositIntent{intent("a", 100, t0, 10*time.Minute)}

	// 窗口中点确认：time score 0.5，amount score 1 -> 等权混合 0.75
	mid := t0.Add(5 * time.Minute)
	sel, ok := p.Select(cands, decimal.NewFromInt(100), mid)
	if !ok {
		t.Fatal("candidate in window must be selected")
	}
	if !sel.Confidence.Equal(decimal.NewFromFloat(0.75)) {
		t.Fatalf("confidence = %s, want 0.75", sel.Confidence)
	}

	// 早确认分数不降，晚确认分数更低
	early, _ := p.Select(cands, decimal.NewFromInt(100), t0.Add(1*time.Minute))
	late, _ := p.Select(cands, decimal.NewFromInt(100), t0.Add(9*time.Minute))
	if !early.Confidence.GreaterThan(late.Confidence) {
		t.Fatalf("confidence must decay: early %s, late %s", early.Confidence, late.Confidence)
	}
}

func TestSelectAmountCloserScoresHigher(t *testing.T) {
	p := matcher.DefaultPolicy()
	actual := decimal.NewFromInt(10000)

	closer, _ := p.Select([]*domain.DepositIntent{intent("a", 10000, t0, 15*time.Minute)}, actual, t0)
	farther, _ := p.Select([]*domain.DepositIntent{intent("b", 10040, t0, 15*time.Minute)}, actual, t0)
	if !closer.Confidence.GreaterThan(farther.Confidence) {
		t.Fatalf("closer amount must score higher: %s vs %s", closer.Confidence, farther.Confidence)
	}
}

func TestSelectAmbiguityCapped(t *testing.T) {
	p := matcher.DefaultPolicy()

	// 两个等分候选：平局，置信度压到 0.80
	cands := []*domain.DepositIntent{
		intent("a", 100, t0, 15*time.Minute),
		intent("b", 100, t0, 15*time.Minute),
	}
	sel, ok := p.Select(cands, decimal.NewFromInt(100), t0)
	if !ok {
		t.Fatal("expected a selection")
	}
	if !sel.Ambiguous {
		t.Fatal("equal-score candidates must be flagged ambiguous")
	}
	if !sel.Confidence.Equal(decimal.NewFromFloat(0.80)) {
		t.Fatalf("confidence = %s, want 0.80 (ambiguity cap)", sel.Confidence)
	}
	if sel.Eligible != 2 {
		t.Fatalf("eligible = %d, want 2", sel.Eligible)
	}
}

func TestSelectOldestWinsTie(t *testing.T) {
	p := matcher.DefaultPolicy()

	// 候选按 created_at 升序传入，平局时第一个 (最早申报) 胜出
	older := intent("older", 100, t0, 15*time.Minute)
	newer := intent("newer", 100, t0.Add(1*time.Minute), 15*time.Minute)
	newer.ExpiresAt = older.ExpiresAt // 同一到期时刻，确认于 t0 时两者 time score 均为 1

	sel, ok := p.Select([]*domain.DepositIntent{older, newer}, decimal.NewFromInt(100), t0)
	if !ok {
		t.Fatal("expected a selection")
	}
	if sel.Winner.Intent.ID != "older" {
		t.Fatalf("tie must go to the oldest declaration, got %s", sel.Winner.Intent.ID)
	}
}

func TestSelectClearWinnerNotAmbiguous(t *testing.T) {
	p := matcher.DefaultPolicy()

	// 分差大于 delta：不算平局
	strong := intent("strong", 10000, t0, 10*time.Minute)
	weak := intent("weak", 10000, t0, 10*time.Minute)
	weak.CreatedAt = t0.Add(-10 * time.Minute) // 早开窗，确认时已近到期，time score 低
	weak.ExpiresAt = t0.Add(30 * time.Second)

	sel, ok := p.Select([]*domain.DepositIntent{weak, strong}, decimal.NewFromInt(10000), t0)
	if !ok {
		t.Fatal("expected a selection")
	}
	if sel.Ambiguous {
		t.Fatal("clear score gap must not be ambiguous")
	}
	if sel.Winner.Intent.ID != "strong" {
		t.Fatalf("winner = %s, want strong", sel.Winner.Intent.ID)
	}
}
