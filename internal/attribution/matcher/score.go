package matcher

import (
	"time"

	"github.com/shopspring/decimal"
	"vaultmesh.com/internal/attribution/domain"
)

var (
	zero = decimal.Zero
	one  = decimal.NewFromInt(1)
)

// Scored 一个候选意向的打分明细
type Scored struct {
	Intent      *domain.DepositIntent
	AmountScore decimal.Decimal
	TimeScore   decimal.Decimal
	Score       decimal.Decimal // 加权混合
}

// Selection 一次打分的选择结果
type Selection struct {
	Winner     Scored
	Confidence decimal.Decimal // 已做歧义封顶和 [0, 0.999] 截断
	Ambiguous  bool            // 有多个候选在分差带内
	Eligible   int             // 通过容差筛选的候选数
}

// amountEligible 申报金额与实际金额的相对偏差是否在容差带内
func (p Policy) amountEligible(declared, actual decimal.Decimal) bool {
	if declared.Sign() <= 0 {
		return false
	}
	diff := declared.Sub(actual).Abs().Div(declared)
	return diff.LessThanOrEqual(p.tolerance())
}

// amountScore = 1 - |declared - actual| / declared，下限 0
func (p Policy) amountScore(declared, actual decimal.Decimal) decimal.Decimal {
	if declared.Sign() <= 0 {
		return zero
	}
	s := one.Sub(declared.Sub(actual).Abs().Div(declared))
	if s.Sign() < 0 {
		return zero
	}
	return s
}

// timeScore 申报时刻为 1.0，过期时刻衰减到 0.0，在确认时刻取值
// 奖励申报后迅速到账的意向
func (p Policy) timeScore(createdAt, expiresAt, confirmedAt time.Time) decimal.Decimal {
	total := expiresAt.Sub(createdAt)
	if total <= 0 {
		return zero
	}
	if !confirmedAt.After(createdAt) {
		return one
	}
	if !confirmedAt.Before(expiresAt) {
		return zero
	}
	remaining := expiresAt.Sub(confirmedAt)
	return decimal.NewFromFloat(remaining.Seconds() / total.Seconds())
}

// blend 等权(或配置权重)混合金额分与时间分
func (p Policy) blend(amountScore, timeScore decimal.Decimal) decimal.Decimal {
	totalWeight := p.AmountWeight.Add(p.TimeWeight)
	if totalWeight.Sign() <= 0 {
		return zero
	}
	weighted := amountScore.Mul(p.AmountWeight).Add(timeScore.Mul(p.TimeWeight))
	return weighted.Div(totalWeight)
}

// Select 对候选集打分并选出赢家
// candidates 必须按 created_at 升序传入 (Registry 保证)，
// 平局时最早申报者胜出——这是可审计的成文规则。
// 返回 false 表示没有任何候选通过容差筛选。
func (p Policy) Select(candidates []*domain.DepositIntent, actual decimal.Decimal, confirmedAt time.Time) (Selection, bool) {
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if !p.amountEligible(c.Amount, actual) {
			continue
		}
		as := p.amountScore(c.Amount, actual)
		ts := p.timeScore(c.CreatedAt, c.ExpiresAt, confirmedAt)
		scored = append(scored, Scored{
			Intent:      c,
			AmountScore: as,
			TimeScore:   ts,
			Score:       p.blend(as, ts),
		})
	}
	if len(scored) == 0 {
		return Selection{}, false
	}

	// 最高分
	best := scored[0].Score
	for _, s := range scored[1:] {
		if s.Score.GreaterThan(best) {
			best = s.Score
		}
	}

	// 分差带内的候选：保持输入顺序，第一个就是最早申报的
	threshold := best.Sub(p.AmbiguityDelta)
	var winner Scored
	tied := 0
	for _, s := range scored {
		if s.Score.GreaterThanOrEqual(threshold) {
			if tied == 0 {
				winner = s
			}
			tied++
		}
	}

	conf := winner.Score
	ambiguous := tied >= 2
	if ambiguous && conf.GreaterThan(p.AmbiguityCap) {
		conf = p.AmbiguityCap
	}
	// 推断归因永远到不了 1.0
	if conf.GreaterThan(p.MaxInferredConfidence) {
		conf = p.MaxInferredConfidence
	}
	if conf.Sign() < 0 {
		conf = zero
	}

	return Selection{
		Winner:     winner,
		Confidence: conf,
		Ambiguous:  ambiguous,
		Eligible:   len(scored),
	}, true
}
