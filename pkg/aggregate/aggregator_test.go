package aggregate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/position"
	"magnus-advisor/pkg/quant"
)

var asOf = time.Date(2025, 3, 14, 15, 30, 0, 0, time.UTC)

func snapshot() position.Snapshot {
	return position.Snapshot{
		Symbol:               "AAPL",
		Strategy:             position.CashSecuredPut,
		EntryPrice:           3.00,
		CurrentPrice:         2.50,
		StrikePrice:          180,
		UnderlyingPrice:      190,
		DaysToExpiration:     30,
		Quantity:             -1,
		ContractMultiplier:   100,
		Moneyness:            position.Moneyness{State: position.OTM, DistancePct: 5.3},
		UnrealizedPnLDollars: 50,
		UnrealizedPnLPercent: 16.7,
		AsOf:                 asOf,
	}
}

func quantRec(action position.Action, conf int) quant.Recommendation {
	return quant.Recommendation{Action: action, Confidence: conf, Rule: "Test", ProfitPercent: 16.7}
}

func llmRec(action position.Action, conf int) *llm.Recommendation {
	return &llm.Recommendation{Action: action, Confidence: conf, Rationale: "test", TierUsed: llm.TierStandard}
}

func TestAggregateNoLLM(t *testing.T) {
	a := New(DefaultConfig())
	q := quantRec(position.Hold, 62)

	got := a.Aggregate(q, nil, snapshot())
	assert.Equal(t, position.Hold, got.FinalAction)
	assert.Equal(t, 62, got.FinalConfidence)
	assert.Equal(t, RuleNoLLM, got.ConflictRule)
	assert.Equal(t, 1, got.ConflictRule.Number())
	assert.Nil(t, got.SourceLLM)
	assert.Equal(t, asOf, got.GeneratedAt)
	assert.Equal(t, "AAPL", got.Symbol)
}

func TestAggregateAgreement(t *testing.T) {
	a := New(DefaultConfig())

	t.Run("bonus reaches at least 95", func(t *testing.T) {
		got := a.Aggregate(quantRec(position.Hold, 60), llmRec(position.Hold, 70), snapshot())
		assert.Equal(t, RuleAgreement, got.ConflictRule)
		assert.Equal(t, position.Hold, got.FinalAction)
		assert.GreaterOrEqual(t, got.FinalConfidence, 95)
	})

	t.Run("bonus from a low base", func(t *testing.T) {
		got := a.Aggregate(quantRec(position.Roll, 40), llmRec(position.Roll, 50), snapshot())
		assert.Equal(t, 75, got.FinalConfidence)
	})

	t.Run("floor when both are confident", func(t *testing.T) {
		got := a.Aggregate(quantRec(position.TakeProfit, 71), llmRec(position.TakeProfit, 71), snapshot())
		assert.Equal(t, 96, got.FinalConfidence)
	})

	t.Run("cap", func(t *testing.T) {
		got := a.Aggregate(quantRec(position.TakeProfit, 90), llmRec(position.TakeProfit, 95), snapshot())
		assert.Equal(t, 99, got.FinalConfidence)
	})

	t.Run("agreement wins over big loss", func(t *testing.T) {
		snap := snapshot()
		snap.UnrealizedPnLDollars = -900
		got := a.Aggregate(quantRec(position.CutLoss, 80), llmRec(position.CutLoss, 80), snap)
		assert.Equal(t, RuleAgreement, got.ConflictRule)
	})
}

func TestAggregateBigLossDefersToLLM(t *testing.T) {
	a := New(DefaultConfig())
	snap := snapshot()
	snap.UnrealizedPnLDollars = -600

	got := a.Aggregate(quantRec(position.Hold, 60), llmRec(position.CutLoss, 80), snap)
	assert.Equal(t, position.CutLoss, got.FinalAction)
	assert.Equal(t, 80, got.FinalConfidence)
	assert.Equal(t, RuleBigLoss, got.ConflictRule)

	// the threshold is inclusive
	snap.UnrealizedPnLDollars = -500
	got = a.Aggregate(quantRec(position.Hold, 60), llmRec(position.CutLoss, 80), snap)
	assert.Equal(t, RuleBigLoss, got.ConflictRule)

	// big loss outranks a low LLM confidence
	snap.UnrealizedPnLDollars = -700
	got = a.Aggregate(quantRec(position.Hold, 60), llmRec(position.Close, 30), snap)
	assert.Equal(t, position.Close, got.FinalAction)
	assert.Equal(t, RuleBigLoss, got.ConflictRule)
}

func TestAggregateLowConfidenceDefersToQuant(t *testing.T) {
	a := New(DefaultConfig())
	got := a.Aggregate(quantRec(position.Hold, 55), llmRec(position.Close, 59), snapshot())
	assert.Equal(t, position.Hold, got.FinalAction)
	assert.Equal(t, 55, got.FinalConfidence)
	assert.Equal(t, RuleLowConfidence, got.ConflictRule)

	got = a.Aggregate(quantRec(position.Hold, 55), llmRec(position.Close, 60), snapshot())
	assert.NotEqual(t, RuleLowConfidence, got.ConflictRule, "60 is not below the threshold")
}

func TestAggregateZeroThresholdsAreHonored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LowConfidence = 0
	cfg.AgreementBonus = 0
	a := New(cfg)

	// with no low-confidence cutoff a weak disagreeing answer goes to the blend
	got := a.Aggregate(quantRec(position.Hold, 55), llmRec(position.Close, 30), snapshot())
	assert.Equal(t, RuleWeightedBlend, got.ConflictRule)
	assert.Equal(t, position.Hold, got.FinalAction)
	assert.Equal(t, 55, got.FinalConfidence)

	got = a.Aggregate(quantRec(position.Hold, 50), llmRec(position.Hold, 55), snapshot())
	assert.Equal(t, RuleAgreement, got.ConflictRule)
	assert.Equal(t, 55, got.FinalConfidence)
}

func TestAggregateAssignmentRisk(t *testing.T) {
	a := New(DefaultConfig())
	snap := snapshot()
	snap.DaysToExpiration = 2
	snap.Moneyness = position.Moneyness{State: position.ITM, DistancePct: 2}

	got := a.Aggregate(quantRec(position.Roll, 65), llmRec(position.Hold, 85), snap)
	assert.Equal(t, position.Roll, got.FinalAction)
	assert.Equal(t, 65, got.FinalConfidence)
	assert.Equal(t, RuleAssignmentRisk, got.ConflictRule)
	assert.Equal(t, UrgencyHigh, got.Urgency)

	snap.Moneyness.State = position.OTM
	got = a.Aggregate(quantRec(position.Roll, 65), llmRec(position.Hold, 85), snap)
	assert.NotEqual(t, RuleAssignmentRisk, got.ConflictRule)
}

func TestAggregateHighProfit(t *testing.T) {
	a := New(DefaultConfig())
	q := quantRec(position.TakeProfit, 70)
	q.ProfitPercent = 80

	got := a.Aggregate(q, llmRec(position.Hold, 90), snapshot())
	assert.Equal(t, position.TakeProfit, got.FinalAction)
	assert.Equal(t, 70, got.FinalConfidence)
	assert.Equal(t, RuleHighProfit, got.ConflictRule)
}

func TestAggregateWeightedBlend(t *testing.T) {
	a := New(DefaultConfig())

	t.Run("llm outweighs", func(t *testing.T) {
		got := a.Aggregate(quantRec(position.Hold, 60), llmRec(position.Roll, 70), snapshot())
		assert.Equal(t, RuleWeightedBlend, got.ConflictRule)
		assert.Equal(t, 7, got.ConflictRule.Number())
		assert.Equal(t, position.Roll, got.FinalAction)
		// 42 / (42 + 24)
		assert.Equal(t, 64, got.FinalConfidence)
	})

	t.Run("quant outweighs", func(t *testing.T) {
		got := a.Aggregate(quantRec(position.Hold, 95), llmRec(position.Roll, 60), snapshot())
		assert.Equal(t, position.Hold, got.FinalAction)
		// 38 / (38 + 36)
		assert.Equal(t, 51, got.FinalConfidence)
	})

	t.Run("tie goes to quant", func(t *testing.T) {
		got := a.Aggregate(quantRec(position.Hold, 90), llmRec(position.Roll, 60), snapshot())
		assert.Equal(t, position.Hold, got.FinalAction)
		assert.Equal(t, 50, got.FinalConfidence)
	})
}

func TestAggregateUrgency(t *testing.T) {
	a := New(DefaultConfig())

	cases := []struct {
		name   string
		mutate func(*position.Snapshot)
		llm    *llm.Recommendation
		want   Urgency
	}{
		{name: "calm", want: UrgencyLow},
		{name: "near expiry", mutate: func(s *position.Snapshot) { s.DaysToExpiration = 3 }, want: UrgencyHigh},
		{name: "deep loss", mutate: func(s *position.Snapshot) { s.UnrealizedPnLPercent = -80 }, want: UrgencyHigh},
		{name: "week out", mutate: func(s *position.Snapshot) { s.DaysToExpiration = 6 }, want: UrgencyMedium},
		{name: "disagreement", llm: llmRec(position.Roll, 70), want: UrgencyMedium},
		{name: "agreement", llm: llmRec(position.Hold, 70), want: UrgencyLow},
		{
			name: "stock ignores expiry",
			mutate: func(s *position.Snapshot) {
				s.Strategy = position.Stock
				s.DaysToExpiration = 0
			},
			want: UrgencyLow,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := snapshot()
			if tc.mutate != nil {
				tc.mutate(&snap)
			}
			got := a.Aggregate(quantRec(position.Hold, 60), tc.llm, snap)
			assert.Equal(t, tc.want, got.Urgency)
		})
	}
}

func TestAggregateIsDeterministic(t *testing.T) {
	a := New(DefaultConfig())
	q := quantRec(position.Hold, 60)
	l := llmRec(position.Roll, 70)

	first, err := json.Marshal(a.Aggregate(q, l, snapshot()))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := json.Marshal(a.Aggregate(q, l, snapshot()))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAggregateConfidenceBounds(t *testing.T) {
	a := New(DefaultConfig())
	for _, qc := range []int{0, 30, 60, 100} {
		for _, lc := range []int{0, 59, 60, 100} {
			for _, la := range position.Actions {
				got := a.Aggregate(quantRec(position.Hold, qc), llmRec(la, lc), snapshot())
				assert.GreaterOrEqual(t, got.FinalConfidence, 0)
				assert.LessOrEqual(t, got.FinalConfidence, 100)
				assert.Contains(t, position.Actions, got.FinalAction)
			}
		}
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.BigLossUSD = 100
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.AgreementFloor = 100
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.UrgencyMediumDTE = 1
	assert.Error(t, cfg.Validate())

	var empty Config
	empty.ApplyDefaults()
	assert.Equal(t, DefaultConfig(), empty)

	partial := DefaultConfig()
	partial.LowConfidence = 0
	partial.ApplyDefaults()
	assert.Zero(t, partial.LowConfidence)
	require.NoError(t, partial.Validate())
}
