package coordinator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/safety"
	"github.com/betbot/tradecore/pkg/config"
)

func testCoordConfig() config.CoordinatorConfig {
	return config.CoordinatorConfig{
		AIWeight:       0.6,
		RuleWeight:     0.4,
		MaxTradeAmount: decimal.NewFromInt(500),
	}
}

func newTestCoordinator(t *testing.T, v safety.Validator) *Coordinator {
	t.Helper()
	c, err := New(testCoordConfig(), v, nil)
	require.NoError(t, err)
	return c
}

func aiDecision(symbol string, action domain.Action, score float64) domain.AdvisoryDecision {
	return domain.AdvisoryDecision{
		Symbol:          symbol,
		Action:          action,
		Confidence:      0.7,
		Score:           score,
		SuggestedPrice:  decimal.NewFromInt(100),
		SuggestedAmount: decimal.NewFromInt(200),
		Source:          domain.SourceAI,
	}
}

func ruleDecision(symbol string, action domain.Action, score float64) domain.AdvisoryDecision {
	d := aiDecision(symbol, action, score)
	d.Source = domain.SourceRule
	return d
}

// AI buy(0.3) vs rule sell(-0.6)：|rule| 更大，动作取 sell，
// combinedScore 仍为加权和，source 标记 coordinated
func TestCoordinate_ConflictResolvedByMagnitude(t *testing.T) {
	c := newTestCoordinator(t, nil)

	out := c.Coordinate(
		[]domain.AdvisoryDecision{aiDecision("BTC-USDT", domain.ActionBuy, 0.3)},
		[]domain.AdvisoryDecision{ruleDecision("BTC-USDT", domain.ActionSell, -0.6)},
	)

	require.Len(t, out, 1)
	assert.Equal(t, domain.ActionSell, out[0].Action)
	assert.Equal(t, domain.SourceCoordinated, out[0].Source)
	assert.InDelta(t, 0.3*0.6+(-0.6)*0.4, out[0].CombinedScore, 1e-12)
	assert.Equal(t, 0.3, out[0].AIScore)
	assert.Equal(t, -0.6, out[0].RuleScore)
}

// 平局（|score| 相等）保留 AI 动作
func TestCoordinate_TieKeepsAIAction(t *testing.T) {
	c := newTestCoordinator(t, nil)

	out := c.Coordinate(
		[]domain.AdvisoryDecision{aiDecision("BTC-USDT", domain.ActionBuy, 0.5)},
		[]domain.AdvisoryDecision{ruleDecision("BTC-USDT", domain.ActionSell, -0.5)},
	)

	require.Len(t, out, 1)
	assert.Equal(t, domain.ActionBuy, out[0].Action)
	assert.Equal(t, domain.SourceCoordinated, out[0].Source)
}

// 动作一致时无冲突，但 source 同样标记 coordinated
func TestCoordinate_AgreementStillCoordinated(t *testing.T) {
	c := newTestCoordinator(t, nil)

	out := c.Coordinate(
		[]domain.AdvisoryDecision{aiDecision("BTC-USDT", domain.ActionBuy, 0.4)},
		[]domain.AdvisoryDecision{ruleDecision("BTC-USDT", domain.ActionBuy, 0.3)},
	)

	require.Len(t, out, 1)
	assert.Equal(t, domain.ActionBuy, out[0].Action)
	assert.Equal(t, domain.SourceCoordinated, out[0].Source)
	assert.InDelta(t, 0.4*0.6+0.3*0.4, out[0].CombinedScore, 1e-12)
}

// 无对应 AI 决策的规则决策独立放行，source=rule
func TestCoordinate_StandaloneRule(t *testing.T) {
	c := newTestCoordinator(t, nil)

	out := c.Coordinate(nil,
		[]domain.AdvisoryDecision{ruleDecision("ETH-USDT", domain.ActionSell, -0.7)})

	require.Len(t, out, 1)
	assert.Equal(t, domain.SourceRule, out[0].Source)
	assert.Equal(t, domain.ActionSell, out[0].Action)
	assert.InDelta(t, -0.7*0.4, out[0].CombinedScore, 1e-12)
}

// 未被规则触达的 AI 决策独立放行，source=ai
func TestCoordinate_StandaloneAI(t *testing.T) {
	c := newTestCoordinator(t, nil)

	out := c.Coordinate(
		[]domain.AdvisoryDecision{aiDecision("SOL-USDT", domain.ActionBuy, 0.8)},
		nil)

	require.Len(t, out, 1)
	assert.Equal(t, domain.SourceAI, out[0].Source)
	assert.InDelta(t, 0.8*0.6, out[0].CombinedScore, 1e-12)
}

// hold 决策在任何阶段都被丢弃
func TestCoordinate_HoldsDropped(t *testing.T) {
	c := newTestCoordinator(t, nil)

	out := c.Coordinate(
		[]domain.AdvisoryDecision{aiDecision("A-USDT", domain.ActionHold, 0.2)},
		[]domain.AdvisoryDecision{ruleDecision("B-USDT", domain.ActionHold, 0.1)},
	)
	assert.Empty(t, out)
}

func TestCoordinate_WhitelistFilter(t *testing.T) {
	c := newTestCoordinator(t, nil)
	c.SetWhitelist([]string{"BTC-USDT"})

	out := c.Coordinate(
		[]domain.AdvisoryDecision{
			aiDecision("BTC-USDT", domain.ActionBuy, 0.5),
			aiDecision("DOGE-USDT", domain.ActionBuy, 0.9),
		},
		nil)

	require.Len(t, out, 1)
	assert.Equal(t, "BTC-USDT", out[0].Symbol)
}

func TestCoordinate_AmountClipped(t *testing.T) {
	c := newTestCoordinator(t, nil)

	d := aiDecision("BTC-USDT", domain.ActionBuy, 0.5)
	d.SuggestedAmount = decimal.NewFromInt(9999)
	out := c.Coordinate([]domain.AdvisoryDecision{d}, nil)

	require.Len(t, out, 1)
	assert.True(t, out[0].SuggestedAmount.Equal(decimal.NewFromInt(500)),
		"金额应裁剪到上限，got %s", out[0].SuggestedAmount)
}

// rejectAllValidator 全部拒绝的安全校验器
type rejectAllValidator struct{}

func (rejectAllValidator) Validate(domain.TradeRequest, domain.MarketStatus, domain.AccountStatus) safety.ValidationResult {
	return safety.ValidationResult{Passed: false, Checks: []safety.Check{{Name: "deny", Passed: false}}}
}

func TestCoordinate_SafetyValidatorDrops(t *testing.T) {
	c := newTestCoordinator(t, rejectAllValidator{})

	out := c.Coordinate(
		[]domain.AdvisoryDecision{aiDecision("BTC-USDT", domain.ActionBuy, 0.5)},
		nil)
	assert.Empty(t, out)
}

func TestSetWeights_RejectsInvalid(t *testing.T) {
	c := newTestCoordinator(t, nil)

	assert.Error(t, c.SetWeights(0.5, 0.6), "权重和 != 1 应被拒绝")
	assert.Error(t, c.SetWeights(-0.2, 1.2), "负权重应被拒绝")
	assert.NoError(t, c.SetWeights(0.3, 0.7))

	// 被拒绝的更新不得污染现有权重
	require.Error(t, c.SetWeights(0.9, 0.9))
	out := c.Coordinate(
		[]domain.AdvisoryDecision{aiDecision("BTC-USDT", domain.ActionBuy, 1.0)},
		nil)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.3, out[0].CombinedScore, 1e-12)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testCoordConfig()
	cfg.AIWeight = 0.8
	_, err := New(cfg, nil, nil)
	assert.Error(t, err)
}
