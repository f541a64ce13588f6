package main

import (
	"github.com/betbot/tradecore/internal/advisor"
	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/pkg/config"
)

// trendFollowRule 内置的示例规则引擎：顺市况方向给出
// 温和评分的建议，空仓才建议开仓，持仓遇反向市况建议平仓。
// 实际部署时应替换为自己的规则源。
func trendFollowRule(cfg *config.Config) advisor.RuleFunc {
	return func(snapshot []advisor.MarketContext) []domain.AdvisoryDecision {
		var out []domain.AdvisoryDecision
		for _, mc := range snapshot {
			d := domain.AdvisoryDecision{
				Symbol:          mc.Symbol,
				Action:          domain.ActionHold,
				Reason:          "no rule triggered",
				SuggestedPrice:  mc.LastPrice,
				SuggestedAmount: cfg.Coordinator.MaxTradeAmount,
			}

			switch {
			case mc.Position == nil && mc.State.CanEnter() && mc.Regime == domain.RegimeBullish:
				d.Action = domain.ActionBuy
				d.Confidence = 0.6
				d.Score = 0.5
				d.Reason = "bullish regime, no position"
			case mc.Position == nil && mc.State.CanEnter() && mc.Regime == domain.RegimeBearish:
				d.Action = domain.ActionSell
				d.Confidence = 0.6
				d.Score = -0.5
				d.Reason = "bearish regime, no position"
			case mc.Position != nil && mc.Position.Direction == domain.PositionLong && mc.Regime == domain.RegimeBearish:
				d.Action = domain.ActionCloseLong
				d.Confidence = 0.7
				d.Score = -0.6
				d.Reason = "regime turned bearish against long"
			case mc.Position != nil && mc.Position.Direction == domain.PositionShort && mc.Regime == domain.RegimeBullish:
				d.Action = domain.ActionCloseShort
				d.Confidence = 0.7
				d.Score = 0.6
				d.Reason = "regime turned bullish against short"
			}

			out = append(out, d)
		}
		return out
	}
}
