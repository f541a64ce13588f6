package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestUnrealizedPnL_LongShortSymmetry(t *testing.T) {
	long := &Position{EntryPrice: decimal.NewFromInt(100), Direction: PositionLong}
	short := &Position{EntryPrice: decimal.NewFromInt(100), Direction: PositionShort}

	cur := decimal.NewFromFloat(97.5)
	if pnl := long.UnrealizedPnL(cur); !pnl.Equal(decimal.NewFromFloat(-0.025)) {
		t.Fatalf("多头 pnl 应为 -0.025，got %s", pnl)
	}
	if pnl := short.UnrealizedPnL(cur); !pnl.Equal(decimal.NewFromFloat(0.025)) {
		t.Fatalf("空头 pnl 应为 0.025，got %s", pnl)
	}
}

func TestUnrealizedPnL_ZeroEntryGuard(t *testing.T) {
	p := &Position{Direction: PositionLong}
	if pnl := p.UnrealizedPnL(decimal.NewFromInt(100)); !pnl.IsZero() {
		t.Fatalf("入场价为 0 时 pnl 应为 0，got %s", pnl)
	}
}

func TestHitStopLossTakeProfit(t *testing.T) {
	p := &Position{
		EntryPrice:         decimal.NewFromInt(100),
		StopLossDistance:   decimal.NewFromFloat(0.02),
		TakeProfitDistance: decimal.NewFromFloat(0.05),
		Direction:          PositionLong,
	}

	if !p.HitStopLoss(decimal.NewFromFloat(-0.025)) {
		t.Fatalf("-0.025 <= -0.02 应触发止损")
	}
	if p.HitStopLoss(decimal.NewFromFloat(-0.01)) {
		t.Fatalf("-0.01 > -0.02 不应触发止损")
	}
	if !p.HitTakeProfit(decimal.NewFromFloat(0.05)) {
		t.Fatalf("0.05 >= 0.05 应触发止盈")
	}
	if p.HitTakeProfit(decimal.NewFromFloat(0.04)) {
		t.Fatalf("0.04 < 0.05 不应触发止盈")
	}
}

func TestCloseAction(t *testing.T) {
	long := &Position{Direction: PositionLong}
	short := &Position{Direction: PositionShort}
	if long.CloseAction() != ActionCloseLong {
		t.Fatalf("多头平仓应为 close_long")
	}
	if short.CloseAction() != ActionCloseShort {
		t.Fatalf("空头平仓应为 close_short")
	}
}

func TestEquityTrack(t *testing.T) {
	var tr EquityTrack

	tr.Update(decimal.NewFromInt(1000))
	tr.Update(decimal.NewFromInt(800))
	if !tr.Peak.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("峰值应保持 1000，got %s", tr.Peak)
	}
	if dd := tr.Drawdown(); !dd.Equal(decimal.NewFromFloat(0.2)) {
		t.Fatalf("回撤应为 0.2，got %s", dd)
	}

	tr.Update(decimal.NewFromInt(1200))
	if !tr.Peak.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("新高应抬升峰值，got %s", tr.Peak)
	}
	if !tr.Drawdown().IsZero() {
		t.Fatalf("创新高后回撤应为 0")
	}
}

func TestEquityTrack_ZeroPeak(t *testing.T) {
	var tr EquityTrack
	if !tr.Drawdown().IsZero() {
		t.Fatalf("无观测时回撤应为 0")
	}
}

func TestDirectionOpposite(t *testing.T) {
	if DirectionBullish.Opposite() != DirectionBearish {
		t.Fatalf("bullish 的反向应为 bearish")
	}
	if DirectionNeutral.Opposite() != DirectionNeutral {
		t.Fatalf("neutral 的反向应为自身")
	}
}
