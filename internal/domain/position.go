package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionDirection 持仓方向
type PositionDirection string

const (
	PositionLong  PositionDirection = "long"  // 多头
	PositionShort PositionDirection = "short" // 空头
)

// Position 仓位领域模型
//
// 每个 symbol 至多一个仓位，由 Position State Machine 独占管理。
// StopLossDistance / TakeProfitDistance 为相对入场价的比例（例如 0.02 = 2%）。
type Position struct {
	Symbol             string            // 交易对
	EntryPrice         decimal.Decimal   // 入场价格
	EntryTime          time.Time         // 入场时间
	StopLossDistance   decimal.Decimal   // 止损距离（比例）
	TakeProfitDistance decimal.Decimal   // 止盈距离（比例）
	Size               decimal.Decimal   // 仓位大小
	Direction          PositionDirection // 方向
	PnL                decimal.Decimal   // 最近一次计算的收益率（比例）
}

// UnrealizedPnL 按当前价格计算收益率（比例）
//
// 多头：(current - entry) / entry；空头取反。
// 入场价非法时返回 0，避免除零。
func (p *Position) UnrealizedPnL(current decimal.Decimal) decimal.Decimal {
	if p == nil || p.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	pnl := current.Sub(p.EntryPrice).Div(p.EntryPrice)
	if p.Direction == PositionShort {
		return pnl.Neg()
	}
	return pnl
}

// HitStopLoss 是否触发止损（pnl <= -stopLossDistance）
func (p *Position) HitStopLoss(pnl decimal.Decimal) bool {
	if p.StopLossDistance.LessThanOrEqual(decimal.Zero) {
		return false
	}
	return pnl.LessThanOrEqual(p.StopLossDistance.Neg())
}

// HitTakeProfit 是否触发止盈（pnl >= +takeProfitDistance）
func (p *Position) HitTakeProfit(pnl decimal.Decimal) bool {
	if p.TakeProfitDistance.LessThanOrEqual(decimal.Zero) {
		return false
	}
	return pnl.GreaterThanOrEqual(p.TakeProfitDistance)
}

// CloseAction 平仓对应的动作
func (p *Position) CloseAction() Action {
	if p.Direction == PositionShort {
		return ActionCloseShort
	}
	return ActionCloseLong
}

// Copy 返回仓位的值拷贝（调用方不得跨锁持有内部指针）
func (p *Position) Copy() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// EquityTrack 权益轨迹：peak 单调不减，用于计算回撤
type EquityTrack struct {
	Peak    decimal.Decimal // 历史峰值
	Current decimal.Decimal // 当前权益
}

// Update 更新当前权益，峰值只升不降
func (t *EquityTrack) Update(equity decimal.Decimal) {
	t.Current = equity
	if equity.GreaterThan(t.Peak) {
		t.Peak = equity
	}
}

// Drawdown 回撤比例 (peak - current) / peak；peak 为 0 时返回 0
func (t *EquityTrack) Drawdown() decimal.Decimal {
	if t.Peak.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	dd := t.Peak.Sub(t.Current).Div(t.Peak)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}
