package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction 信号方向
type Direction string

const (
	DirectionBullish Direction = "bullish" // 看多
	DirectionBearish Direction = "bearish" // 看空
	DirectionNeutral Direction = "neutral" // 中性
)

// Opposite 返回相反方向（中性返回自身）
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionBullish:
		return DirectionBearish
	case DirectionBearish:
		return DirectionBullish
	}
	return d
}

// Timeframe K线周期，例如 "1m" / "5m" / "1h"
type Timeframe string

// SignalType 信号类型，由外部指标引擎定义（例如 "ma_cross" / "rsi_reversal" / "breakout"）
type SignalType string

// Signal 技术信号领域模型
//
// 由外部信号生成器产生，进入 Signal Gate 后不可变。
// Price 为信号触发时记录的价格（可选，零值表示未记录）。
type Signal struct {
	ID                string             // 信号 ID（为空时由 EnsureID 补齐）
	Type              SignalType         // 信号类型
	Direction         Direction          // 方向
	Symbol            string             // 交易对，例如 BTC-USDT
	Timeframe         Timeframe          // K线周期
	Strength          float64            // 信号强度 [0,1]
	GeneratedAt       time.Time          // 信号生成时间
	KlineCloseTime    time.Time          // 对应K线收盘时间
	Price             decimal.Decimal    // 信号触发价格（可选）
	IndicatorSnapshot map[string]float64 // 指标快照（RSI/ADX/ATR 等，只读）
}

// EnsureID 若 ID 为空则生成一个
func (s *Signal) EnsureID() {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
}

// HasPrice 是否记录了触发价格
func (s *Signal) HasPrice() bool {
	return !s.Price.IsZero()
}

// IsDirectional 是否为方向性信号（非中性）
func (s *Signal) IsDirectional() bool {
	return s.Direction == DirectionBullish || s.Direction == DirectionBearish
}

// Age 距生成时间的年龄
func (s *Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.GeneratedAt)
}

// DedupKey 去重键：同一 (symbol, type, direction, timeframe) 在冷却期内只确认一次
type DedupKey struct {
	Symbol    string
	Type      SignalType
	Direction Direction
	Timeframe Timeframe
}

// ConfirmKey 确认键：同一 (symbol, type, timeframe) 最多存在一个待确认条目
type ConfirmKey struct {
	Symbol    string
	Type      SignalType
	Timeframe Timeframe
}

// DedupKeyOf 从信号提取去重键
func DedupKeyOf(s *Signal) DedupKey {
	return DedupKey{Symbol: s.Symbol, Type: s.Type, Direction: s.Direction, Timeframe: s.Timeframe}
}

// ConfirmKeyOf 从信号提取确认键
func ConfirmKeyOf(s *Signal) ConfirmKey {
	return ConfirmKey{Symbol: s.Symbol, Type: s.Type, Timeframe: s.Timeframe}
}

// MarketRegime 市场状态
type MarketRegime string

const (
	RegimeBullish  MarketRegime = "bullish"  // 多头趋势
	RegimeBearish  MarketRegime = "bearish"  // 空头趋势
	RegimeSideways MarketRegime = "sideways" // 震荡
	RegimeUnknown  MarketRegime = "unknown"  // 未知
)
