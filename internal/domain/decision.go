package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action 决策动作
type Action string

const (
	ActionBuy        Action = "buy"
	ActionSell       Action = "sell"
	ActionHold       Action = "hold"
	ActionCloseLong  Action = "close_long"
	ActionCloseShort Action = "close_short"
)

// IsHold 是否为持有（无操作）
func (a Action) IsHold() bool { return a == ActionHold || a == "" }

// DecisionSource 决策来源
type DecisionSource string

const (
	SourceAI          DecisionSource = "ai"          // AI 顾问
	SourceRule        DecisionSource = "rule"        // 规则引擎
	SourceCoordinated DecisionSource = "coordinated" // 双源融合
)

// AdvisoryDecision 单一顾问来源的建议决策
//
// 每个协调周期消费一次，不留存。
// Score ∈ [-1,1]：正为看多，负为看空，绝对值为置信强度。
type AdvisoryDecision struct {
	Symbol          string          // 交易对
	Action          Action          // 建议动作
	Confidence      float64         // 置信度 [0,1]
	Score           float64         // 评分 [-1,1]
	Reason          string          // 决策依据
	SuggestedPrice  decimal.Decimal // 建议价格（可选）
	SuggestedAmount decimal.Decimal // 建议金额（可选）
	Source          DecisionSource  // ai 或 rule
}

// CoordinatedDecision 融合后的最终决策
//
// CombinedScore 始终为加权和，无论哪个来源的动作胜出。
type CoordinatedDecision struct {
	Symbol          string          // 交易对
	Action          Action          // 最终动作
	Confidence      float64         // 融合置信度
	CombinedScore   float64         // aiScore*aiWeight + ruleScore*ruleWeight
	AIScore         float64         // AI 评分
	RuleScore       float64         // 规则评分
	Reason          string          // 决策依据
	SuggestedPrice  decimal.Decimal // 建议价格（可选）
	SuggestedAmount decimal.Decimal // 建议金额（已按上限裁剪）
	Source          DecisionSource  // ai / rule / coordinated
	DecidedAt       time.Time       // 决策时间
}

// TradeRequest 交给安全校验器的交易请求
type TradeRequest struct {
	Symbol string
	Action Action
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// MarketStatus 市场状态（安全校验输入）
type MarketStatus struct {
	Symbol    string
	Tradable  bool
	LastPrice decimal.Decimal
}

// AccountStatus 账户状态（安全校验输入）
type AccountStatus struct {
	Balance      decimal.Decimal // 可用余额
	OpenExposure decimal.Decimal // 当前总敞口
}

// StrategyDecision 状态机单次决策结果
type StrategyDecision struct {
	Symbol string
	Action Action
	State  SymbolState // 决策后的状态
	Reason string
}
