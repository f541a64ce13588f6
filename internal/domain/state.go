package domain

// SymbolState 单个 symbol 的策略状态
type SymbolState string

const (
	StateIdle          SymbolState = "IDLE"           // 空闲，可开仓
	StatePendingEntry  SymbolState = "PENDING_ENTRY"  // 开仓指令已发出，等待执行回报
	StatePendingExit   SymbolState = "PENDING_EXIT"   // 平仓指令已发出，等待执行回报
	StateLongPosition  SymbolState = "LONG_POSITION"  // 持有多仓
	StateShortPosition SymbolState = "SHORT_POSITION" // 持有空仓
	StateRiskControl   SymbolState = "RISK_CONTROL"   // 风控熔断，仅允许显式复位
	StateSuspended     SymbolState = "SUSPENDED"      // 市场不适宜，暂停开仓
)

// IsPositionState 是否为持仓状态
//
// 不变量：处于持仓状态 <=> 该 symbol 存在 Position。
func (s SymbolState) IsPositionState() bool {
	return s == StateLongPosition || s == StateShortPosition
}

// IsPending 是否存在在途状态转换
func (s SymbolState) IsPending() bool {
	return s == StatePendingEntry || s == StatePendingExit
}

// CanEnter 是否允许开仓（IDLE 类状态）
func (s SymbolState) CanEnter() bool {
	return s == StateIdle || s == StateSuspended
}

func (s SymbolState) String() string { return string(s) }
