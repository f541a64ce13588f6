package position

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/metrics"
	"github.com/betbot/tradecore/internal/risk"
	"github.com/betbot/tradecore/pkg/config"
	"github.com/betbot/tradecore/pkg/logger"
)

var posLog = logger.WithField("module", "position")

// 反向信号平仓的置信度门槛
const oppositeCloseConfidence = 0.75

// DecideInput 一次决策请求的完整输入
//
// Signal 为已通过信号闸门的确认信号，可为 nil（例如周期性
// 风控巡检）。TrendStrength < 0 表示本轮无趋势强度观测，
// 市场过滤跳过。CurrentPrice 为零值表示无最新行情。
type DecideInput struct {
	Symbol        string
	Signal        *domain.Signal
	Confidence    float64
	Regime        domain.MarketRegime
	TrendStrength float64
	CurrentPrice  decimal.Decimal
}

// symbolSlot 单个 symbol 的状态槽，锁粒度为 symbol
type symbolSlot struct {
	mu       sync.Mutex
	state    domain.SymbolState
	position *domain.Position
}

// Machine 仓位状态机
//
// 每个 symbol 独立持有状态与至多一个仓位，决策顺序固定：
// 风控检查最先，市场适宜性其次，方向性逻辑最后。
// 不同 symbol 的决策完全并行，互不影响。
type Machine struct {
	cfg     config.StrategyConfig
	equity  *risk.EquityBook
	breaker *risk.CircuitBreaker

	mu    sync.RWMutex
	slots map[string]*symbolSlot
}

func NewMachine(cfg config.StrategyConfig, equity *risk.EquityBook, breaker *risk.CircuitBreaker) *Machine {
	return &Machine{
		cfg:     cfg,
		equity:  equity,
		breaker: breaker,
		slots:   make(map[string]*symbolSlot),
	}
}

func (m *Machine) slot(symbol string) *symbolSlot {
	m.mu.RLock()
	s, ok := m.slots[symbol]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.slots[symbol]; ok {
		return s
	}
	s = &symbolSlot{state: domain.StateIdle}
	m.slots[symbol] = s
	return s
}

// Decide 处理一次决策请求，返回动作与决策后状态。
// 同一 symbol 的决策严格串行。
func (m *Machine) Decide(in DecideInput) domain.StrategyDecision {
	s := m.slot(in.Symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. 风控检查：优先于一切方向性逻辑
	if d, done := m.checkRisk(in, s); done {
		return d
	}

	// 2. 市场适宜性过滤
	if d, done := m.checkMarket(in, s); done {
		return d
	}

	// 3. 持仓管理
	if s.state.IsPositionState() {
		return m.managePosition(in, s)
	}

	// 4. 开仓判断
	if s.state.CanEnter() {
		return m.tryEnter(in, s)
	}

	// PENDING_* 状态等待执行回报，不产生新动作
	return hold(in.Symbol, s.state, "awaiting execution ack")
}

// checkRisk 回撤熔断与全局断路器。
// 持仓时触发熔断先平仓再进入 RISK_CONTROL，保证
// 持仓状态与仓位记录的一一对应不被破坏。
func (m *Machine) checkRisk(in DecideInput, s *symbolSlot) (domain.StrategyDecision, bool) {
	if s.state == domain.StateRiskControl {
		// 只能显式复位退出
		return hold(in.Symbol, s.state, "risk control active"), true
	}

	if !m.cfg.EnableRiskControl {
		return domain.StrategyDecision{}, false
	}

	tripped := m.breaker.Halted() || m.equity.Breached(in.Symbol)
	if !tripped {
		return domain.StrategyDecision{}, false
	}

	metrics.RiskControlTrips.Add(1)

	if s.position != nil {
		action := s.position.CloseAction()
		posLog.Warnf("💥 回撤熔断触发，强制平仓: %s dd=%s", in.Symbol, m.equity.Drawdown(in.Symbol))
		m.closeLocked(s)
		s.state = domain.StateRiskControl
		return domain.StrategyDecision{
			Symbol: in.Symbol,
			Action: action,
			State:  s.state,
			Reason: "drawdown breach, position closed",
		}, true
	}

	posLog.Warnf("💥 回撤熔断触发: %s dd=%s", in.Symbol, m.equity.Drawdown(in.Symbol))
	s.state = domain.StateRiskControl
	return hold(in.Symbol, s.state, "drawdown breach"), true
}

// checkMarket 趋势强度过滤。强度不足时持仓平仓、空仓暂停；
// 强度恢复后 SUSPENDED 自动回到可开仓。
func (m *Machine) checkMarket(in DecideInput, s *symbolSlot) (domain.StrategyDecision, bool) {
	if !m.cfg.EnableMarketFilter || in.TrendStrength < 0 {
		return domain.StrategyDecision{}, false
	}

	if in.TrendStrength >= m.cfg.MinTrendStrength {
		return domain.StrategyDecision{}, false
	}

	if s.position != nil {
		action := s.position.CloseAction()
		posLog.Infof("⏳ 趋势强度不足，平仓离场: %s strength=%.2f", in.Symbol, in.TrendStrength)
		m.closeLocked(s)
		s.state = domain.StateIdle
		return domain.StrategyDecision{
			Symbol: in.Symbol,
			Action: action,
			State:  s.state,
			Reason: "trend strength below minimum",
		}, true
	}

	if s.state != domain.StateSuspended {
		posLog.Infof("⏳ 市场不适宜，暂停开仓: %s strength=%.2f", in.Symbol, in.TrendStrength)
	}
	s.state = domain.StateSuspended
	return hold(in.Symbol, s.state, "market unsuitable"), true
}

// managePosition 持仓状态下的止损/止盈/反向信号/趋势反转判断
func (m *Machine) managePosition(in DecideInput, s *symbolSlot) domain.StrategyDecision {
	if s.position == nil {
		// 数据一致性故障：降级为 HOLD，修复状态，绝不中断其他 symbol
		metrics.StateInconsistencyFaults.Add(1)
		posLog.Errorf("💥 状态不一致: %s 处于 %s 但无仓位记录，已复位", in.Symbol, s.state)
		s.state = domain.StateIdle
		return hold(in.Symbol, s.state, "state inconsistency: no tracked position")
	}

	pos := s.position

	if in.CurrentPrice.IsPositive() {
		pnl := pos.UnrealizedPnL(in.CurrentPrice)
		pos.PnL = pnl

		if pos.HitStopLoss(pnl) {
			return m.closeOut(in.Symbol, s, "stop loss hit", pnl)
		}
		if pos.HitTakeProfit(pnl) {
			return m.closeOut(in.Symbol, s, "take profit hit", pnl)
		}
	}

	// 反向确认信号且置信度足够高
	if in.Signal != nil && in.Signal.IsDirectional() && in.Confidence > oppositeCloseConfidence {
		opposite := (pos.Direction == domain.PositionLong && in.Signal.Direction == domain.DirectionBearish) ||
			(pos.Direction == domain.PositionShort && in.Signal.Direction == domain.DirectionBullish)
		if opposite {
			return m.closeOut(in.Symbol, s, "opposite signal confirmed", pos.PnL)
		}
	}

	// 市场趋势反转
	if (pos.Direction == domain.PositionLong && in.Regime == domain.RegimeBearish) ||
		(pos.Direction == domain.PositionShort && in.Regime == domain.RegimeBullish) {
		return m.closeOut(in.Symbol, s, "regime reversal", pos.PnL)
	}

	return hold(in.Symbol, s.state, "position maintained")
}

func (m *Machine) closeOut(symbol string, s *symbolSlot, reason string, pnl decimal.Decimal) domain.StrategyDecision {
	action := s.position.CloseAction()
	posLog.Infof("✅ 平仓: %s %s pnl=%s (%s)", symbol, action, pnl, reason)
	m.closeLocked(s)
	s.state = domain.StateIdle
	return domain.StrategyDecision{Symbol: symbol, Action: action, State: s.state, Reason: reason}
}

// tryEnter 开仓判断：方向性确认信号 + 置信度达标
func (m *Machine) tryEnter(in DecideInput, s *symbolSlot) domain.StrategyDecision {
	if in.Signal == nil || !in.Signal.IsDirectional() {
		return hold(in.Symbol, s.state, "no directional signal")
	}
	if in.Confidence < m.cfg.MinConfidence {
		return hold(in.Symbol, s.state, "confidence below threshold")
	}

	entryPrice := in.CurrentPrice
	if !entryPrice.IsPositive() {
		entryPrice = in.Signal.Price
	}
	if !entryPrice.IsPositive() {
		return hold(in.Symbol, s.state, "no entry price available")
	}

	var action domain.Action
	var dir domain.PositionDirection
	if in.Signal.Direction == domain.DirectionBullish {
		action = domain.ActionBuy
		dir = domain.PositionLong
		s.state = domain.StateLongPosition
	} else {
		action = domain.ActionSell
		dir = domain.PositionShort
		s.state = domain.StateShortPosition
	}

	s.position = &domain.Position{
		Symbol:             in.Symbol,
		EntryPrice:         entryPrice,
		EntryTime:          time.Now(),
		StopLossDistance:   m.cfg.StopLossDistance,
		TakeProfitDistance: m.cfg.TakeProfitDistance,
		Size:               m.cfg.OrderSize,
		Direction:          dir,
	}
	metrics.PositionsOpened.Add(1)
	posLog.Infof("📊 开仓: %s %s entry=%s conf=%.2f", in.Symbol, action, entryPrice, in.Confidence)

	return domain.StrategyDecision{Symbol: in.Symbol, Action: action, State: s.state, Reason: "entry signal confirmed"}
}

func (m *Machine) closeLocked(s *symbolSlot) {
	s.position = nil
	metrics.PositionsClosed.Add(1)
}

func hold(symbol string, state domain.SymbolState, reason string) domain.StrategyDecision {
	return domain.StrategyDecision{Symbol: symbol, Action: domain.ActionHold, State: state, Reason: reason}
}

// ReportEquity 上报权益观测，峰值单调不减
func (m *Machine) ReportEquity(symbol string, equity decimal.Decimal) {
	m.equity.Report(symbol, equity)
}

// ResetRisk 显式解除某 symbol 的风控状态，
// 同时清空其权益轨迹。RISK_CONTROL 的唯一出口。
func (m *Machine) ResetRisk(symbol string) {
	s := m.slot(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	m.equity.Reset(symbol)
	if s.state == domain.StateRiskControl {
		s.state = domain.StateIdle
		posLog.Infof("🔄 风控已解除: %s", symbol)
	}
}

// State 返回某 symbol 的当前状态
func (m *Machine) State(symbol string) domain.SymbolState {
	s := m.slot(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PositionOf 返回某 symbol 仓位的值拷贝，无仓位返回 nil
func (m *Machine) PositionOf(symbol string) *domain.Position {
	s := m.slot(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.position == nil {
		return nil
	}
	return s.position.Copy()
}

// States 返回全部 symbol 的状态快照
func (m *Machine) States() map[string]domain.SymbolState {
	m.mu.RLock()
	symbols := make([]string, 0, len(m.slots))
	for sym := range m.slots {
		symbols = append(symbols, sym)
	}
	m.mu.RUnlock()

	out := make(map[string]domain.SymbolState, len(symbols))
	for _, sym := range symbols {
		out[sym] = m.State(sym)
	}
	return out
}

// Positions 返回全部持仓的值拷贝
func (m *Machine) Positions() map[string]*domain.Position {
	m.mu.RLock()
	symbols := make([]string, 0, len(m.slots))
	for sym := range m.slots {
		symbols = append(symbols, sym)
	}
	m.mu.RUnlock()

	out := make(map[string]*domain.Position)
	for _, sym := range symbols {
		if p := m.PositionOf(sym); p != nil {
			out[sym] = p
		}
	}
	return out
}

// Drawdown 当前回撤比例（控制面展示用）
func (m *Machine) Drawdown(symbol string) decimal.Decimal {
	return m.equity.Drawdown(symbol)
}
