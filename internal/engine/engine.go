package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/advisor"
	"github.com/betbot/tradecore/internal/coordinator"
	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/gate"
	"github.com/betbot/tradecore/internal/history"
	"github.com/betbot/tradecore/internal/marketstate"
	"github.com/betbot/tradecore/internal/metrics"
	"github.com/betbot/tradecore/internal/position"
	"github.com/betbot/tradecore/internal/risk"
	"github.com/betbot/tradecore/pkg/config"
	"github.com/betbot/tradecore/pkg/logger"
	"github.com/betbot/tradecore/pkg/syncgroup"
)

var engineLog = logger.WithField("module", "engine")

// AccountSource 账户状态来源（安全校验用）
type AccountSource func() domain.AccountStatus

// marketView 某 symbol 最近一次的市场观测
type marketView struct {
	regime        domain.MarketRegime
	trendStrength float64
	updatedAt     time.Time
}

// Options 引擎装配参数
type Options struct {
	Config     *config.Config
	Gate       *gate.Gate
	Machine    *position.Machine
	Coord      *coordinator.Coordinator
	Quotes     *marketstate.QuoteTable
	AISource   advisor.Source    // 可为 nil
	RuleSource advisor.Source    // 可为 nil
	Recorder   *history.Recorder // 可为 nil
	Breaker    *risk.CircuitBreaker
	Account    AccountSource // 可为 nil
}

// Engine 策略驱动器
//
// 两条独立的处理路径：
//   - 信号路径：信号闸门准入 → 状态机决策，按 symbol 串行、
//     跨 symbol 并行，单 symbol 故障不外溢（隔舱）。
//   - 协调路径：周期性收集各顾问来源建议 → 协调器融合 →
//     历史记录。来源失败按"本周期无决策"处理。
type Engine struct {
	cfg     *config.Config
	gate    *gate.Gate
	machine *position.Machine
	coord   *coordinator.Coordinator
	quotes  *marketstate.QuoteTable

	aiSource   advisor.Source
	ruleSource advisor.Source
	recorder   *history.Recorder
	breaker    *risk.CircuitBreaker
	account    AccountSource

	viewMu sync.RWMutex
	views  map[string]marketView

	sg *syncgroup.SyncGroup
}

func New(opts Options) *Engine {
	return &Engine{
		cfg:        opts.Config,
		gate:       opts.Gate,
		machine:    opts.Machine,
		coord:      opts.Coord,
		quotes:     opts.Quotes,
		aiSource:   opts.AISource,
		ruleSource: opts.RuleSource,
		recorder:   opts.Recorder,
		breaker:    opts.Breaker,
		account:    opts.Account,
		views:      make(map[string]marketView),
		sg:         syncgroup.NewSyncGroup(),
	}
}

// UpdateMarketView 指标协作方上报市场观测（趋势强度、市况）
func (e *Engine) UpdateMarketView(symbol string, regime domain.MarketRegime, trendStrength float64) {
	e.viewMu.Lock()
	e.views[symbol] = marketView{regime: regime, trendStrength: trendStrength, updatedAt: time.Now()}
	e.viewMu.Unlock()
}

func (e *Engine) viewOf(symbol string) marketView {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	if v, ok := e.views[symbol]; ok {
		return v
	}
	// 无观测：市况未知，趋势强度标记为缺失
	return marketView{regime: domain.RegimeUnknown, trendStrength: -1}
}

// ProcessSignal 信号路径入口：准入 → 决策。
// 只有确认信号才会驱动状态机；pending 与 rejected 均返回
// 空决策（Action 为空，IsHold 为真）。
func (e *Engine) ProcessSignal(sig *domain.Signal, confidence float64) domain.StrategyDecision {
	if sig == nil {
		return domain.StrategyDecision{Action: domain.ActionHold, Reason: gate.ReasonInvalid}
	}

	res := e.gate.Admit(sig)
	if res.Status != gate.StatusConfirmed {
		return domain.StrategyDecision{Symbol: sig.Symbol, Action: domain.ActionHold, Reason: res.Reason}
	}

	view := e.viewOf(sig.Symbol)
	var current decimal.Decimal
	if q, ok := e.quotes.Get(sig.Symbol); ok {
		current = q.Price
	}

	decision := e.machine.Decide(position.DecideInput{
		Symbol:        sig.Symbol,
		Signal:        sig,
		Confidence:    confidence,
		Regime:        view.regime,
		TrendStrength: view.trendStrength,
		CurrentPrice:  current,
	})
	if !decision.Action.IsHold() {
		engineLog.Infof("📊 信号决策: %s %s state=%s (%s)",
			decision.Symbol, decision.Action, decision.State, decision.Reason)
	}
	return decision
}

// HandleTick 行情路径：持仓品种在每个 tick 上复查止损/止盈
func (e *Engine) HandleTick(symbol string, price decimal.Decimal, _ time.Time) {
	if !e.machine.State(symbol).IsPositionState() {
		return
	}

	view := e.viewOf(symbol)
	decision := e.machine.Decide(position.DecideInput{
		Symbol:        symbol,
		Regime:        view.regime,
		TrendStrength: view.trendStrength,
		CurrentPrice:  price,
	})
	if !decision.Action.IsHold() {
		engineLog.Infof("📊 行情触发决策: %s %s state=%s (%s)",
			decision.Symbol, decision.Action, decision.State, decision.Reason)
	}
}

// snapshot 为顾问来源构造当前市场上下文
func (e *Engine) snapshot() []advisor.MarketContext {
	symbols := e.quotes.Symbols()
	out := make([]advisor.MarketContext, 0, len(symbols))
	for _, sym := range symbols {
		ctx := advisor.MarketContext{
			Symbol: sym,
			State:  e.machine.State(sym),
			Regime: e.viewOf(sym).regime,
		}
		if q, ok := e.quotes.Get(sym); ok {
			ctx.LastPrice = q.Price
		}
		ctx.Position = e.machine.PositionOf(sym)
		out = append(out, ctx)
	}
	return out
}

// collect 调用单个顾问来源，失败视为本周期该来源无决策
func (e *Engine) collect(ctx context.Context, src advisor.Source, snapshot []advisor.MarketContext) []domain.AdvisoryDecision {
	if src == nil {
		return nil
	}

	timeout := e.cfg.Advisor.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	decisions, err := src.Advise(cctx, snapshot)
	if err != nil {
		metrics.AdvisorCycleErrors.Add(1)
		e.breaker.OnError()
		if e.breaker.AllowTrading() != nil {
			engineLog.Errorf("💥 顾问连续失败，熔断触发: %s", src.Name())
		}
		engineLog.Warnf("⏳ 顾问来源 %s 本周期无决策: %v", src.Name(), err)
		return nil
	}
	e.breaker.OnSuccess()
	return decisions
}

// RunCoordinationCycle 执行一个协调周期，返回通过安全校验的决策
func (e *Engine) RunCoordinationCycle(ctx context.Context) []domain.CoordinatedDecision {
	snapshot := e.snapshot()
	if len(snapshot) == 0 {
		return nil
	}

	aiDecisions := e.collect(ctx, e.aiSource, snapshot)
	ruleDecisions := e.collect(ctx, e.ruleSource, snapshot)
	if len(aiDecisions) == 0 && len(ruleDecisions) == 0 {
		return nil
	}

	decisions := e.coord.Coordinate(aiDecisions, ruleDecisions)
	for _, d := range decisions {
		if e.recorder != nil {
			if err := e.recorder.Record(d); err != nil {
				engineLog.Warnf("💥 决策历史写入失败: %v", err)
			}
		}
	}
	if len(decisions) > 0 {
		engineLog.Infof("✅ 协调周期完成: ai=%d rule=%d → 通过 %d",
			len(aiDecisions), len(ruleDecisions), len(decisions))
	}
	return decisions
}

// Run 启动协调周期循环与闸门清理，阻塞到 ctx 取消
func (e *Engine) Run(ctx context.Context) {
	interval := e.cfg.CoordinationInterval
	if interval <= 0 {
		interval = time.Minute
	}

	e.sg.Add(func() { e.gate.RunCleanup(ctx, e.cfg.Gate.CleanupInterval) })
	e.sg.Add(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.RunCoordinationCycle(ctx)
			}
		}
	})
	e.sg.Run()

	engineLog.Infof("✅ 引擎已启动, 协调间隔=%s", interval)
	<-ctx.Done()
	e.sg.Wait()
	engineLog.Info("引擎已停止")
}

// ReportEquity 外部权益上报入口
func (e *Engine) ReportEquity(symbol string, equity decimal.Decimal) {
	e.machine.ReportEquity(symbol, equity)
}

// ResetRisk 解除风控：复位 symbol 状态并恢复断路器
func (e *Engine) ResetRisk(symbol string) {
	e.machine.ResetRisk(symbol)
	e.breaker.Resume()
}

// Machine 暴露状态机（控制面只读查询用）
func (e *Engine) Machine() *position.Machine { return e.machine }

// GateStats 闸门计数快照
func (e *Engine) GateStats() gate.Stats { return e.gate.GetStats() }

// Recorder 决策历史（可能为 nil）
func (e *Engine) Recorder() *history.Recorder { return e.recorder }
