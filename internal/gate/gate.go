package gate

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/marketstate"
	"github.com/betbot/tradecore/internal/metrics"
	"github.com/betbot/tradecore/pkg/ratelimit"
)

var gateLog = logrus.WithField("module", "signal_gate")

// AdmitStatus 准入结果状态
type AdmitStatus string

const (
	StatusConfirmed AdmitStatus = "confirmed" // 已确认，可进入决策
	StatusPending   AdmitStatus = "pending"   // 等待确认窗口
	StatusRejected  AdmitStatus = "rejected"  // 已拒绝
)

// 拒绝原因（附在 Result.Reason 上，供编排层记录）
const (
	ReasonStale        = "stale"
	ReasonDuplicate    = "duplicate"
	ReasonFakeBreakout = "fake_breakout"
	ReasonRateLimited  = "rate_limited"
	ReasonInvalid      = "invalid"
)

// Result 准入结果
type Result struct {
	Status AdmitStatus
	Reason string
}

// Config 闸门配置
type Config struct {
	SignalCooldown     time.Duration // 同 (symbol,type,direction,timeframe) 的确认冷却期
	ConfirmationWindow time.Duration // 假突破确认窗口
	SignalMaxAge       time.Duration // 信号/K线最大年龄
	MaxOrdersPerSecond int           // 全局每秒最大确认数
}

// 确认校验的方向容忍度：
// 看多信号要求当前价 >= 信号价 * 0.9995，看空信号要求 <= 信号价 * 1.0005。
var (
	bullishTolerance = decimal.NewFromFloat(0.9995)
	bearishTolerance = decimal.NewFromFloat(1.0005)
)

// pendingConfirmation 待确认条目，每个 (symbol,type,timeframe) 至多一条。
// revalidated 标记窗口到期复核已通过：之后仅因限流被挡的晋升
// 重试不再复核（复核恰好一次，在窗口边界）。
type pendingConfirmation struct {
	signal         *domain.Signal
	firstSeenAt    time.Time
	klineCloseTime time.Time
	revalidated    bool
}

// Gate 信号闸门：过滤过期、重复与假突破信号，并约束全局确认速率。
//
// 并发契约：
//   - 同一 symbol 的准入严格串行（symbolLockMap）
//   - dedup/pending 表由 tableMu 保护，可与不同 symbol 的准入并发访问
//   - 清理协程可与准入并发运行，只移除窗口已过期的条目
type Gate struct {
	cfg    Config
	quotes *marketstate.QuoteTable

	tableMu sync.Mutex
	dedup   map[domain.DedupKey]time.Time             // key -> 最近一次确认时间
	pending map[domain.ConfirmKey]*pendingConfirmation

	locks   *symbolLockMap
	limiter *ratelimit.SlidingWindow

	stats Stats
}

// Stats 闸门运行计数（原子性由 tableMu 顺带保证：只在准入路径更新）
type Stats struct {
	Confirmed        int64
	Pending          int64
	RejectedStale    int64
	RejectedDup      int64
	RejectedFake     int64
	RejectedRate     int64
	RejectedInvalid  int64
	FakeBreakouts    int64 // 窗口到期复核失败的次数
}

// New 创建信号闸门
func New(cfg Config, quotes *marketstate.QuoteTable) *Gate {
	return &Gate{
		cfg:     cfg,
		quotes:  quotes,
		dedup:   make(map[domain.DedupKey]time.Time),
		pending: make(map[domain.ConfirmKey]*pendingConfirmation),
		locks:   newSymbolLockMap(),
		limiter: ratelimit.NewSlidingWindow(cfg.MaxOrdersPerSecond, time.Second),
	}
}

// Admit 处理一条信号，返回准入结果。
//
// 流程（按序）：新鲜度 -> 去重 -> 两阶段确认 -> 全局限流。
// 拒绝是静默的（计数，不重试）。
func (g *Gate) Admit(sig *domain.Signal) Result {
	return g.admitAt(sig, time.Now())
}

func (g *Gate) admitAt(sig *domain.Signal, now time.Time) Result {
	if sig == nil || sig.Symbol == "" {
		return g.reject(ReasonInvalid)
	}
	sig.EnsureID()

	// 同一 symbol 严格串行，保证 pending 不变量
	mu := g.locks.Get(sig.Symbol)
	mu.Lock()
	defer mu.Unlock()

	// 1) 新鲜度
	if g.isStale(sig, now) {
		g.count(&g.stats.RejectedStale)
		metrics.SignalsRejectedStale.Add(1)
		gateLog.Debugf("信号过期: id=%s symbol=%s age=%v", sig.ID, sig.Symbol, sig.Age(now))
		return Result{Status: StatusRejected, Reason: ReasonStale}
	}

	// 2) 去重：冷却期内同 key 只确认一次
	dkey := domain.DedupKeyOf(sig)
	g.tableMu.Lock()
	last, seen := g.dedup[dkey]
	g.tableMu.Unlock()
	if seen && now.Sub(last) < g.cfg.SignalCooldown {
		g.count(&g.stats.RejectedDup)
		metrics.SignalsRejectedDup.Add(1)
		gateLog.Debugf("信号重复: id=%s symbol=%s 距上次确认 %v", sig.ID, sig.Symbol, now.Sub(last))
		return Result{Status: StatusRejected, Reason: ReasonDuplicate}
	}

	// 3) 两阶段确认
	return g.confirm(sig, now)
}

// confirm 两阶段假突破确认。
//
// 首见：立即按当前行情校验，失败则拒绝且不建 pending；通过则建 pending 等待。
// 窗口内重复到达：继续等待，不做任何状态变更（不轮询复核）。
// 窗口到期：恰好复核一次；仍然有效则晋升，否则按假突破拒绝。
// 方向反转（pending 为看多、到达为看空，或反之）：旧 pending 作废，
// 到达信号按首见重新走确认，绝不借旧 pending 的校验结果晋升。
func (g *Gate) confirm(sig *domain.Signal, now time.Time) Result {
	ckey := domain.ConfirmKeyOf(sig)

	g.tableMu.Lock()
	pc, exists := g.pending[ckey]
	g.tableMu.Unlock()

	if exists && pc.signal.Direction != sig.Direction {
		g.tableMu.Lock()
		delete(g.pending, ckey)
		g.tableMu.Unlock()
		gateLog.Debugf("方向反转，确认窗口重置: symbol=%s %s→%s",
			sig.Symbol, pc.signal.Direction, sig.Direction)
		exists = false
	}

	if !exists {
		// 首见：即时校验
		if !g.validate(sig) {
			g.count(&g.stats.RejectedInvalid)
			metrics.SignalsRejectedInvalid.Add(1)
			gateLog.Debugf("信号首检失败: id=%s symbol=%s dir=%s", sig.ID, sig.Symbol, sig.Direction)
			return Result{Status: StatusRejected, Reason: ReasonInvalid}
		}
		g.tableMu.Lock()
		g.pending[ckey] = &pendingConfirmation{
			signal:         sig,
			firstSeenAt:    now,
			klineCloseTime: sig.KlineCloseTime,
		}
		g.tableMu.Unlock()
		g.count(&g.stats.Pending)
		metrics.SignalsPending.Add(1)
		gateLog.Debugf("信号进入确认窗口: id=%s symbol=%s window=%v", sig.ID, sig.Symbol, g.cfg.ConfirmationWindow)
		return Result{Status: StatusPending, Reason: "awaiting confirmation"}
	}

	if now.Sub(pc.firstSeenAt) < g.cfg.ConfirmationWindow {
		// 窗口未到：继续等待
		return Result{Status: StatusPending, Reason: "awaiting confirmation"}
	}

	// 窗口到期：恰好一次复核（限流重试不再复核）
	if !pc.revalidated {
		if !g.validate(pc.signal) {
			g.tableMu.Lock()
			delete(g.pending, ckey)
			g.tableMu.Unlock()
			g.count(&g.stats.RejectedFake)
			g.count(&g.stats.FakeBreakouts)
			metrics.SignalsRejectedFake.Add(1)
			gateLog.Infof("💥 检测到假突破: symbol=%s type=%s dir=%s", sig.Symbol, sig.Type, pc.signal.Direction)
			return Result{Status: StatusRejected, Reason: ReasonFakeBreakout}
		}
		pc.revalidated = true
	}

	// 4) 全局限流：满额时拒绝，但不消耗去重/冷却名额，pending 保留以便后续重试晋升
	if !g.limiter.Allow() {
		g.count(&g.stats.RejectedRate)
		metrics.SignalsRejectedRate.Add(1)
		gateLog.Warnf("⏳ 确认被限流: symbol=%s (%d/s)", sig.Symbol, g.cfg.MaxOrdersPerSecond)
		return Result{Status: StatusRejected, Reason: ReasonRateLimited}
	}

	// 晋升：删 pending，去重键取自被复核的 pending 信号
	g.tableMu.Lock()
	delete(g.pending, ckey)
	g.dedup[domain.DedupKeyOf(pc.signal)] = now
	g.tableMu.Unlock()
	g.count(&g.stats.Confirmed)
	metrics.SignalsConfirmed.Add(1)
	gateLog.Infof("✅ 信号确认: id=%s symbol=%s type=%s dir=%s strength=%.2f",
		pc.signal.ID, sig.Symbol, sig.Type, pc.signal.Direction, pc.signal.Strength)
	return Result{Status: StatusConfirmed, Reason: "confirmed"}
}

// isStale 信号或对应K线是否超龄
func (g *Gate) isStale(sig *domain.Signal, now time.Time) bool {
	if now.Sub(sig.GeneratedAt) > g.cfg.SignalMaxAge {
		return true
	}
	if !sig.KlineCloseTime.IsZero() && now.Sub(sig.KlineCloseTime) > g.cfg.SignalMaxAge {
		return true
	}
	return false
}

// validate 按当前行情做方向感知校验（反假突破启发式）。
//
// 看多：当前价 >= 信号价 * 0.9995；看空：当前价 <= 信号价 * 1.0005；
// 中性信号恒有效。信号未记录价格、或暂无行情快照时视为有效（无从证伪）。
func (g *Gate) validate(sig *domain.Signal) bool {
	if sig.Direction == domain.DirectionNeutral || !sig.HasPrice() {
		return true
	}
	if g.quotes == nil {
		return true
	}
	q, ok := g.quotes.Get(sig.Symbol)
	if !ok {
		return true
	}

	switch sig.Direction {
	case domain.DirectionBullish:
		return q.Price.GreaterThanOrEqual(sig.Price.Mul(bullishTolerance))
	case domain.DirectionBearish:
		return q.Price.LessThanOrEqual(sig.Price.Mul(bearishTolerance))
	}
	return true
}

func (g *Gate) reject(reason string) Result {
	g.count(&g.stats.RejectedInvalid)
	metrics.SignalsRejectedInvalid.Add(1)
	return Result{Status: StatusRejected, Reason: reason}
}

// count 更新计数器（在 tableMu 外调用也安全：低频写，读取仅用于展示）
func (g *Gate) count(c *int64) {
	g.tableMu.Lock()
	*c++
	g.tableMu.Unlock()
}

// GetStats 返回计数快照
func (g *Gate) GetStats() Stats {
	g.tableMu.Lock()
	defer g.tableMu.Unlock()
	return g.stats
}

// PendingCount 当前待确认条目数
func (g *Gate) PendingCount() int {
	g.tableMu.Lock()
	defer g.tableMu.Unlock()
	return len(g.pending)
}

// DedupCount 当前去重条目数
func (g *Gate) DedupCount() int {
	g.tableMu.Lock()
	defer g.tableMu.Unlock()
	return len(g.dedup)
}
