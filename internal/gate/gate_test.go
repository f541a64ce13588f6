package gate

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/marketstate"
	"github.com/betbot/tradecore/pkg/persistence"
)

func testConfig() Config {
	return Config{
		SignalCooldown:     5 * time.Minute,
		ConfirmationWindow: 30 * time.Second,
		SignalMaxAge:       time.Minute,
		MaxOrdersPerSecond: 100,
	}
}

func testSignal(symbol string, dir domain.Direction, at time.Time) *domain.Signal {
	return &domain.Signal{
		Type:        "breakout",
		Direction:   dir,
		Symbol:      symbol,
		Timeframe:   "5m",
		Strength:    0.8,
		GeneratedAt: at,
		Price:       decimal.NewFromInt(100),
	}
}

// confirmAt 把一条信号走完两阶段确认：首见 + 窗口到期复核
func confirmAt(t *testing.T, g *Gate, sig *domain.Signal, at time.Time) time.Time {
	t.Helper()
	res := g.admitAt(sig, at)
	if res.Status != StatusPending {
		t.Fatalf("首见应为 pending，got %s (%s)", res.Status, res.Reason)
	}
	expiry := at.Add(g.cfg.ConfirmationWindow)
	again := *sig
	again.ID = ""
	again.GeneratedAt = expiry
	res = g.admitAt(&again, expiry)
	if res.Status != StatusConfirmed {
		t.Fatalf("窗口到期应确认，got %s (%s)", res.Status, res.Reason)
	}
	return expiry
}

func TestAdmit_TwoPhaseConfirmation(t *testing.T) {
	quotes := marketstate.NewQuoteTable()
	quotes.Update("BTC-USDT", decimal.NewFromInt(100), time.Now())
	g := New(testConfig(), quotes)

	now := time.Now()
	confirmAt(t, g, testSignal("BTC-USDT", domain.DirectionBullish, now), now)

	if g.PendingCount() != 0 {
		t.Fatalf("确认后 pending 应清空，got %d", g.PendingCount())
	}
	if g.DedupCount() != 1 {
		t.Fatalf("确认后应有 1 条去重记录，got %d", g.DedupCount())
	}
}

// 确认后冷却期内的重复信号至多确认一次
func TestAdmit_AtMostOnceWithinCooldown(t *testing.T) {
	quotes := marketstate.NewQuoteTable()
	quotes.Update("BTC-USDT", decimal.NewFromInt(100), time.Now())
	g := New(testConfig(), quotes)

	now := time.Now()
	confirmedAt := confirmAt(t, g, testSignal("BTC-USDT", domain.DirectionBullish, now), now)

	for i := 0; i < 50; i++ {
		at := confirmedAt.Add(time.Duration(i+1) * time.Second)
		sig := testSignal("BTC-USDT", domain.DirectionBullish, at)
		res := g.admitAt(sig, at)
		if res.Status != StatusRejected || res.Reason != ReasonDuplicate {
			t.Fatalf("冷却期内第 %d 条重复信号应被拒绝，got %s (%s)", i+1, res.Status, res.Reason)
		}
	}

	stats := g.GetStats()
	if stats.Confirmed != 1 {
		t.Fatalf("确认次数应为 1，got %d", stats.Confirmed)
	}
	if stats.RejectedDup != 50 {
		t.Fatalf("重复拒绝应为 50，got %d", stats.RejectedDup)
	}
}

// 冷却期过后同 key 可再次确认
func TestAdmit_ConfirmAgainAfterCooldown(t *testing.T) {
	quotes := marketstate.NewQuoteTable()
	quotes.Update("BTC-USDT", decimal.NewFromInt(100), time.Now())
	g := New(testConfig(), quotes)

	now := time.Now()
	confirmedAt := confirmAt(t, g, testSignal("BTC-USDT", domain.DirectionBullish, now), now)

	later := confirmedAt.Add(g.cfg.SignalCooldown + time.Second)
	confirmAt(t, g, testSignal("BTC-USDT", domain.DirectionBullish, later), later)

	if got := g.GetStats().Confirmed; got != 2 {
		t.Fatalf("冷却期后应可再次确认，got %d", got)
	}
}

func TestAdmit_StaleAlwaysRejected(t *testing.T) {
	g := New(testConfig(), marketstate.NewQuoteTable())

	now := time.Now()
	sig := testSignal("BTC-USDT", domain.DirectionBullish, now.Add(-2*time.Minute))
	res := g.admitAt(sig, now)
	if res.Status != StatusRejected || res.Reason != ReasonStale {
		t.Fatalf("超龄信号应被拒绝，got %s (%s)", res.Status, res.Reason)
	}

	// K线超龄同样拒绝
	sig2 := testSignal("BTC-USDT", domain.DirectionBullish, now)
	sig2.KlineCloseTime = now.Add(-2 * time.Minute)
	res = g.admitAt(sig2, now)
	if res.Status != StatusRejected || res.Reason != ReasonStale {
		t.Fatalf("K线超龄信号应被拒绝，got %s (%s)", res.Status, res.Reason)
	}
}

// 看多信号在窗口内跌破 0.9995*P 即为假突破
func TestAdmit_FakeBreakoutRejectedAtPromotion(t *testing.T) {
	quotes := marketstate.NewQuoteTable()
	quotes.Update("BTC-USDT", decimal.NewFromInt(100), time.Now())
	g := New(testConfig(), quotes)

	now := time.Now()
	sig := testSignal("BTC-USDT", domain.DirectionBullish, now)
	if res := g.admitAt(sig, now); res.Status != StatusPending {
		t.Fatalf("首见应为 pending，got %s", res.Status)
	}

	// 窗口内价格回落到容忍线之下
	quotes.Update("BTC-USDT", decimal.NewFromFloat(99.9), now.Add(10*time.Second))

	expiry := now.Add(g.cfg.ConfirmationWindow)
	again := testSignal("BTC-USDT", domain.DirectionBullish, expiry)
	res := g.admitAt(again, expiry)
	if res.Status != StatusRejected || res.Reason != ReasonFakeBreakout {
		t.Fatalf("假突破应在晋升时被拒绝，got %s (%s)", res.Status, res.Reason)
	}
	if g.PendingCount() != 0 {
		t.Fatalf("假突破后 pending 应删除")
	}
	if g.GetStats().FakeBreakouts != 1 {
		t.Fatalf("假突破计数应为 1")
	}
}

// 看多信号价格小幅回撤仍在容忍范围内
func TestAdmit_ToleranceBoundary(t *testing.T) {
	quotes := marketstate.NewQuoteTable()
	g := New(testConfig(), quotes)

	now := time.Now()
	// 99.95 == 100 * 0.9995，恰好在容忍线上
	quotes.Update("BTC-USDT", decimal.NewFromFloat(99.95), now)
	confirmAt(t, g, testSignal("BTC-USDT", domain.DirectionBullish, now), now)
}

// 看空信号方向对称：价格反弹超过 1.0005*P 即失效
func TestAdmit_BearishReversalRejected(t *testing.T) {
	quotes := marketstate.NewQuoteTable()
	quotes.Update("ETH-USDT", decimal.NewFromInt(100), time.Now())
	g := New(testConfig(), quotes)

	now := time.Now()
	sig := testSignal("ETH-USDT", domain.DirectionBearish, now)
	if res := g.admitAt(sig, now); res.Status != StatusPending {
		t.Fatalf("首见应为 pending，got %s", res.Status)
	}

	quotes.Update("ETH-USDT", decimal.NewFromFloat(100.2), now.Add(5*time.Second))

	expiry := now.Add(g.cfg.ConfirmationWindow)
	res := g.admitAt(testSignal("ETH-USDT", domain.DirectionBearish, expiry), expiry)
	if res.Status != StatusRejected || res.Reason != ReasonFakeBreakout {
		t.Fatalf("看空反弹应被拒绝，got %s (%s)", res.Status, res.Reason)
	}
}

// 首检失败不建 pending
func TestAdmit_FirstSightValidationFailure(t *testing.T) {
	quotes := marketstate.NewQuoteTable()
	quotes.Update("BTC-USDT", decimal.NewFromFloat(99.0), time.Now())
	g := New(testConfig(), quotes)

	now := time.Now()
	res := g.admitAt(testSignal("BTC-USDT", domain.DirectionBullish, now), now)
	if res.Status != StatusRejected || res.Reason != ReasonInvalid {
		t.Fatalf("首检失败应直接拒绝，got %s (%s)", res.Status, res.Reason)
	}
	if g.PendingCount() != 0 {
		t.Fatalf("首检失败不应建 pending")
	}
}

// 滚动 1 秒窗口内确认数不超过 maxOrdersPerSecond
func TestAdmit_RateBound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOrdersPerSecond = 3
	quotes := marketstate.NewQuoteTable()
	g := New(cfg, quotes)

	now := time.Now()
	confirmed, rateLimited := 0, 0
	for i := 0; i < 10; i++ {
		// 不同 symbol 避开去重，集中压限流
		sym := "SYM-" + string(rune('A'+i))
		quotes.Update(sym, decimal.NewFromInt(100), now)
		sig := testSignal(sym, domain.DirectionBullish, now)
		if res := g.admitAt(sig, now); res.Status != StatusPending {
			t.Fatalf("首见应为 pending")
		}
		expiry := now.Add(cfg.ConfirmationWindow)
		again := testSignal(sym, domain.DirectionBullish, expiry)
		switch res := g.admitAt(again, expiry); res.Status {
		case StatusConfirmed:
			confirmed++
		case StatusRejected:
			if res.Reason != ReasonRateLimited {
				t.Fatalf("预期限流拒绝，got %s", res.Reason)
			}
			rateLimited++
		default:
			t.Fatalf("意外状态 %s", res.Status)
		}
	}

	if confirmed != 3 {
		t.Fatalf("1 秒内确认数应为 3，got %d", confirmed)
	}
	if rateLimited != 7 {
		t.Fatalf("限流拒绝应为 7，got %d", rateLimited)
	}
	// 限流拒绝不消耗去重名额，pending 保留
	if g.PendingCount() != 7 {
		t.Fatalf("被限流的 pending 应保留，got %d", g.PendingCount())
	}
}

// 任意并发交错下同 key 至多确认一次
func TestAdmit_ConcurrentDuplicatesAtMostOnce(t *testing.T) {
	quotes := marketstate.NewQuoteTable()
	quotes.Update("BTC-USDT", decimal.NewFromInt(100), time.Now())
	g := New(testConfig(), quotes)

	now := time.Now()
	if res := g.admitAt(testSignal("BTC-USDT", domain.DirectionBullish, now), now); res.Status != StatusPending {
		t.Fatalf("首见应为 pending")
	}

	expiry := now.Add(g.cfg.ConfirmationWindow)
	var wg sync.WaitGroup
	var mu sync.Mutex
	confirmed := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig := testSignal("BTC-USDT", domain.DirectionBullish, expiry)
			if res := g.admitAt(sig, expiry); res.Status == StatusConfirmed {
				mu.Lock()
				confirmed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if confirmed != 1 {
		t.Fatalf("并发交错下应恰好确认一次，got %d", confirmed)
	}
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	quotes := marketstate.NewQuoteTable()
	quotes.Update("BTC-USDT", decimal.NewFromInt(100), time.Now())
	g := New(testConfig(), quotes)

	now := time.Now()
	// 一条确认记录 + 一条 pending
	confirmAt(t, g, testSignal("BTC-USDT", domain.DirectionBullish, now), now)
	if res := g.admitAt(testSignal("ETH-USDT", domain.DirectionNeutral, now), now); res.Status != StatusPending {
		t.Fatalf("首见应为 pending")
	}

	// 未到 2 倍窗口：什么都不清
	d, p := g.Sweep(now.Add(time.Minute))
	if d != 0 || p != 0 {
		t.Fatalf("窗口未到不应清理，got dedup=%d pending=%d", d, p)
	}

	// 超过 2 倍冷却期/窗口后全部清理
	far := now.Add(2*g.cfg.SignalCooldown + time.Minute)
	d, p = g.Sweep(far)
	if d != 1 || p != 1 {
		t.Fatalf("过期条目应被清理，got dedup=%d pending=%d", d, p)
	}
	if g.DedupCount() != 0 || g.PendingCount() != 0 {
		t.Fatalf("清理后表应为空")
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	quotes := marketstate.NewQuoteTable()
	quotes.Update("BTC-USDT", decimal.NewFromInt(100), time.Now())
	g := New(testConfig(), quotes)

	now := time.Now()
	confirmAt(t, g, testSignal("BTC-USDT", domain.DirectionBullish, now), now)

	store := &memStore{}
	if err := g.SaveSnapshot(store); err != nil {
		t.Fatalf("保存快照失败: %v", err)
	}

	restored := New(testConfig(), quotes)
	if err := restored.LoadSnapshot(store); err != nil {
		t.Fatalf("恢复快照失败: %v", err)
	}
	if restored.DedupCount() != 1 {
		t.Fatalf("冷却期内的记录应恢复，got %d", restored.DedupCount())
	}

	// 恢复后的冷却期仍然生效
	at := time.Now()
	sig := testSignal("BTC-USDT", domain.DirectionBullish, at)
	res := restored.admitAt(sig, at)
	if res.Status != StatusRejected || res.Reason != ReasonDuplicate {
		t.Fatalf("重启后冷却期应仍生效，got %s (%s)", res.Status, res.Reason)
	}
}

// memStore 进程内 persistence.Store 实现（测试用）
type memStore struct {
	data []byte
}

func (m *memStore) Save(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data = b
	return nil
}

func (m *memStore) Load(v interface{}) error {
	if m.data == nil {
		return persistence.ErrNotExists
	}
	return json.Unmarshal(m.data, v)
}

// 窗口到期时到达反向信号：不得借用旧 pending 的校验结果晋升。
// 看多 pending 期间价格上行，到期时的看空信号必须按首见
// 重新校验并被拒绝，而不是被确认。
func TestAdmit_OppositeDirectionAtExpiryNotPromoted(t *testing.T) {
	quotes := marketstate.NewQuoteTable()
	g := New(testConfig(), quotes)

	now := time.Now()
	quotes.Update("BTC-USDT", decimal.NewFromInt(100), now)
	if res := g.admitAt(testSignal("BTC-USDT", domain.DirectionBullish, now), now); res.Status != StatusPending {
		t.Fatalf("首见应为 pending")
	}

	// 价格上行到 101：看多 pending 仍有效，但看空信号不可能通过校验
	quotes.Update("BTC-USDT", decimal.NewFromInt(101), now)

	expiry := now.Add(g.cfg.ConfirmationWindow)
	res := g.admitAt(testSignal("BTC-USDT", domain.DirectionBearish, expiry), expiry)
	if res.Status == StatusConfirmed {
		t.Fatalf("反向信号不得借旧 pending 晋升")
	}
	if res.Status != StatusRejected || res.Reason != ReasonInvalid {
		t.Fatalf("看空信号在价格上行时应首检拒绝，got %s (%s)", res.Status, res.Reason)
	}
	if g.GetStats().Confirmed != 0 {
		t.Fatalf("不应产生任何确认")
	}
	if g.PendingCount() != 0 {
		t.Fatalf("旧 pending 应作废，got %d", g.PendingCount())
	}

	// 看空方向没有拿到冷却名额：价格回落后它仍可独立走完确认
	quotes.Update("BTC-USDT", decimal.NewFromInt(99), expiry)
	confirmAt(t, g, testSignal("BTC-USDT", domain.DirectionBearish, expiry), expiry)
}

// 方向反转时旧 pending 作废，到达信号按首见重新计窗口
func TestAdmit_DirectionFlipResetsWindow(t *testing.T) {
	quotes := marketstate.NewQuoteTable()
	g := New(testConfig(), quotes)

	now := time.Now()
	quotes.Update("BTC-USDT", decimal.NewFromInt(100), now)
	if res := g.admitAt(testSignal("BTC-USDT", domain.DirectionBullish, now), now); res.Status != StatusPending {
		t.Fatalf("首见应为 pending")
	}

	// 窗口过半时方向反转：旧 pending 作废，新方向重新首见
	mid := now.Add(g.cfg.ConfirmationWindow / 2)
	if res := g.admitAt(testSignal("BTC-USDT", domain.DirectionBearish, mid), mid); res.Status != StatusPending {
		t.Fatalf("反向信号应按首见进入新窗口，got %s", res.Status)
	}

	// 原窗口的到期时刻对新 pending 来说尚未到期
	oldExpiry := now.Add(g.cfg.ConfirmationWindow)
	if res := g.admitAt(testSignal("BTC-USDT", domain.DirectionBearish, oldExpiry), oldExpiry); res.Status != StatusPending {
		t.Fatalf("新窗口未到期不应晋升，got %s", res.Status)
	}

	// 新窗口到期后正常晋升
	newExpiry := mid.Add(g.cfg.ConfirmationWindow)
	res := g.admitAt(testSignal("BTC-USDT", domain.DirectionBearish, newExpiry), newExpiry)
	if res.Status != StatusConfirmed {
		t.Fatalf("新窗口到期应确认，got %s (%s)", res.Status, res.Reason)
	}
}

// 复核恰好一次：因限流被挡的晋升重试不再复核。
// 复核通过后价格跌破容忍度，限流窗口过去后的重试仍应确认，
// 而不是翻转成假突破。
func TestAdmit_RateLimitedRetrySkipsRevalidation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOrdersPerSecond = 1
	quotes := marketstate.NewQuoteTable()
	g := New(cfg, quotes)

	now := time.Now()
	quotes.Update("AAA-USDT", decimal.NewFromInt(100), now)
	quotes.Update("BBB-USDT", decimal.NewFromInt(100), now)

	for _, sym := range []string{"AAA-USDT", "BBB-USDT"} {
		if res := g.admitAt(testSignal(sym, domain.DirectionBullish, now), now); res.Status != StatusPending {
			t.Fatalf("%s 首见应为 pending", sym)
		}
	}

	expiry := now.Add(cfg.ConfirmationWindow)
	if res := g.admitAt(testSignal("AAA-USDT", domain.DirectionBullish, expiry), expiry); res.Status != StatusConfirmed {
		t.Fatalf("AAA 应占用唯一限流名额，got %s (%s)", res.Status, res.Reason)
	}
	if res := g.admitAt(testSignal("BBB-USDT", domain.DirectionBullish, expiry), expiry); res.Reason != ReasonRateLimited {
		t.Fatalf("BBB 应被限流，got %s (%s)", res.Status, res.Reason)
	}

	// BBB 已通过窗口边界复核；此后价格跌破容忍度不应再影响它
	quotes.Update("BBB-USDT", decimal.NewFromFloat(99.0), expiry)

	// 等真实限流窗口滚过
	time.Sleep(1100 * time.Millisecond)

	retry := expiry.Add(2 * time.Second)
	res := g.admitAt(testSignal("BBB-USDT", domain.DirectionBullish, retry), retry)
	if res.Status != StatusConfirmed {
		t.Fatalf("限流重试不应复核，应直接确认，got %s (%s)", res.Status, res.Reason)
	}
}
