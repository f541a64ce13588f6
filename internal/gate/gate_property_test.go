package gate

import (
	"testing"
	"testing/quick"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/marketstate"
)

// **Property: 至多一次确认**
// 对于任意数量的快速重复信号（同 key），一个冷却期内至多产生一次确认，
// 与重复次数和到达次序无关
func TestProperty_AtMostOnceConfirmation(t *testing.T) {
	property := func(dupCount uint8, bearish bool) bool {
		// 输入域约束：至少 1 条重复
		n := int(dupCount%64) + 1

		dir := domain.DirectionBullish
		if bearish {
			dir = domain.DirectionBearish
		}

		quotes := marketstate.NewQuoteTable()
		now := time.Now()
		quotes.Update("BTC-USDT", decimal.NewFromInt(100), now)
		g := New(testConfig(), quotes)

		// 首见 + 到期晋升
		if res := g.admitAt(testSignal("BTC-USDT", dir, now), now); res.Status != StatusPending {
			return false
		}
		expiry := now.Add(g.cfg.ConfirmationWindow)
		if res := g.admitAt(testSignal("BTC-USDT", dir, expiry), expiry); res.Status != StatusConfirmed {
			return false
		}

		// 冷却期内任意条重复，全部拒绝
		for i := 0; i < n; i++ {
			at := expiry.Add(time.Duration(i+1) * time.Millisecond)
			res := g.admitAt(testSignal("BTC-USDT", dir, at), at)
			if res.Status != StatusRejected || res.Reason != ReasonDuplicate {
				return false
			}
		}

		return g.GetStats().Confirmed == 1
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 50}); err != nil {
		t.Fatalf("至多一次确认属性不成立: %v", err)
	}
}

// **Property: 过期信号恒被拒绝**
// 无论去重/确认表处于何种状态，超龄信号总是被拒绝
func TestProperty_StaleAlwaysRejected(t *testing.T) {
	property := func(extraSeconds uint16) bool {
		g := New(testConfig(), marketstate.NewQuoteTable())

		now := time.Now()
		age := g.cfg.SignalMaxAge + time.Duration(extraSeconds%3600+1)*time.Second
		sig := testSignal("BTC-USDT", domain.DirectionBullish, now.Add(-age))

		res := g.admitAt(sig, now)
		return res.Status == StatusRejected && res.Reason == ReasonStale
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 100}); err != nil {
		t.Fatalf("过期拒绝属性不成立: %v", err)
	}
}

// **Property: 方向感知容忍度**
// 看多信号晋升成立当且仅当当前价 >= 0.9995*信号价；看空对称
func TestProperty_DirectionalTolerance(t *testing.T) {
	property := func(priceCents uint32, bearish bool) bool {
		// 当前价域：50.00 ~ 150.00
		current := decimal.New(int64(priceCents%10001+5000), -2)
		signalPrice := decimal.NewFromInt(100)

		dir := domain.DirectionBullish
		tolerance := signalPrice.Mul(bullishTolerance)
		expectValid := current.GreaterThanOrEqual(tolerance)
		if bearish {
			dir = domain.DirectionBearish
			tolerance = signalPrice.Mul(bearishTolerance)
			expectValid = current.LessThanOrEqual(tolerance)
		}

		quotes := marketstate.NewQuoteTable()
		now := time.Now()
		quotes.Update("BTC-USDT", current, now)
		g := New(testConfig(), quotes)

		res := g.admitAt(testSignal("BTC-USDT", dir, now), now)
		if expectValid {
			return res.Status == StatusPending
		}
		return res.Status == StatusRejected && res.Reason == ReasonInvalid
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 200}); err != nil {
		t.Fatalf("方向容忍度属性不成立: %v", err)
	}
}
