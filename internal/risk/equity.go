package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/pkg/logger"
)

var riskLog = logger.WithField("module", "risk")

// EquityBook 按品种跟踪权益峰值与回撤。
// 峰值单调不减，重置只能通过 Reset 显式触发（人工确认风险已解除）。
type EquityBook struct {
	mu          sync.RWMutex
	tracks      map[string]*domain.EquityTrack
	maxDrawdown decimal.Decimal
}

func NewEquityBook(maxDrawdown decimal.Decimal) *EquityBook {
	return &EquityBook{
		tracks:      make(map[string]*domain.EquityTrack),
		maxDrawdown: maxDrawdown,
	}
}

// Report 上报一次权益观测
func (b *EquityBook) Report(symbol string, equity decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	track, ok := b.tracks[symbol]
	if !ok {
		track = &domain.EquityTrack{}
		b.tracks[symbol] = track
	}
	track.Update(equity)
}

// Drawdown 当前回撤比例；无观测时返回 0
func (b *EquityBook) Drawdown(symbol string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	track, ok := b.tracks[symbol]
	if !ok {
		return decimal.Zero
	}
	return track.Drawdown()
}

// Breached 回撤是否达到熔断阈值
func (b *EquityBook) Breached(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	track, ok := b.tracks[symbol]
	if !ok {
		return false
	}
	return track.Drawdown().GreaterThanOrEqual(b.maxDrawdown)
}

// Reset 清空某品种的权益轨迹（人工风控解除时调用）
func (b *EquityBook) Reset(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tracks[symbol]; ok {
		delete(b.tracks, symbol)
		riskLog.Infof("🔄 权益轨迹已重置: %s", symbol)
	}
}

// Snapshot 返回全部轨迹的值拷贝
func (b *EquityBook) Snapshot() map[string]domain.EquityTrack {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]domain.EquityTrack, len(b.tracks))
	for symbol, track := range b.tracks {
		out[symbol] = *track
	}
	return out
}
