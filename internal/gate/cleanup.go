package gate

import (
	"context"
	"time"
)

// Sweep 清理过期条目：
//   - dedup 条目早于 2×冷却期
//   - pending 条目早于 2×确认窗口
//
// 阈值取两倍窗口，保证不会移除窗口尚未到期的条目，
// 因此可以与准入流程并发运行。被遗弃的 pending（确认后
// 再无同 key 信号到达）由这里兜底回收。
func (g *Gate) Sweep(now time.Time) (removedDedup, removedPending int) {
	dedupCutoff := now.Add(-2 * g.cfg.SignalCooldown)
	pendingCutoff := now.Add(-2 * g.cfg.ConfirmationWindow)

	g.tableMu.Lock()
	defer g.tableMu.Unlock()

	for key, confirmedAt := range g.dedup {
		if confirmedAt.Before(dedupCutoff) {
			delete(g.dedup, key)
			removedDedup++
		}
	}
	for key, pc := range g.pending {
		if pc.firstSeenAt.Before(pendingCutoff) {
			delete(g.pending, key)
			removedPending++
		}
	}
	return removedDedup, removedPending
}

// RunCleanup 周期性清理，直到 ctx 取消
func (g *Gate) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d, p := g.Sweep(now)
			if d > 0 || p > 0 {
				gateLog.Debugf("🧹 清理过期条目: dedup=%d pending=%d", d, p)
			}
		}
	}
}
