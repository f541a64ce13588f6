package gate

import (
	"time"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/pkg/persistence"
)

// dedupSnapshot 去重表快照，重启后恢复冷却状态，
// 避免进程重启绕过信号冷却期
type dedupSnapshot struct {
	SavedAt time.Time       `json:"saved_at"`
	Entries []dedupSnapEntry `json:"entries"`
}

type dedupSnapEntry struct {
	Symbol      string    `json:"symbol"`
	Type        string    `json:"type"`
	Direction   string    `json:"direction"`
	Timeframe   string    `json:"timeframe"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// SaveSnapshot 保存去重表
func (g *Gate) SaveSnapshot(store persistence.Store) error {
	g.tableMu.Lock()
	snap := dedupSnapshot{SavedAt: time.Now()}
	for key, confirmedAt := range g.dedup {
		snap.Entries = append(snap.Entries, dedupSnapEntry{
			Symbol:      key.Symbol,
			Type:        string(key.Type),
			Direction:   string(key.Direction),
			Timeframe:   string(key.Timeframe),
			ConfirmedAt: confirmedAt,
		})
	}
	g.tableMu.Unlock()

	if err := store.Save(&snap); err != nil {
		return err
	}
	gateLog.Debugf("💾 去重表快照已保存: %d 条", len(snap.Entries))
	return nil
}

// LoadSnapshot 恢复去重表，已超出冷却期的条目直接丢弃
func (g *Gate) LoadSnapshot(store persistence.Store) error {
	var snap dedupSnapshot
	if err := store.Load(&snap); err != nil {
		if err == persistence.ErrNotExists {
			return nil
		}
		return err
	}

	now := time.Now()
	restored := 0
	g.tableMu.Lock()
	for _, e := range snap.Entries {
		if now.Sub(e.ConfirmedAt) >= g.cfg.SignalCooldown {
			continue
		}
		key := domain.DedupKey{
			Symbol:    e.Symbol,
			Type:      domain.SignalType(e.Type),
			Direction: domain.Direction(e.Direction),
			Timeframe: domain.Timeframe(e.Timeframe),
		}
		g.dedup[key] = e.ConfirmedAt
		restored++
	}
	g.tableMu.Unlock()

	if restored > 0 {
		gateLog.Infof("🔄 去重表已恢复: %d/%d 条仍在冷却期", restored, len(snap.Entries))
	}
	return nil
}
