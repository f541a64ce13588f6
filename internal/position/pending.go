package position

import (
	"fmt"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/metrics"
)

// 异步执行回报接口。同步调用方（engine）直接用 Decide 的
// 结果驱动状态；接入真实下单执行器时，用这组方法把
// 指令发出与成交回报拆成两段。

// MarkPendingEntry 开仓指令已发出，进入等待回报状态
func (m *Machine) MarkPendingEntry(symbol string) error {
	s := m.slot(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CanEnter() {
		return fmt.Errorf("cannot mark pending entry from state %s", s.state)
	}
	s.state = domain.StatePendingEntry
	return nil
}

// AcknowledgeEntry 开仓成交回报：落仓并转入持仓状态
func (m *Machine) AcknowledgeEntry(symbol string, pos *domain.Position) error {
	if pos == nil {
		return fmt.Errorf("acknowledge entry requires a position")
	}

	s := m.slot(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StatePendingEntry {
		return fmt.Errorf("unexpected entry ack in state %s", s.state)
	}

	s.position = pos.Copy()
	if pos.Direction == domain.PositionShort {
		s.state = domain.StateShortPosition
	} else {
		s.state = domain.StateLongPosition
	}
	metrics.PositionsOpened.Add(1)
	posLog.Infof("📊 开仓回报确认: %s %s entry=%s", symbol, pos.Direction, pos.EntryPrice)
	return nil
}

// MarkPendingExit 平仓指令已发出，进入等待回报状态
func (m *Machine) MarkPendingExit(symbol string) error {
	s := m.slot(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.IsPositionState() {
		return fmt.Errorf("cannot mark pending exit from state %s", s.state)
	}
	s.state = domain.StatePendingExit
	return nil
}

// AcknowledgeExit 平仓成交回报：清除仓位记录，回到空闲
func (m *Machine) AcknowledgeExit(symbol string) error {
	s := m.slot(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StatePendingExit {
		return fmt.Errorf("unexpected exit ack in state %s", s.state)
	}

	m.closeLocked(s)
	s.state = domain.StateIdle
	posLog.Infof("✅ 平仓回报确认: %s", symbol)
	return nil
}
