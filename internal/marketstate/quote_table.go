package marketstate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Quote 单个 symbol 的最新行情快照（不可变，整体替换）
type Quote struct {
	Symbol    string
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// QuoteTable 提供"锁自由读取的最新价快照"。
//
// 目标：
// - 高频写入（行情流）与高频读取（闸门校验/状态机）解耦
// - 读取时拿到一致快照（避免多字段撕裂）
//
// 每个 symbol 对应一个 atomic.Pointer[Quote]，写入整体替换指针；
// symbol -> slot 的映射惰性创建，创建路径走一次互斥锁。
type QuoteTable struct {
	mu    sync.RWMutex
	slots map[string]*atomic.Pointer[Quote]
}

func NewQuoteTable() *QuoteTable {
	return &QuoteTable{
		slots: make(map[string]*atomic.Pointer[Quote]),
	}
}

// slot 获取（必要时创建）symbol 对应的槽位
func (t *QuoteTable) slot(symbol string) *atomic.Pointer[Quote] {
	t.mu.RLock()
	s, ok := t.slots[symbol]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.slots[symbol]; ok {
		return s
	}
	s = &atomic.Pointer[Quote]{}
	t.slots[symbol] = s
	return s
}

// Update 写入 symbol 的最新价
func (t *QuoteTable) Update(symbol string, price decimal.Decimal, at time.Time) {
	if t == nil || symbol == "" {
		return
	}
	t.slot(symbol).Store(&Quote{Symbol: symbol, Price: price, UpdatedAt: at})
}

// Get 读取 symbol 的最新快照；没有任何行情时返回 (nil, false)
func (t *QuoteTable) Get(symbol string) (*Quote, bool) {
	t.mu.RLock()
	s, ok := t.slots[symbol]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	q := s.Load()
	if q == nil {
		return nil, false
	}
	return q, true
}

// IsFresh 判断 symbol 的行情是否在 maxAge 内更新过
func (t *QuoteTable) IsFresh(symbol string, maxAge time.Duration) bool {
	q, ok := t.Get(symbol)
	if !ok || q.UpdatedAt.IsZero() {
		return false
	}
	return time.Since(q.UpdatedAt) <= maxAge
}

// Symbols 返回当前已知的全部 symbol
func (t *QuoteTable) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.slots))
	for s := range t.slots {
		out = append(out, s)
	}
	return out
}

// Reset 清空某个 symbol 的快照（原地置空，不替换槽位指针）
func (t *QuoteTable) Reset(symbol string) {
	t.mu.RLock()
	s, ok := t.slots[symbol]
	t.mu.RUnlock()
	if ok {
		s.Store(nil)
	}
}
