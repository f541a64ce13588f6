package gate

import "sync"

// symbolLockMap 按 symbol 维度的互斥锁表。
//
// 同一 symbol 的准入流程必须严格串行（否则 pending 表的"每 key 至多一条"
// 不变量会被并发写坏），不同 symbol 之间完全并行。
// 锁惰性创建，创建后不回收：symbol 数量有限，常驻开销可以接受。
type symbolLockMap struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newSymbolLockMap() *symbolLockMap {
	return &symbolLockMap{m: make(map[string]*sync.Mutex, 64)}
}

// Get 获取 symbol 对应的锁（必要时创建）
func (l *symbolLockMap) Get(symbol string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu := l.m[symbol]
	if mu == nil {
		mu = &sync.Mutex{}
		l.m[symbol] = mu
	}
	return mu
}
