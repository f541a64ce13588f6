package syncgroup

import "sync"

// SyncGroup 收集一批函数后统一以 goroutine 启动，
// 把 wg.Add/Done 配对收进内部，调用方只管 Add/Run/Wait。
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	pending []func()
	running int
}

func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 登记一个待启动的函数。Run 之后、在前一批全部结束前
// 的 Add 会被忽略。
func (g *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running > 0 {
		return
	}
	g.pending = append(g.pending, fn)
}

// Run 启动所有已登记的函数并清空登记列表
func (g *SyncGroup) Run() {
	g.mu.Lock()
	if g.running > 0 {
		g.mu.Unlock()
		return
	}
	fns := g.pending
	g.pending = nil
	g.running = len(fns)
	g.mu.Unlock()

	for _, fn := range fns {
		g.wg.Add(1)
		go func(run func()) {
			defer func() {
				g.wg.Done()
				g.mu.Lock()
				g.running--
				g.mu.Unlock()
			}()
			run()
		}(fn)
	}
}

// Wait 阻塞到当前批次的所有 goroutine 退出
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}
