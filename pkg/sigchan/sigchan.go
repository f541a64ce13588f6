package sigchan

// Chan 边沿触发的信号通道：只通知"发生过"，不携带数据。
// 缓冲满时 Emit 直接丢弃，重复触发会被合并。
type Chan struct {
	c chan struct{}
}

func New(bufferSize int) *Chan {
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 非阻塞发送一次信号
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C 供 select 使用的接收端
func (c *Chan) C() <-chan struct{} {
	return c.c
}
