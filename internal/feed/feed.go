package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/marketstate"
	"github.com/betbot/tradecore/pkg/config"
	"github.com/betbot/tradecore/pkg/logger"
	"github.com/betbot/tradecore/pkg/sigchan"
	"github.com/betbot/tradecore/pkg/syncgroup"
)

var feedLog = logger.WithField("module", "feed")

const (
	pingInterval = 10 * time.Second
	readTimeout  = 30 * time.Second
	writeTimeout = 10 * time.Second

	initialReconnectWait = time.Second
)

// tickMessage 行情推送消息
type tickMessage struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Ts     int64           `json:"ts"` // unix 毫秒
}

// subscribeMessage 订阅请求
type subscribeMessage struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// TickHandler 行情回调，在行情写入 QuoteTable 之后调用
type TickHandler func(symbol string, price decimal.Decimal, at time.Time)

// Stream 行情流
//
// WebSocket 连接断开后信号驱动重连，退避指数增长、
// 上限封顶。每个 tick 先写入 QuoteTable 原子快照（闸门
// 验证读这里），再触发回调。
type Stream struct {
	cfg    config.FeedConfig
	quotes *marketstate.QuoteTable

	conn   *websocket.Conn
	connMu sync.Mutex

	reconnectC *sigchan.Chan
	closeC     chan struct{}
	closeOnce  sync.Once

	handlersMu sync.RWMutex
	handlers   []TickHandler

	sg *syncgroup.SyncGroup
}

func NewStream(cfg config.FeedConfig, quotes *marketstate.QuoteTable) *Stream {
	return &Stream{
		cfg:        cfg,
		quotes:     quotes,
		reconnectC: sigchan.New(1),
		closeC:     make(chan struct{}),
		sg:         syncgroup.NewSyncGroup(),
	}
}

// OnTick 注册行情回调
func (s *Stream) OnTick(h TickHandler) {
	if h == nil {
		return
	}
	s.handlersMu.Lock()
	s.handlers = append(s.handlers, h)
	s.handlersMu.Unlock()
}

// Connect 建立连接并启动读循环与重连守护
func (s *Stream) Connect(ctx context.Context) error {
	if err := s.dial(ctx); err != nil {
		return err
	}

	s.sg.Add(func() { s.reconnector(ctx) })
	s.sg.Run()
	return nil
}

func (s *Stream) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.Endpoint, nil)
	if err != nil {
		return errors.Wrapf(err, "feed: dial %s", s.cfg.Endpoint)
	}

	sub := subscribeMessage{Op: "subscribe", Symbols: s.cfg.Symbols}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "feed: subscribe")
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	connCtx, connCancel := context.WithCancel(ctx)
	go s.readLoop(connCtx, conn, connCancel)
	go s.pingLoop(connCtx, conn)

	feedLog.Infof("✅ 行情流已连接: %s symbols=%v", s.cfg.Endpoint, s.cfg.Symbols)
	return nil
}

// reconnector 信号驱动的重连守护，退避封顶
func (s *Stream) reconnector(ctx context.Context) {
	wait := initialReconnectWait
	maxWait := s.cfg.ReconnectMaxWait
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeC:
			return
		case <-s.reconnectC.C():
			feedLog.Warnf("🔄 行情流重连中，等待 %s", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			case <-s.closeC:
				return
			}

			if err := s.dial(ctx); err != nil {
				feedLog.Errorf("💥 行情流重连失败: %v", err)
				wait *= 2
				if wait > maxWait {
					wait = maxWait
				}
				s.reconnectC.Emit()
				continue
			}
			wait = initialReconnectWait
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	defer func() {
		_ = conn.Close()
		select {
		case <-ctx.Done():
		case <-s.closeC:
		default:
			s.reconnectC.Emit()
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			case <-s.closeC:
			default:
				feedLog.Warnf("💥 行情流读取失败: %v", err)
			}
			return
		}

		var tick tickMessage
		if err := json.Unmarshal(raw, &tick); err != nil {
			feedLog.Debugf("忽略无法解析的消息: %s", raw)
			continue
		}
		if tick.Symbol == "" || !tick.Price.IsPositive() {
			continue
		}

		at := time.Now()
		if tick.Ts > 0 {
			at = time.UnixMilli(tick.Ts)
		}
		s.quotes.Update(tick.Symbol, tick.Price, at)
		s.dispatch(tick.Symbol, tick.Price, at)
	}
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeC:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Stream) dispatch(symbol string, price decimal.Decimal, at time.Time) {
	s.handlersMu.RLock()
	handlers := s.handlers
	s.handlersMu.RUnlock()

	for _, h := range handlers {
		h(symbol, price, at)
	}
}

// Close 关闭行情流，等待后台 goroutine 退出
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.closeC) })

	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.connMu.Unlock()

	s.sg.Wait()
	feedLog.Info("行情流已关闭")
}
