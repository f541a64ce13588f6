package marketstate

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestQuoteTable_UpdateAndGet(t *testing.T) {
	tab := NewQuoteTable()

	if _, ok := tab.Get("BTC-USDT"); ok {
		t.Fatalf("无行情时应返回 false")
	}

	now := time.Now()
	tab.Update("BTC-USDT", decimal.NewFromFloat(42000.5), now)

	q, ok := tab.Get("BTC-USDT")
	if !ok {
		t.Fatalf("应能读到快照")
	}
	if !q.Price.Equal(decimal.NewFromFloat(42000.5)) {
		t.Fatalf("价格不一致: %s", q.Price)
	}
	if !q.UpdatedAt.Equal(now) {
		t.Fatalf("更新时间不一致")
	}
}

func TestQuoteTable_IsFresh(t *testing.T) {
	tab := NewQuoteTable()
	tab.Update("BTC-USDT", decimal.NewFromInt(100), time.Now().Add(-time.Minute))

	if tab.IsFresh("BTC-USDT", 30*time.Second) {
		t.Fatalf("1 分钟前的行情在 30s 口径下应为过期")
	}
	if !tab.IsFresh("BTC-USDT", 5*time.Minute) {
		t.Fatalf("5 分钟口径下应为新鲜")
	}
	if tab.IsFresh("ETH-USDT", time.Hour) {
		t.Fatalf("无行情应为不新鲜")
	}
}

func TestQuoteTable_Reset(t *testing.T) {
	tab := NewQuoteTable()
	tab.Update("BTC-USDT", decimal.NewFromInt(100), time.Now())

	tab.Reset("BTC-USDT")
	if _, ok := tab.Get("BTC-USDT"); ok {
		t.Fatalf("Reset 后不应读到快照")
	}
}

// 并发读写不撕裂：读到的快照字段来自同一次写入
func TestQuoteTable_ConcurrentReadWrite(t *testing.T) {
	tab := NewQuoteTable()
	stop := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		i := int64(0)
		for {
			select {
			case <-stop:
				return
			default:
			}
			i++
			tab.Update("BTC-USDT", decimal.NewFromInt(i), time.Unix(i, 0))
		}
	}()

	for j := 0; j < 1000; j++ {
		q, ok := tab.Get("BTC-USDT")
		if !ok {
			continue
		}
		// 同一次写入的 price 与 UpdatedAt 必须一致
		if q.UpdatedAt.Unix() != q.Price.IntPart() {
			t.Fatalf("快照撕裂: price=%s updatedAt=%d", q.Price, q.UpdatedAt.Unix())
		}
	}
	close(stop)
	wg.Wait()
}
