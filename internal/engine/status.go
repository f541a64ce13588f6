package engine

import (
	"time"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/marketstate"
)

// 行情过期阈值：超过则视为不可交易
const quoteFreshness = 30 * time.Second

// StatusSource 为安全校验器提供市场与账户快照。
// 行情来自 QuoteTable，过期即判定不可交易。
type StatusSource struct {
	quotes  *marketstate.QuoteTable
	account AccountSource
}

func NewStatusSource(quotes *marketstate.QuoteTable, account AccountSource) *StatusSource {
	return &StatusSource{quotes: quotes, account: account}
}

func (s *StatusSource) MarketStatus(symbol string) domain.MarketStatus {
	status := domain.MarketStatus{Symbol: symbol}
	q, ok := s.quotes.Get(symbol)
	if !ok {
		return status
	}
	status.LastPrice = q.Price
	status.Tradable = time.Since(q.UpdatedAt) <= quoteFreshness
	return status
}

func (s *StatusSource) AccountStatus() domain.AccountStatus {
	if s.account == nil {
		return domain.AccountStatus{}
	}
	return s.account()
}
