package advisor

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/domain"
)

// MarketContext 单个 symbol 的市场上下文，每个协调周期
// 发给各顾问来源作为决策输入
type MarketContext struct {
	Symbol    string              `json:"symbol"`
	State     domain.SymbolState  `json:"state"`
	LastPrice decimal.Decimal     `json:"last_price"`
	Regime    domain.MarketRegime `json:"regime"`
	Position  *domain.Position    `json:"position,omitempty"`
}

// Source 顾问来源接口。AI 顾问与规则引擎都实现它。
// 返回 error 表示本周期该来源无决策，不是引擎故障。
type Source interface {
	Name() string
	Advise(ctx context.Context, snapshot []MarketContext) ([]domain.AdvisoryDecision, error)
}

// RuleFunc 规则引擎求值函数
type RuleFunc func(snapshot []MarketContext) []domain.AdvisoryDecision

// RuleSource 进程内规则引擎适配器，把调用方提供的求值
// 函数包装成顾问来源，并统一标记 source=rule
type RuleSource struct {
	name string
	fn   RuleFunc
}

func NewRuleSource(name string, fn RuleFunc) *RuleSource {
	return &RuleSource{name: name, fn: fn}
}

func (r *RuleSource) Name() string { return r.name }

func (r *RuleSource) Advise(_ context.Context, snapshot []MarketContext) ([]domain.AdvisoryDecision, error) {
	decisions := r.fn(snapshot)
	for i := range decisions {
		decisions[i].Source = domain.SourceRule
	}
	return decisions, nil
}
