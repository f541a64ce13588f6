package safety

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/pkg/logger"
)

var safetyLog = logger.WithField("module", "safety")

// Check 单项校验结果
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// ValidationResult 安全校验结果，任一项失败即整体失败
type ValidationResult struct {
	Passed bool    `json:"passed"`
	Checks []Check `json:"checks"`
}

// Validator 外部安全校验器接口。
// 协调器把每个幸存决策交给它做最终把关。
type Validator interface {
	Validate(req domain.TradeRequest, market domain.MarketStatus, account domain.AccountStatus) ValidationResult
}

// StatusProvider 为安全校验提供市场与账户快照
type StatusProvider interface {
	MarketStatus(symbol string) domain.MarketStatus
	AccountStatus() domain.AccountStatus
}

// BasicValidator 默认安全校验器：可交易性、余额、敞口上限。
// 调用方可替换为自己的实现。
type BasicValidator struct {
	MaxExposure decimal.Decimal // 总敞口上限，零值表示不限制
}

func NewBasicValidator(maxExposure decimal.Decimal) *BasicValidator {
	return &BasicValidator{MaxExposure: maxExposure}
}

func (v *BasicValidator) Validate(req domain.TradeRequest, market domain.MarketStatus, account domain.AccountStatus) ValidationResult {
	var result ValidationResult
	result.Passed = true

	add := func(name string, passed bool, detail string) {
		result.Checks = append(result.Checks, Check{Name: name, Passed: passed, Detail: detail})
		if !passed {
			result.Passed = false
		}
	}

	add("tradable", market.Tradable, fmt.Sprintf("symbol=%s", req.Symbol))

	// 平仓动作不占用新资金，余额与敞口校验只针对开仓。
	// 余额未知（非正）时跳过余额校验。
	opening := req.Action == domain.ActionBuy || req.Action == domain.ActionSell
	if opening {
		if account.Balance.IsPositive() {
			add("balance", account.Balance.GreaterThanOrEqual(req.Amount),
				fmt.Sprintf("balance=%s amount=%s", account.Balance, req.Amount))
		}

		if v.MaxExposure.IsPositive() {
			next := account.OpenExposure.Add(req.Amount)
			add("exposure", next.LessThanOrEqual(v.MaxExposure),
				fmt.Sprintf("exposure=%s limit=%s", next, v.MaxExposure))
		}
	}

	if !result.Passed {
		safetyLog.Warnf("⛔ 安全校验未通过: %s %s amount=%s", req.Symbol, req.Action, req.Amount)
	}
	return result
}
