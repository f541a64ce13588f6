package coordinator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/internal/metrics"
	"github.com/betbot/tradecore/internal/safety"
	"github.com/betbot/tradecore/pkg/config"
	"github.com/betbot/tradecore/pkg/logger"
)

var coordLog = logger.WithField("module", "coordinator")

// 权重之和允许的浮点容差
const weightEpsilon = 1e-9

// Coordinator 决策协调器
//
// 把 AI 顾问与规则引擎各自独立产出的建议决策融合成每个
// symbol 至多一条最终决策。冲突按 |score| 强度裁决而非
// 平均：强置信的单一来源不应被弱置信的反对意见稀释，
// CombinedScore 仍保留加权和供下游分析。
type Coordinator struct {
	mu         sync.RWMutex
	aiWeight   float64
	ruleWeight float64

	maxTradeAmount decimal.Decimal
	whitelist      map[string]struct{}

	validator safety.Validator
	status    safety.StatusProvider
}

func New(cfg config.CoordinatorConfig, validator safety.Validator, status safety.StatusProvider) (*Coordinator, error) {
	c := &Coordinator{
		maxTradeAmount: cfg.MaxTradeAmount,
		validator:      validator,
		status:         status,
	}
	if err := c.SetWeights(cfg.AIWeight, cfg.RuleWeight); err != nil {
		return nil, err
	}
	c.SetWhitelist(cfg.SymbolWhitelist)
	return c, nil
}

// SetWeights 更新来源权重。和不为 1 的更新同步拒绝，
// 绝不带病进入决策路径。
func (c *Coordinator) SetWeights(ai, rule float64) error {
	if ai < 0 || rule < 0 {
		return fmt.Errorf("weights must be non-negative: ai=%v rule=%v", ai, rule)
	}
	if math.Abs(ai+rule-1) > weightEpsilon {
		return fmt.Errorf("weights must sum to 1: ai=%v rule=%v", ai, rule)
	}

	c.mu.Lock()
	c.aiWeight = ai
	c.ruleWeight = rule
	c.mu.Unlock()
	return nil
}

// SetWhitelist 更新交易白名单；空名单表示不限制
func (c *Coordinator) SetWhitelist(symbols []string) {
	wl := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wl[s] = struct{}{}
	}

	c.mu.Lock()
	c.whitelist = wl
	c.mu.Unlock()
}

func (c *Coordinator) allowed(symbol string) bool {
	if len(c.whitelist) == 0 {
		return true
	}
	_, ok := c.whitelist[symbol]
	return ok
}

// Coordinate 执行一个协调周期
//
// 算法：AI 决策按 symbol 建索引；逐条处理规则决策（跳过
// hold）。无同 symbol AI 决策则独立放行（source=rule），
// 有冲突则比较 |ruleScore| 与 |aiScore|，强者的动作与建议
// 价/量胜出（source=coordinated，平局保留 AI 动作）。
// 未被规则触达的 AI 决策独立放行（source=ai）。随后丢弃
// hold 与白名单外 symbol，裁剪金额上限，交安全校验器
// 把关，仅返回通过者。
func (c *Coordinator) Coordinate(aiDecisions, ruleDecisions []domain.AdvisoryDecision) []domain.CoordinatedDecision {
	c.mu.RLock()
	wA, wR := c.aiWeight, c.ruleWeight
	c.mu.RUnlock()

	now := time.Now()

	aiBySymbol := make(map[string]domain.AdvisoryDecision, len(aiDecisions))
	for _, d := range aiDecisions {
		aiBySymbol[d.Symbol] = d
	}
	consumed := make(map[string]bool, len(aiDecisions))

	var merged []domain.CoordinatedDecision

	for _, rule := range ruleDecisions {
		if rule.Action.IsHold() {
			continue
		}

		ai, ok := aiBySymbol[rule.Symbol]
		if !ok {
			merged = append(merged, standalone(rule, wA, wR, now))
			continue
		}
		consumed[rule.Symbol] = true

		combined := ai.Score*wA + rule.Score*wR

		winner := ai
		if ai.Action != rule.Action && math.Abs(rule.Score) > math.Abs(ai.Score) {
			winner = rule
		}
		if ai.Action != rule.Action {
			coordLog.Infof("📊 决策冲突: %s ai=%s(%.2f) rule=%s(%.2f) → %s",
				rule.Symbol, ai.Action, ai.Score, rule.Action, rule.Score, winner.Action)
		}

		merged = append(merged, domain.CoordinatedDecision{
			Symbol:          rule.Symbol,
			Action:          winner.Action,
			Confidence:      winner.Confidence,
			CombinedScore:   combined,
			AIScore:         ai.Score,
			RuleScore:       rule.Score,
			Reason:          winner.Reason,
			SuggestedPrice:  winner.SuggestedPrice,
			SuggestedAmount: winner.SuggestedAmount,
			Source:          domain.SourceCoordinated,
			DecidedAt:       now,
		})
	}

	// 未被任何规则决策触达的 AI 决策独立放行
	for _, ai := range aiDecisions {
		if consumed[ai.Symbol] || ai.Action.IsHold() {
			continue
		}
		merged = append(merged, standalone(ai, wA, wR, now))
	}

	return c.filter(merged)
}

// standalone 单来源决策直通，CombinedScore 仍按加权和计算
func standalone(d domain.AdvisoryDecision, wA, wR float64, now time.Time) domain.CoordinatedDecision {
	out := domain.CoordinatedDecision{
		Symbol:          d.Symbol,
		Action:          d.Action,
		Confidence:      d.Confidence,
		Reason:          d.Reason,
		SuggestedPrice:  d.SuggestedPrice,
		SuggestedAmount: d.SuggestedAmount,
		Source:          d.Source,
		DecidedAt:       now,
	}
	if d.Source == domain.SourceAI {
		out.AIScore = d.Score
		out.CombinedScore = d.Score * wA
	} else {
		out.RuleScore = d.Score
		out.CombinedScore = d.Score * wR
	}
	return out
}

// filter 白名单、金额裁剪与安全校验
func (c *Coordinator) filter(decisions []domain.CoordinatedDecision) []domain.CoordinatedDecision {
	c.mu.RLock()
	maxAmount := c.maxTradeAmount
	c.mu.RUnlock()

	out := make([]domain.CoordinatedDecision, 0, len(decisions))
	for _, d := range decisions {
		if d.Action.IsHold() {
			continue
		}

		c.mu.RLock()
		ok := c.allowed(d.Symbol)
		c.mu.RUnlock()
		if !ok {
			coordLog.Debugf("⏳ 白名单外，丢弃: %s", d.Symbol)
			continue
		}

		if maxAmount.IsPositive() && d.SuggestedAmount.GreaterThan(maxAmount) {
			coordLog.Debugf("✂️ 金额裁剪: %s %s → %s", d.Symbol, d.SuggestedAmount, maxAmount)
			d.SuggestedAmount = maxAmount
		}

		if c.validator != nil {
			req := domain.TradeRequest{
				Symbol: d.Symbol,
				Action: d.Action,
				Price:  d.SuggestedPrice,
				Amount: d.SuggestedAmount,
			}
			var market domain.MarketStatus
			var account domain.AccountStatus
			if c.status != nil {
				market = c.status.MarketStatus(d.Symbol)
				account = c.status.AccountStatus()
			} else {
				market = domain.MarketStatus{Symbol: d.Symbol, Tradable: true}
			}
			if result := c.validator.Validate(req, market, account); !result.Passed {
				metrics.DecisionsDroppedSafety.Add(1)
				continue
			}
		}

		metrics.DecisionsCoordinated.Add(1)
		out = append(out, d)
	}
	return out
}
