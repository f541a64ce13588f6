package advisor

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/pkg/config"
	"github.com/betbot/tradecore/pkg/logger"
)

var advisorLog = logger.WithField("module", "advisor")

// adviceRequest AI 顾问请求体
type adviceRequest struct {
	Snapshot []MarketContext `json:"snapshot"`
}

// adviceResponse AI 顾问响应体
type adviceResponse struct {
	Decisions []adviceItem `json:"decisions"`
}

type adviceItem struct {
	Symbol          string          `json:"symbol"`
	Action          string          `json:"action"`
	Confidence      float64         `json:"confidence"`
	Score           float64         `json:"score"`
	Reason          string          `json:"reason"`
	SuggestedPrice  decimal.Decimal `json:"suggested_price"`
	SuggestedAmount decimal.Decimal `json:"suggested_amount"`
}

// AIClient AI 顾问 HTTP 客户端
//
// resty 会自动从环境变量读取代理配置。429 限流按
// Retry-After 头退避重试。任何失败只表示本周期无 AI
// 决策，由调用方按"来源无决策"处理。
type AIClient struct {
	client *resty.Client
}

func NewAIClient(cfg config.AdvisorConfig) *AIClient {
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时优先使用 Retry-After 头
			if resp.StatusCode() == 429 {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 5 * time.Second, nil
			}
			return 0, nil
		})

	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &AIClient{client: client}
}

func (c *AIClient) Name() string { return "ai" }

// Advise 请求一轮 AI 建议决策
func (c *AIClient) Advise(ctx context.Context, snapshot []MarketContext) ([]domain.AdvisoryDecision, error) {
	var out adviceResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(adviceRequest{Snapshot: snapshot}).
		SetResult(&out).
		Post("/v1/advice")
	if err != nil {
		return nil, errors.Wrap(err, "advisor request failed")
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("advisor http %d: %s", resp.StatusCode(), resp.String())
	}

	decisions := make([]domain.AdvisoryDecision, 0, len(out.Decisions))
	for _, item := range out.Decisions {
		decisions = append(decisions, domain.AdvisoryDecision{
			Symbol:          item.Symbol,
			Action:          domain.Action(item.Action),
			Confidence:      item.Confidence,
			Score:           item.Score,
			Reason:          item.Reason,
			SuggestedPrice:  item.SuggestedPrice,
			SuggestedAmount: item.SuggestedAmount,
			Source:          domain.SourceAI,
		})
	}
	advisorLog.Debugf("📊 AI 建议 %d 条 (snapshot=%d)", len(decisions), len(snapshot))
	return decisions, nil
}
