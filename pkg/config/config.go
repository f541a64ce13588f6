package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// GateConfig 信号闸门配置
type GateConfig struct {
	SignalCooldown     time.Duration // 同 key 信号冷却期
	ConfirmationWindow time.Duration // 假突破确认窗口
	SignalMaxAge       time.Duration // 信号最大年龄
	MaxOrdersPerSecond int           // 全局每秒最大确认数（滑动窗口）
	CleanupInterval    time.Duration // 过期条目清理间隔
	SnapshotDir        string        // 去重表快照目录（可选，为空则不持久化）
}

// StrategyConfig 状态机配置
type StrategyConfig struct {
	MinConfidence      float64         // 开仓最低置信度
	MaxDrawdownRatio   float64         // 最大回撤比例，达到即熔断
	MinTrendStrength   float64         // 最低趋势强度（ADX 口径）
	EnableRiskControl  bool            // 是否启用回撤熔断
	EnableMarketFilter bool            // 是否启用市场适宜性过滤
	StopLossDistance   decimal.Decimal // 默认止损距离（比例）
	TakeProfitDistance decimal.Decimal // 默认止盈距离（比例）
	OrderSize          decimal.Decimal // 默认下单大小
}

// CoordinatorConfig 决策协调器配置
type CoordinatorConfig struct {
	AIWeight        float64         // AI 权重
	RuleWeight      float64         // 规则权重（与 AIWeight 之和必须为 1）
	MaxTradeAmount  decimal.Decimal // 单笔交易金额上限
	SymbolWhitelist []string        // 交易对白名单（空 = 不限制）
}

// AdvisorConfig AI 顾问服务配置
type AdvisorConfig struct {
	Endpoint string        // AI 顾问 HTTP 端点（为空则不启用 AI 源）
	APIKey   string        // 鉴权密钥（仅从环境变量读取）
	Timeout  time.Duration // 单周期建议请求超时
}

// FeedConfig 行情流配置
type FeedConfig struct {
	Endpoint         string   // WebSocket 行情端点（为空则不启用）
	Symbols          []string // 订阅的交易对
	ReconnectMaxWait time.Duration
}

// Config 应用配置
type Config struct {
	Gate        GateConfig
	Strategy    StrategyConfig
	Coordinator CoordinatorConfig
	Advisor     AdvisorConfig
	Feed        FeedConfig

	CoordinationInterval time.Duration // 协调周期间隔
	HistoryDir           string        // 决策历史存储目录（badger，为空则不记录）
	ControlListenAddr    string        // 控制面监听地址（为空则不启动）
	MetricsListenAddr    string        // metrics/debug 监听地址（为空则不启动）

	LogLevel string // 日志级别
	LogFile  string // 日志文件路径（可选）
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	Gate struct {
		SignalCooldownMs     int    `yaml:"signal_cooldown_ms" json:"signal_cooldown_ms"`
		ConfirmationWindowMs int    `yaml:"confirmation_window_ms" json:"confirmation_window_ms"`
		SignalMaxAgeMs       int    `yaml:"signal_max_age_ms" json:"signal_max_age_ms"`
		MaxOrdersPerSecond   int    `yaml:"max_orders_per_second" json:"max_orders_per_second"`
		CleanupIntervalMs    int    `yaml:"cleanup_interval_ms" json:"cleanup_interval_ms"`
		SnapshotDir          string `yaml:"snapshot_dir" json:"snapshot_dir"`
	} `yaml:"gate" json:"gate"`
	Strategy struct {
		MinConfidence      float64 `yaml:"min_confidence" json:"min_confidence"`
		MaxDrawdownRatio   float64 `yaml:"max_drawdown_ratio" json:"max_drawdown_ratio"`
		MinTrendStrength   float64 `yaml:"min_trend_strength" json:"min_trend_strength"`
		EnableRiskControl  *bool   `yaml:"enable_risk_control" json:"enable_risk_control"`
		EnableMarketFilter *bool   `yaml:"enable_market_filter" json:"enable_market_filter"`
		StopLossDistance   float64 `yaml:"stop_loss_distance" json:"stop_loss_distance"`
		TakeProfitDistance float64 `yaml:"take_profit_distance" json:"take_profit_distance"`
		OrderSize          float64 `yaml:"order_size" json:"order_size"`
	} `yaml:"strategy" json:"strategy"`
	Coordinator struct {
		AIWeight        float64  `yaml:"ai_weight" json:"ai_weight"`
		RuleWeight      float64  `yaml:"rule_weight" json:"rule_weight"`
		MaxTradeAmount  float64  `yaml:"max_trade_amount" json:"max_trade_amount"`
		SymbolWhitelist []string `yaml:"symbol_whitelist" json:"symbol_whitelist"`
	} `yaml:"coordinator" json:"coordinator"`
	Advisor struct {
		Endpoint  string `yaml:"endpoint" json:"endpoint"`
		TimeoutMs int    `yaml:"timeout_ms" json:"timeout_ms"`
	} `yaml:"advisor" json:"advisor"`
	Feed struct {
		Endpoint           string   `yaml:"endpoint" json:"endpoint"`
		Symbols            []string `yaml:"symbols" json:"symbols"`
		ReconnectMaxWaitMs int      `yaml:"reconnect_max_wait_ms" json:"reconnect_max_wait_ms"`
	} `yaml:"feed" json:"feed"`

	CoordinationIntervalMs int    `yaml:"coordination_interval_ms" json:"coordination_interval_ms"`
	HistoryDir             string `yaml:"history_dir" json:"history_dir"`
	ControlListenAddr      string `yaml:"control_listen_addr" json:"control_listen_addr"`
	MetricsListenAddr      string `yaml:"metrics_listen_addr" json:"metrics_listen_addr"`
	LogLevel               string `yaml:"log_level" json:"log_level"`
	LogFile                string `yaml:"log_file" json:"log_file"`
}

// Load 加载配置（优先级：配置文件 > 环境变量 > 默认值）
//
// 配置错误在加载时同步拒绝，决策路径上不再出现配置错误。
func Load(filePath string) (*Config, error) {
	var cf *ConfigFile
	if filePath != "" {
		loaded, err := loadConfigFile(filePath)
		if err != nil {
			return nil, err
		}
		cf = loaded
	}

	config := &Config{
		Gate: GateConfig{
			SignalCooldown:     msOr(cfInt(cf, func(c *ConfigFile) int { return c.Gate.SignalCooldownMs }), "SIGNAL_COOLDOWN_MS", 60_000),
			ConfirmationWindow: msOr(cfInt(cf, func(c *ConfigFile) int { return c.Gate.ConfirmationWindowMs }), "CONFIRMATION_WINDOW_MS", 30_000),
			SignalMaxAge:       msOr(cfInt(cf, func(c *ConfigFile) int { return c.Gate.SignalMaxAgeMs }), "SIGNAL_MAX_AGE_MS", 120_000),
			MaxOrdersPerSecond: intOr(cfInt(cf, func(c *ConfigFile) int { return c.Gate.MaxOrdersPerSecond }), "MAX_ORDERS_PER_SECOND", 5),
			CleanupInterval:    msOr(cfInt(cf, func(c *ConfigFile) int { return c.Gate.CleanupIntervalMs }), "GATE_CLEANUP_INTERVAL_MS", 60_000),
			SnapshotDir:        strOr(cfStr(cf, func(c *ConfigFile) string { return c.Gate.SnapshotDir }), "GATE_SNAPSHOT_DIR", ""),
		},
		Strategy: StrategyConfig{
			MinConfidence:      floatOr(cfFloat(cf, func(c *ConfigFile) float64 { return c.Strategy.MinConfidence }), "MIN_CONFIDENCE", 0.65),
			MaxDrawdownRatio:   floatOr(cfFloat(cf, func(c *ConfigFile) float64 { return c.Strategy.MaxDrawdownRatio }), "MAX_DRAWDOWN_RATIO", 0.2),
			MinTrendStrength:   floatOr(cfFloat(cf, func(c *ConfigFile) float64 { return c.Strategy.MinTrendStrength }), "MIN_TREND_STRENGTH", 20),
			EnableRiskControl:  boolOr(cfBool(cf, func(c *ConfigFile) *bool { return c.Strategy.EnableRiskControl }), "ENABLE_RISK_CONTROL", true),
			EnableMarketFilter: boolOr(cfBool(cf, func(c *ConfigFile) *bool { return c.Strategy.EnableMarketFilter }), "ENABLE_MARKET_FILTER", true),
			StopLossDistance:   decOr(cfFloat(cf, func(c *ConfigFile) float64 { return c.Strategy.StopLossDistance }), 0.02),
			TakeProfitDistance: decOr(cfFloat(cf, func(c *ConfigFile) float64 { return c.Strategy.TakeProfitDistance }), 0.05),
			OrderSize:          decOr(cfFloat(cf, func(c *ConfigFile) float64 { return c.Strategy.OrderSize }), 1),
		},
		Coordinator: CoordinatorConfig{
			AIWeight:        floatOr(cfFloat(cf, func(c *ConfigFile) float64 { return c.Coordinator.AIWeight }), "AI_WEIGHT", 0.6),
			RuleWeight:      floatOr(cfFloat(cf, func(c *ConfigFile) float64 { return c.Coordinator.RuleWeight }), "RULE_WEIGHT", 0.4),
			MaxTradeAmount:  decOr(cfFloat(cf, func(c *ConfigFile) float64 { return c.Coordinator.MaxTradeAmount }), 1000),
			SymbolWhitelist: cfStrs(cf, func(c *ConfigFile) []string { return c.Coordinator.SymbolWhitelist }),
		},
		Advisor: AdvisorConfig{
			Endpoint: strOr(cfStr(cf, func(c *ConfigFile) string { return c.Advisor.Endpoint }), "ADVISOR_ENDPOINT", ""),
			APIKey:   getEnv("ADVISOR_API_KEY", ""),
			Timeout:  msOr(cfInt(cf, func(c *ConfigFile) int { return c.Advisor.TimeoutMs }), "ADVISOR_TIMEOUT_MS", 5_000),
		},
		Feed: FeedConfig{
			Endpoint:         strOr(cfStr(cf, func(c *ConfigFile) string { return c.Feed.Endpoint }), "FEED_ENDPOINT", ""),
			Symbols:          cfStrs(cf, func(c *ConfigFile) []string { return c.Feed.Symbols }),
			ReconnectMaxWait: msOr(cfInt(cf, func(c *ConfigFile) int { return c.Feed.ReconnectMaxWaitMs }), "FEED_RECONNECT_MAX_WAIT_MS", 30_000),
		},
		CoordinationInterval: msOr(cfInt(cf, func(c *ConfigFile) int { return c.CoordinationIntervalMs }), "COORDINATION_INTERVAL_MS", 15_000),
		HistoryDir:           strOr(cfStr(cf, func(c *ConfigFile) string { return c.HistoryDir }), "HISTORY_DIR", ""),
		ControlListenAddr:    strOr(cfStr(cf, func(c *ConfigFile) string { return c.ControlListenAddr }), "CONTROL_LISTEN_ADDR", ""),
		MetricsListenAddr:    strOr(cfStr(cf, func(c *ConfigFile) string { return c.MetricsListenAddr }), "METRICS_LISTEN_ADDR", ""),
		LogLevel:             strOr(cfStr(cf, func(c *ConfigFile) string { return c.LogLevel }), "LOG_LEVEL", "info"),
		LogFile:              strOr(cfStr(cf, func(c *ConfigFile) string { return c.LogFile }), "LOG_FILE", "logs/engine.log"),
	}

	if len(config.Feed.Symbols) == 0 {
		if envVal := getEnv("FEED_SYMBOLS", ""); envVal != "" {
			config.Feed.Symbols = splitList(envVal)
		}
	}
	if len(config.Coordinator.SymbolWhitelist) == 0 {
		if envVal := getEnv("SYMBOL_WHITELIST", ""); envVal != "" {
			config.Coordinator.SymbolWhitelist = splitList(envVal)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	globalConfig = config
	configFilePath = filePath
	return config, nil
}

// Get 获取全局配置（Load 之后有效）
func Get() *Config {
	return globalConfig
}

// Validate 同步校验配置，不合法的配置在启动时拒绝
func (c *Config) Validate() error {
	if c.Gate.SignalCooldown <= 0 {
		return fmt.Errorf("gate.signal_cooldown_ms 必须为正数")
	}
	if c.Gate.ConfirmationWindow <= 0 {
		return fmt.Errorf("gate.confirmation_window_ms 必须为正数")
	}
	if c.Gate.SignalMaxAge <= 0 {
		return fmt.Errorf("gate.signal_max_age_ms 必须为正数")
	}
	if c.Gate.MaxOrdersPerSecond <= 0 {
		return fmt.Errorf("gate.max_orders_per_second 必须为正数")
	}
	if c.Strategy.MinConfidence < 0 || c.Strategy.MinConfidence > 1 {
		return fmt.Errorf("strategy.min_confidence 必须在 [0,1] 内")
	}
	if c.Strategy.MaxDrawdownRatio <= 0 || c.Strategy.MaxDrawdownRatio > 1 {
		return fmt.Errorf("strategy.max_drawdown_ratio 必须在 (0,1] 内")
	}
	if sum := c.Coordinator.AIWeight + c.Coordinator.RuleWeight; !weightsSumToOne(sum) {
		return fmt.Errorf("coordinator 权重之和必须为 1（当前 %.6f）", sum)
	}
	if c.Coordinator.AIWeight < 0 || c.Coordinator.RuleWeight < 0 {
		return fmt.Errorf("coordinator 权重不能为负")
	}
	if c.Coordinator.MaxTradeAmount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("coordinator.max_trade_amount 必须为正数")
	}
	return nil
}

func weightsSumToOne(sum float64) bool {
	const eps = 1e-9
	return sum > 1-eps && sum < 1+eps
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cf ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &cf, nil
}

// ----- 多源取值辅助（优先级：配置文件 > 环境变量 > 默认值） -----

func cfInt(cf *ConfigFile, getter func(*ConfigFile) int) int {
	if cf == nil {
		return 0
	}
	return getter(cf)
}

func cfFloat(cf *ConfigFile, getter func(*ConfigFile) float64) float64 {
	if cf == nil {
		return 0
	}
	return getter(cf)
}

func cfStr(cf *ConfigFile, getter func(*ConfigFile) string) string {
	if cf == nil {
		return ""
	}
	return getter(cf)
}

func cfStrs(cf *ConfigFile, getter func(*ConfigFile) []string) []string {
	if cf == nil {
		return nil
	}
	return getter(cf)
}

func cfBool(cf *ConfigFile, getter func(*ConfigFile) *bool) *bool {
	if cf == nil {
		return nil
	}
	return getter(cf)
}

func msOr(fileVal int, envKey string, def int) time.Duration {
	return time.Duration(intOr(fileVal, envKey, def)) * time.Millisecond
}

func intOr(fileVal int, envKey string, def int) int {
	if fileVal > 0 {
		return fileVal
	}
	if envVal := getEnv(envKey, ""); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func floatOr(fileVal float64, envKey string, def float64) float64 {
	if fileVal > 0 {
		return fileVal
	}
	if envVal := getEnv(envKey, ""); envVal != "" {
		if v, err := strconv.ParseFloat(envVal, 64); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func strOr(fileVal, envKey, def string) string {
	if fileVal != "" {
		return fileVal
	}
	return getEnv(envKey, def)
}

func boolOr(fileVal *bool, envKey string, def bool) bool {
	if fileVal != nil {
		return *fileVal
	}
	if envVal := getEnv(envKey, ""); envVal != "" {
		return envVal == "true" || envVal == "1"
	}
	return def
}

func decOr(fileVal float64, def float64) decimal.Decimal {
	if fileVal > 0 {
		return decimal.NewFromFloat(fileVal)
	}
	return decimal.NewFromFloat(def)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
