package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/advisor"
	"github.com/betbot/tradecore/internal/controlplane"
	"github.com/betbot/tradecore/internal/coordinator"
	"github.com/betbot/tradecore/internal/engine"
	"github.com/betbot/tradecore/internal/feed"
	"github.com/betbot/tradecore/internal/gate"
	"github.com/betbot/tradecore/internal/history"
	"github.com/betbot/tradecore/internal/marketstate"
	"github.com/betbot/tradecore/internal/metrics"
	"github.com/betbot/tradecore/internal/position"
	"github.com/betbot/tradecore/internal/risk"
	"github.com/betbot/tradecore/internal/safety"
	"github.com/betbot/tradecore/pkg/config"
	"github.com/betbot/tradecore/pkg/logger"
	"github.com/betbot/tradecore/pkg/persistence"
	"github.com/betbot/tradecore/pkg/shutdown"
)

// 顾问连续失败多少次后熔断
const maxAdvisorErrors = 5

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	envPath := flag.String("env", ".env", ".env 文件路径")
	flag.Parse()

	// .env 可选，不存在不报错
	_ = godotenv.Load(*envPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Errorf("💥 引擎退出: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sd := shutdown.NewManager()

	// 行情快照表：闸门验证与安全校验都从这里取价
	quotes := marketstate.NewQuoteTable()

	g := gate.New(gate.Config{
		SignalCooldown:     cfg.Gate.SignalCooldown,
		ConfirmationWindow: cfg.Gate.ConfirmationWindow,
		SignalMaxAge:       cfg.Gate.SignalMaxAge,
		MaxOrdersPerSecond: cfg.Gate.MaxOrdersPerSecond,
	}, quotes)

	if cfg.Gate.SnapshotDir != "" {
		store := persistence.NewJSONFileService(cfg.Gate.SnapshotDir).NewStore("gate", "dedup", "v1")
		if err := g.LoadSnapshot(store); err != nil {
			logger.Warnf("去重表快照恢复失败: %v", err)
		}
		sd.OnShutdown(func(ctx context.Context) {
			if err := g.SaveSnapshot(store); err != nil {
				logger.Warnf("去重表快照保存失败: %v", err)
			}
		})
	}

	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveErrors: maxAdvisorErrors})
	equity := risk.NewEquityBook(decimal.NewFromFloat(cfg.Strategy.MaxDrawdownRatio))
	machine := position.NewMachine(cfg.Strategy, equity, breaker)

	status := engine.NewStatusSource(quotes, nil)
	coord, err := coordinator.New(cfg.Coordinator, safety.NewBasicValidator(decimal.Zero), status)
	if err != nil {
		return err
	}

	var aiSource advisor.Source
	if cfg.Advisor.Endpoint != "" {
		aiSource = advisor.NewAIClient(cfg.Advisor)
	}
	ruleSource := advisor.NewRuleSource("trend-follow", trendFollowRule(cfg))

	var recorder *history.Recorder
	if cfg.HistoryDir != "" {
		recorder, err = history.Open(history.OpenOptions{Path: cfg.HistoryDir, TTL: 30 * 24 * time.Hour})
		if err != nil {
			return err
		}
		sd.OnShutdown(func(ctx context.Context) { _ = recorder.Close() })
	}

	eng := engine.New(engine.Options{
		Config:     cfg,
		Gate:       g,
		Machine:    machine,
		Coord:      coord,
		Quotes:     quotes,
		AISource:   aiSource,
		RuleSource: ruleSource,
		Recorder:   recorder,
		Breaker:    breaker,
	})

	if cfg.Feed.Endpoint != "" {
		stream := feed.NewStream(cfg.Feed, quotes)
		stream.OnTick(eng.HandleTick)
		if err := stream.Connect(ctx); err != nil {
			return err
		}
		sd.OnShutdown(func(ctx context.Context) { stream.Close() })
	}

	if cfg.ControlListenAddr != "" {
		cp := controlplane.New(eng)
		go func() {
			if err := cp.Run(ctx, cfg.ControlListenAddr); err != nil {
				logger.Warnf("控制面退出: %v", err)
			}
		}()
	}

	if cfg.MetricsListenAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.MetricsListenAddr); err != nil {
			logger.Warnf("metrics 服务启动失败: %v", err)
		}
	}

	eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sd.Shutdown(shutdownCtx)
	return nil
}
