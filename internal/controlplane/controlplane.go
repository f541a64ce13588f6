package controlplane

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/betbot/tradecore/internal/engine"
	"github.com/betbot/tradecore/pkg/logger"
)

var cpLog = logger.WithField("module", "controlplane")

// Server 控制面：只读状态查询 + 风控复位入口。
// 不承载任何交易路径，挂掉不影响决策引擎。
type Server struct {
	engine *engine.Engine
}

func New(e *engine.Engine) *Server {
	return &Server{engine: e}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/positions", s.handlePositions)
	api.GET("/equity/:symbol", s.handleEquity)
	api.GET("/history/:symbol", s.handleHistory)
	api.POST("/risk/reset", s.handleRiskReset)
	api.POST("/equity/report", s.handleEquityReport)

	return r
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"gate":   s.engine.GateStats(),
		"states": s.engine.Machine().States(),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Machine().Positions())
}

func (s *Server) handleEquity(c *gin.Context) {
	symbol := c.Param("symbol")
	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"drawdown": s.engine.Machine().Drawdown(symbol),
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	rec := s.engine.Recorder()
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history recording disabled"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	decisions, err := rec.Recent(c.Param("symbol"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, decisions)
}

type riskResetRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

// handleRiskReset RISK_CONTROL 状态的唯一出口
func (s *Server) handleRiskReset(c *gin.Context) {
	var req riskResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.engine.ResetRisk(req.Symbol)
	cpLog.Infof("🔄 风控复位: %s (operator)", req.Symbol)
	c.JSON(http.StatusOK, gin.H{"symbol": req.Symbol, "state": s.engine.Machine().State(req.Symbol)})
}

type equityReportRequest struct {
	Symbol string          `json:"symbol" binding:"required"`
	Equity decimal.Decimal `json:"equity" binding:"required"`
}

func (s *Server) handleEquityReport(c *gin.Context) {
	var req equityReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.engine.ReportEquity(req.Symbol, req.Equity)
	c.JSON(http.StatusOK, gin.H{
		"symbol":   req.Symbol,
		"drawdown": s.engine.Machine().Drawdown(req.Symbol),
	})
}

// Run 启动控制面 HTTP 服务，ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errC := make(chan error, 1)
	go func() {
		cpLog.Infof("✅ 控制面已启动: %s", addr)
		errC <- srv.ListenAndServe()
	}()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
