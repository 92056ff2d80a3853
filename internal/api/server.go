// Package api exposes the operator and signal-engine surface: intent
// submission, worker control, emergency halt, and health queries.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quanthive/tradegate/internal/engine"
	"github.com/quanthive/tradegate/internal/monitoring"
	"github.com/quanthive/tradegate/pkg/types"
)

// Server wraps the HTTP control plane around the engine manager.
type Server struct {
	manager *engine.Manager
	router  *gin.Engine
}

// NewServer builds the router. The manager must already be started.
func NewServer(manager *engine.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{manager: manager, router: router}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/intents", s.submitIntent)
		v1.GET("/health", s.health)
		v1.GET("/risk", s.riskState)
		v1.POST("/halt", s.forceHalt)
		v1.DELETE("/halt", s.releaseHalt)
		v1.POST("/workers/:account/:venue/start", s.startWorker)
		v1.POST("/workers/:account/:venue/stop", s.stopWorker)
	}
	router.GET("/metrics", gin.WrapH(monitoring.NewMetricsHandler()))

	return s
}

// Run serves the control plane on the given address.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type intentRequest struct {
	AccountID      string  `json:"account_id" binding:"required"`
	VenueID        string  `json:"venue_id" binding:"required"`
	Symbol         string  `json:"symbol" binding:"required"`
	Side           string  `json:"side" binding:"required"`
	RequestedUSD   float64 `json:"requested_usd"`
	ForceLiquidate bool    `json:"force_liquidate"`
	Reason         string  `json:"reason"`
}

func (s *Server) submitIntent(c *gin.Context) {
	var req intentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"accepted": false, "reason": err.Error()})
		return
	}

	var side types.OrderSide
	switch req.Side {
	case string(types.SideBuy):
		side = types.SideBuy
	case string(types.SideSell):
		side = types.SideSell
	default:
		c.JSON(http.StatusBadRequest, gin.H{"accepted": false, "reason": "side must be BUY or SELL"})
		return
	}
	if side == types.SideBuy && req.RequestedUSD <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"accepted": false, "reason": "buy intents require a positive requested_usd"})
		return
	}

	err := s.manager.SubmitIntent(types.OrderIntent{
		AccountID:      req.AccountID,
		VenueID:        req.VenueID,
		Symbol:         req.Symbol,
		Side:           side,
		RequestedUSD:   req.RequestedUSD,
		ForceLiquidate: req.ForceLiquidate,
		Reason:         req.Reason,
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"accepted": false, "reason": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"workers": s.manager.WorkerStatuses(),
		"venues":  s.manager.VenueHealths(),
	})
}

func (s *Server) riskState(c *gin.Context) {
	eng := s.manager.RiskEngine()
	vol, dd := eng.Metrics()
	c.JSON(http.StatusOK, gin.H{
		"state":       eng.State(),
		"limits":      eng.Limits(),
		"volatility":  vol,
		"drawdown":    dd,
		"halt_reason": eng.HaltReason(),
		"history":     eng.History(),
	})
}

type haltRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) forceHalt(c *gin.Context) {
	var req haltRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a reason is required to halt"})
		return
	}
	s.manager.RiskEngine().ForceHalt(req.Reason)
	c.JSON(http.StatusOK, gin.H{"state": s.manager.RiskEngine().State()})
}

func (s *Server) releaseHalt(c *gin.Context) {
	if err := s.manager.RiskEngine().ReleaseHalt(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.manager.RiskEngine().State()})
}

func (s *Server) startWorker(c *gin.Context) {
	if err := s.manager.StartWorker(c.Param("account"), c.Param("venue")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) stopWorker(c *gin.Context) {
	if err := s.manager.StopWorker(c.Param("account"), c.Param("venue")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}
