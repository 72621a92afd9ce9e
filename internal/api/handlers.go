package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"execution-core/internal/events"
	"execution-core/internal/microrisk"
)

func (s *Server) getStatus(c *gin.Context) {
	resp := gin.H{
		"meta":      s.Meta,
		"timestamp": time.Now().UTC(),
	}
	if s.Safety != nil {
		resp["safety"] = s.Safety.Snapshot()
	}
	if s.Dispatcher != nil {
		resp["degradation"] = s.Dispatcher.Degradation().String()
		resp["event_rejects"] = s.Dispatcher.RejectCount()
	}
	if s.Engine != nil {
		resp["risk_cycles"] = s.Engine.Cycles()
		resp["risk_loop_stopped"] = s.Engine.Stopped()
		resp["open_shadows"] = s.Engine.Shadows().Count()
	}
	if s.Metrics != nil {
		resp["metrics"] = s.Metrics.GetSnapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// shadowView is the JSON shape of one position shadow.
type shadowView struct {
	Symbol         string    `json:"symbol"`
	Qty            int64     `json:"qty"`
	AvgEntry       float64   `json:"avg_entry"`
	Strategy       string    `json:"strategy"`
	CurrentPrice   float64   `json:"current_price"`
	PnlPct         float64   `json:"pnl_pct"`
	HighestPrice   float64   `json:"highest_price"`
	LowestPrice    float64   `json:"lowest_price"`
	MAE            float64   `json:"mae"`
	MFE            float64   `json:"mfe"`
	TrailingActive bool      `json:"trailing_active"`
	TrailingStop   float64   `json:"trailing_stop,omitempty"`
	Frozen         bool      `json:"frozen"`
	EntryTime      time.Time `json:"entry_time"`
	LastSyncAt     time.Time `json:"last_sync_at"`
}

func toShadowView(p *microrisk.PositionShadow) shadowView {
	return shadowView{
		Symbol:         p.Symbol,
		Qty:            p.Qty,
		AvgEntry:       p.AvgEntry,
		Strategy:       string(p.Strategy),
		CurrentPrice:   p.CurrentPrice,
		PnlPct:         p.PnlPct(),
		HighestPrice:   p.HighestPrice,
		LowestPrice:    p.LowestPrice,
		MAE:            p.MAE,
		MFE:            p.MFE,
		TrailingActive: p.TrailingActive,
		TrailingStop:   p.TrailingStop,
		Frozen:         p.Frozen,
		EntryTime:      p.EntryTime,
		LastSyncAt:     p.LastSyncAt,
	}
}

func (s *Server) getShadows(c *gin.Context) {
	if s.Engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "risk engine not running"})
		return
	}
	items := s.Engine.Shadows().Items()
	views := make([]shadowView, 0, len(items))
	for _, p := range items {
		views = append(views, toShadowView(p))
	}
	c.JSON(http.StatusOK, gin.H{"shadows": views, "count": len(views)})
}

func (s *Server) getQueues(c *gin.Context) {
	if s.Dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dispatcher not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"queues":      s.Dispatcher.Stats(),
		"degradation": s.Dispatcher.Degradation().String(),
		"rejects":     s.Dispatcher.RejectCount(),
	})
}

func (s *Server) getRecentAlerts(c *gin.Context) {
	if s.Alerts == nil {
		c.JSON(http.StatusOK, gin.H{"alerts": []any{}})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": s.Alerts.Recent(limit)})
}

func (s *Server) getFeedbackSummary(c *gin.Context) {
	if s.Feedback == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "feedback not available"})
		return
	}
	symbol := c.Param("symbol")
	days := 7
	if raw := c.Query("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			days = n
		}
	}
	c.JSON(http.StatusOK, s.Feedback.GetSummary(c.Request.Context(), symbol, days))
}

func (s *Server) getRecentFeedback(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not available"})
		return
	}
	symbol := c.Param("symbol")
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	rows, err := s.DB.FetchRecentFeedback(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": rows, "count": len(rows)})
}

type orderRequest struct {
	Symbol      string  `json:"symbol" binding:"required"`
	Side        string  `json:"side" binding:"required"`
	Qty         int64   `json:"qty" binding:"required"`
	Price       float64 `json:"price"`
	Type        string  `json:"type"`
	StrategyTag string  `json:"strategy_tag"`
	Urgency     string  `json:"urgency"`
}

// submitOrder publishes a signal event for the pipeline to pick up. The
// call is fire-and-forget; the outcome surfaces through the event stream
// and the executions table.
func (s *Server) submitOrder(c *gin.Context) {
	if s.Dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dispatcher not running"})
		return
	}
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type == "" {
		req.Type = "LIMIT"
	}

	e := events.New(events.TypeSignalUpdate, map[string]any{
		"symbol":       req.Symbol,
		"side":         req.Side,
		"qty":          req.Qty,
		"price":        req.Price,
		"type":         req.Type,
		"strategy_tag": req.StrategyTag,
		"urgency":      req.Urgency,
	})
	if !s.Dispatcher.Dispatch(c.Request.Context(), e) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "order intake paused by safety state"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"event_id": e.ID, "seq": e.Seq})
}

type recoveryRequest struct {
	OperatorApproved bool `json:"operator_approved"`
}

func (s *Server) requestRecovery(c *gin.Context) {
	if s.Safety == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "safety manager not running"})
		return
	}
	var req recoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	transition := s.Safety.RequestRecovery(req.OperatorApproved)
	status := http.StatusOK
	if !transition.Applied {
		status = http.StatusConflict
	}
	c.JSON(status, transition)
}
