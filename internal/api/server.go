package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"execution-core/internal/events"
	"execution-core/internal/feedback"
	"execution-core/internal/microrisk"
	"execution-core/internal/monitor"
	"execution-core/internal/safety"
	"execution-core/pkg/db"
)

// Server exposes the runtime's operational surface over HTTP.
type Server struct {
	Router     *gin.Engine
	DB         *db.Database
	Safety     *safety.Manager
	Dispatcher *events.Dispatcher
	Engine     *microrisk.Engine
	Feedback   *feedback.Aggregator
	Metrics    *monitor.SystemMetrics
	Alerts     *monitor.Recorder
	Meta       SystemMeta
}

// SystemMeta describes the runtime configuration exposed for status.
type SystemMeta struct {
	DryRun      bool     `json:"dry_run"`
	Symbols     []string `json:"symbols"`
	UseMockFeed bool     `json:"use_mock_feed"`
	Version     string   `json:"version"`
}

func NewServer(database *db.Database, safetyMgr *safety.Manager, dispatcher *events.Dispatcher, engine *microrisk.Engine, fb *feedback.Aggregator, metrics *monitor.SystemMetrics, alerts *monitor.Recorder, meta SystemMeta) *Server {
	r := gin.New()

	// Middleware stack (order matters)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:     r,
		DB:         database,
		Safety:     safetyMgr,
		Dispatcher: dispatcher,
		Engine:     engine,
		Feedback:   fb,
		Metrics:    metrics,
		Alerts:     alerts,
		Meta:       meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/shadows", s.getShadows)
		api.GET("/queues", s.getQueues)
		api.GET("/alerts/recent", s.getRecentAlerts)
		api.GET("/feedback/:symbol/summary", s.getFeedbackSummary)
		api.GET("/feedback/:symbol/recent", s.getRecentFeedback)
		api.POST("/orders", s.submitOrder)
		api.POST("/safety/recover", s.requestRecovery)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
