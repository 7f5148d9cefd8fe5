package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"storefront-events/internal/auth"
	"storefront-events/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// HealthChecker reports dependency health.
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

type Deps struct {
	Orders        *service.OrderService
	Checkout      *service.CheckoutService
	Webhooks      *service.Reconciler
	Notifications *service.NotificationService
	Announcements *service.AnnouncementService
	Tokens        *auth.Tokens
	// Realtime serves the websocket endpoint.
	Realtime    http.Handler
	Health      HealthChecker
	CORSOrigins []string
	Logger      *slog.Logger
}

type Server struct {
	engine *gin.Engine
	deps   Deps
	log    *slog.Logger
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     deps.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	s := &Server{engine: r, deps: deps, log: deps.Logger.With("component", "http")}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.health)
	if s.deps.Realtime != nil {
		s.engine.GET("/ws", gin.WrapH(s.deps.Realtime))
	}

	v1 := s.engine.Group("/api/v1")

	// The provider signs the raw body, so nothing may parse it first.
	v1.POST("/webhooks/stripe", s.stripeWebhook)

	api := v1.Group("", s.requireAuth())
	{
		orders := api.Group("/orders")
		orders.POST("", s.createOrder)
		orders.GET("", s.listOrders)
		orders.GET("/:id", s.getOrder)
		orders.PATCH("/:id/status", s.transitionOrder)
		orders.POST("/:id/cancel", s.cancelOrder)
		orders.POST("/:id/mark-paid", s.markPaid)

		api.POST("/payments/intents", s.createPaymentIntent)

		notifications := api.Group("/notifications")
		notifications.GET("", s.listNotifications)
		notifications.GET("/unread-count", s.unreadCount)
		notifications.PATCH("/read-all", s.markAllRead)
		notifications.PATCH("/:id/read", s.markRead)
		notifications.DELETE("", s.clearNotifications)

		api.POST("/admin/broadcast", s.broadcast)
	}
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "up"})
		return
	}
	stats := s.deps.Health.Health(c.Request.Context())
	status := http.StatusOK
	if stats["status"] == "down" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}
