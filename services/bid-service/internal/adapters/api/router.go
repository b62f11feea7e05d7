package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/floroz/gavel-estates/pkg/auth"
	"github.com/floroz/gavel-estates/services/bid-service/internal/metrics"
)

// RouteRegistrar mounts additional routes, such as the WebSocket gateway.
type RouteRegistrar interface {
	RegisterRoutes(r gin.IRoutes)
}

// NewRouter builds the gin engine: health and metrics, the REST API under /api/v1,
// and any extra registrars at the root.
func NewRouter(h *Handler, resolver auth.IdentityResolver, logger *slog.Logger, extra ...RouteRegistrar) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), metrics.GinMiddleware())

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	public := r.Group("/api/v1", auth.Middleware(resolver, false))
	public.GET("/auctions/:id", h.GetAuction)
	public.GET("/auctions/:id/bids", h.ListBids)

	private := r.Group("/api/v1", auth.Middleware(resolver, true))
	private.POST("/auctions", h.CreateAuction)
	private.POST("/auctions/:id/schedule", h.ScheduleAuction)
	private.POST("/auctions/:id/invitations", h.InviteBidders)
	private.POST("/auctions/:id/watch", h.Watch)
	private.DELETE("/auctions/:id/watch", h.Unwatch)
	private.POST("/auctions/:id/bids", h.PlaceBid)
	private.POST("/auctions/:id/cancel", h.CancelAuction)

	for _, reg := range extra {
		reg.RegisterRoutes(r)
	}
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
