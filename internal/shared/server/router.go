package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ledger-backend/internal/documents"
	"ledger-backend/internal/services/health"
	"ledger-backend/internal/shared/config"
	"ledger-backend/internal/shared/metrics"
	"ledger-backend/internal/shared/server/middleware"
)

// RouterDeps carries the handlers the router mounts.
type RouterDeps struct {
	Config          config.Config
	DocumentHandler *documents.Handler
	Health          *health.Service
	// Limiter is shared across routers in tests; nil builds a fresh one.
	Limiter *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/health", func(c *gin.Context) {
		status := deps.Health.Status(c.Request.Context())
		code := http.StatusOK
		if !status.OK {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	r.GET("/metrics", metrics.Handler())

	limit := middleware.RateLimit(middleware.RateLimitConfig{
		Limiter: deps.Limiter,
		Rules: map[string]middleware.RateLimitRule{
			"DEFAULT": {Rate: deps.Config.RateLimitRPS, Burst: deps.Config.RateLimitBurst},
		},
	})
	deps.DocumentHandler.RegisterRoutes(r, limit)

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":5000"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
