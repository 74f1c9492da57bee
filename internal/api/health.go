package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger is anything with a liveness check: the database, the Redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	database Pinger
	redis    Pinger
	logger   *zap.Logger
}

// NewHealthHandler takes a nil redis when Redis is not configured.
func NewHealthHandler(database, redis Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{database: database, redis: redis, logger: logger}
}

// Health handles GET /v1/health. Load balancers call it without a token.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	database := "ok"
	if err := h.database.Ping(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		database = "unavailable"
		status = http.StatusServiceUnavailable
	}

	redis := "disabled"
	if h.redis != nil {
		redis = "ok"
		if err := h.redis.Ping(ctx); err != nil {
			// Redis is an accelerator; the service still works without it.
			h.logger.Warn("redis health check failed", zap.Error(err))
			redis = "unavailable"
		}
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "database": database, "redis": redis})
}
