package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/flywheel-engine/pkg/models"
)

const (
	rateLimitRequests = 30
	rateLimitWindow   = 60 * time.Second
)

// SetupRouter wires the read-only status surface: GET /status, the live
// event stream, CORS and the per-IP rate limit. There are no write
// endpoints.
func SetupRouter(projector *Projector, hub *Hub, allowedOrigin string) *gin.Engine {
	r := gin.Default()
	r.HandleMethodNotAllowed = true

	r.Use(corsMiddleware(allowedOrigin))

	limiter := NewRateLimiter(rateLimitRequests, rateLimitWindow)

	r.GET("/status", limiter.Middleware(), func(c *gin.Context) {
		view, err := projector.Snapshot()
		if err != nil {
			log.Printf("[Status] Snapshot failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to assemble status"})
			return
		}
		c.JSON(http.StatusOK, view)
	})

	r.GET("/rounds", limiter.Middleware(), func(c *gin.Context) {
		roundType := c.DefaultQuery("type", models.RoundTypeBuy)
		if roundType != models.RoundTypeBuy && roundType != models.RoundTypeReward {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be buy or reward"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		rounds, err := projector.RecentRounds(roundType, limit)
		if err != nil {
			log.Printf("[Status] Round history failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read rounds"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"type": roundType, "rounds": rounds})
	})

	// Preflights answer 204 only on routes that exist; unknown paths still
	// fall through to the 404 handler.
	preflight := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	r.OPTIONS("/status", preflight)
	r.OPTIONS("/rounds", preflight)

	if hub != nil {
		r.GET("/stream", hub.Subscribe)
		r.OPTIONS("/stream", preflight)
	}

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return r
}

// corsMiddleware applies the configured origin policy: wildcard passes
// everything through; an explicit origin is echoed only on exact match,
// with Vary: Origin so caches keep the answers apart.
func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if allowedOrigin == "*" || allowedOrigin == "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			c.Writer.Header().Set("Vary", "Origin")
			if origin := c.Request.Header.Get("Origin"); origin == allowedOrigin {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control")
		c.Writer.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		c.Next()
	}
}
