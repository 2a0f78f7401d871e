// controller/health_controller.go
package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/framelane/aegis/cache"
	"github.com/framelane/aegis/resilience"
)

type HealthController struct {
	orchestrator *resilience.Orchestrator
	cache        *cache.TTLCache
}

func NewHealthController(orchestrator *resilience.Orchestrator, ttlCache *cache.TTLCache) *HealthController {
	return &HealthController{
		orchestrator: orchestrator,
		cache:        ttlCache,
	}
}

// RegisterRoutes registers the API routes
func (hc *HealthController) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/health", hc.SystemHealth)
	r.GET("/cache/stats", hc.CacheStats)
}

// SystemHealth endpoint. An unhealthy system answers 503 so load balancers
// can act on the status without parsing the body.
func (hc *HealthController) SystemHealth(c *gin.Context) {
	health := hc.orchestrator.GetSystemHealth()

	code := http.StatusOK
	if health.Status == resilience.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health)
}

// CacheStats endpoint
func (hc *HealthController) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, hc.cache.GetStats())
}
