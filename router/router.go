// router/router.go

package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/framelane/aegis/controller"
	"github.com/framelane/aegis/middleware"
)

func SetupRouter(
	controllers *controller.Controllers,
	sessionSecret []byte,
	rateLimitRequests int,
	rateLimitDuration time.Duration,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.RateLimiter(rateLimitRequests, rateLimitDuration))
	router.Use(middleware.SubjectExtractor(sessionSecret))

	api := router.Group("/api/v1")

	controllers.Access.RegisterRoutes(api)
	controllers.Audit.RegisterRoutes(api)
	controllers.Health.RegisterRoutes(api)

	return router
}
