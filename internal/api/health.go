package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports liveness; with a checker it also reports dependency
// readiness.
func HealthCheck(checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker != nil {
			if err := checker.Check(c.Request.Context()); err != nil {
				RespondError(c, http.StatusServiceUnavailable, "unhealthy", err)
				return
			}
		}
		c.String(http.StatusOK, "ok")
	}
}
