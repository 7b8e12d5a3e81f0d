package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck is the unauthenticated liveness probe. It only proves the
// process is serving; job workers and postgres have their own signals
// (heartbeat_at on claimed rows).
func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
